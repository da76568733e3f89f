package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"resource-service/common/httputil"
	"resource-service/common/metrics"

	"github.com/go-chi/chi/v5"
)

const checkTimeout = 3 * time.Second

// Check probes one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Checker runs every registered probe and reports the combined result.
type Checker struct {
	checks  []Check
	metrics *metrics.HealthMetrics
}

func NewChecker(m *metrics.HealthMetrics, checks ...Check) *Checker {
	return &Checker{checks: checks, metrics: m}
}

// Names lists the dependencies the checker probes.
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		names = append(names, check.Name)
	}
	return names
}

// Run probes all dependencies concurrently. The map holds "up" or "down" per
// dependency; ok is true only when every probe succeeded.
func (c *Checker) Run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(c.checks))
		ok      = true
	)
	for _, check := range c.checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			start := time.Now()
			err := check.Probe(ctx)
			c.metrics.RecordDependencyCheck(ctx, check.Name, time.Since(start), err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[check.Name] = "down"
				ok = false
				return
			}
			results[check.Name] = "up"
		}(check)
	}
	wg.Wait()
	return results, ok
}

type Handler struct {
	checker *Checker
}

func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
}

type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondWithJSON(w, http.StatusOK, Response{Status: "ok"})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	results, ok := h.checker.Run(r.Context())
	if !ok {
		httputil.RespondWithJSON(w, http.StatusServiceUnavailable, Response{Status: "unavailable", Checks: results})
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, Response{Status: "ready", Checks: results})
}
