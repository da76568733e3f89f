package auth

import (
	"log/slog"
	"net"
	"net/http"

	"resource-service/common/apperror"
	"resource-service/common/httputil"
	"resource-service/internal/ratelimit"
	"resource-service/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errTooManyAttempts = apperror.TooManyRequests("too many login attempts")

type Handler struct {
	service  *Service
	guard    *ratelimit.Guard
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler wires login and logout. guard may be nil to disable throttling.
func NewHandler(service *Service, guard *ratelimit.Guard, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		guard:    guard,
		validate: httputil.NewValidator(),
		logger:   logger,
	}
}

func (h *Handler) RegisterAdminPublicRoutes(r chi.Router) {
	r.Post("/login", h.AdminLogin)
}

func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/logout", h.AdminLogout)
}

func (h *Handler) RegisterStudentPublicRoutes(r chi.Router) {
	r.Post("/login", h.StudentLogin)
}

func (h *Handler) RegisterStudentRoutes(r chi.Router) {
	r.Post("/logout", h.StudentLogout)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) throttled(r *http.Request, email string) bool {
	key := normalizeEmail(email) + "|" + clientIP(r)
	return !h.guard.Allow(r.Context(), key)
}

func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}
	if h.throttled(r, req.Email) {
		httputil.RespondWithError(w, errTooManyAttempts)
		return
	}

	resp, err := h.service.AdminLogin(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, "admin login", err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, resp)
}

// AdminLogout has nothing to revoke: admin tokens are not device-bound.
func (h *Handler) AdminLogout(w http.ResponseWriter, r *http.Request) {
	httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *Handler) StudentLogin(w http.ResponseWriter, r *http.Request) {
	var req StudentLoginRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}
	if h.throttled(r, req.Email) {
		httputil.RespondWithError(w, errTooManyAttempts)
		return
	}

	resp, err := h.service.StudentLogin(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, "student login", err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) StudentLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := token.FromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}

	if err := h.service.StudentLogout(r.Context(), claims); err != nil {
		h.handleServiceError(w, r, "student logout", err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperror.KindOf(err) == apperror.KindDependency {
		h.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	httputil.RespondWithError(w, err)
}
