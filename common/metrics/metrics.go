package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
)

// Metrics groups the infrastructure instruments shared by repositories,
// event publishers and health probes.
type Metrics struct {
	Database *DatabaseMetrics
	Events   *EventMetrics
	Health   *HealthMetrics
	HTTP     *HTTPMetrics
	logger   *slog.Logger
}

func New(ctx context.Context, serviceName string, logger *slog.Logger) (*Metrics, error) {
	meter := otel.Meter(serviceName)

	database, err := NewDatabaseMetrics(meter)
	if err != nil {
		return nil, err
	}

	events, err := NewEventMetrics(meter)
	if err != nil {
		return nil, err
	}

	health, err := NewHealthMetrics(meter)
	if err != nil {
		return nil, err
	}

	httpMetrics, err := NewHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "metrics collectors initialized successfully")

	return &Metrics{
		Database: database,
		Events:   events,
		Health:   health,
		HTTP:     httpMetrics,
		logger:   logger,
	}, nil
}

// NewMock creates a no-op Metrics instance for testing
// The returned Metrics will safely ignore all Record* calls
func NewMock() *Metrics {
	return &Metrics{
		Database: &DatabaseMetrics{},
		Events:   &EventMetrics{},
		Health:   &HealthMetrics{dependencies: map[string]*DependencyStatus{}},
		HTTP:     &HTTPMetrics{},
	}
}
