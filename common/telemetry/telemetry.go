package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"resource-service/common/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
	ExporterNone       = "none"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Exporter       string
	OTLPEndpoint   string
}

type Telemetry struct {
	MeterProvider *metric.MeterProvider
	Metrics       *metrics.Metrics
	exporter      string
}

func InitMeterProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*metric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []metric.Option{metric.WithResource(res)}

	switch cfg.Exporter {
	case ExporterOTLP:
		logger.Info("initializing OTel metrics", "exporter", cfg.Exporter, "endpoint", cfg.OTLPEndpoint)
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(10*time.Second))))
	case ExporterPrometheus:
		logger.Info("initializing OTel metrics", "exporter", cfg.Exporter)
		reader, err := otelprom.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(reader))
	case ExporterNone, "":
		logger.Info("metrics export disabled")
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}

	meterProvider := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	return meterProvider, nil
}

func Init(ctx context.Context, cfg Config, logger *slog.Logger) (*Telemetry, error) {
	meterProvider, err := InitMeterProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m, err := metrics.New(ctx, cfg.ServiceName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	meter := otel.Meter(cfg.ServiceName)
	if err := m.Health.RegisterServiceInfo(ctx, meter, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		logger.Warn("failed to register service info", "error", err)
	}

	return &Telemetry{
		MeterProvider: meterProvider,
		Metrics:       m,
		exporter:      cfg.Exporter,
	}, nil
}

// Handler serves the scrape endpoint when the prometheus exporter is active.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter != ExporterPrometheus {
		return nil
	}
	return promhttp.Handler()
}

func (t *Telemetry) Shutdown(ctx context.Context, logger *slog.Logger) error {
	if t == nil || t.MeterProvider == nil {
		return nil
	}
	logger.Info("shutting down OTel meter provider")
	if err := t.MeterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}
