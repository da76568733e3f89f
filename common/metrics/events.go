package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type EventMetrics struct {
	published       metric.Int64Counter
	publishErrors   metric.Int64Counter
	publishDuration metric.Float64Histogram
}

func NewEventMetrics(meter metric.Meter) (*EventMetrics, error) {
	em := &EventMetrics{}

	var err error

	em.published, err = meter.Int64Counter(
		"events.published",
		metric.WithDescription("Total number of domain events published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	em.publishErrors, err = meter.Int64Counter(
		"events.publish_errors",
		metric.WithDescription("Total number of domain events that failed to publish"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 100µs .. 1s
	em.publishDuration, err = meter.Float64Histogram(
		"events.publish_duration",
		metric.WithDescription("Time spent handing an event to the broker"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return nil, err
	}

	return em, nil
}

func (em *EventMetrics) RecordPublish(ctx context.Context, broker, eventType string, duration time.Duration, err error) {
	if em == nil || em.published == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("broker", broker),
		attribute.String("event_type", eventType),
	}

	em.published.Add(ctx, 1, metric.WithAttributes(attrs...))
	em.publishDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if err != nil {
		em.publishErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
