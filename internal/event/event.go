// Package event defines the domain events emitted after state changes and
// the best-effort dispatcher that hands them to a broker.
package event

import (
	"context"
	"log/slog"
	"time"

	"resource-service/common/metrics"
)

type Type string

const (
	DeviceEvicted    Type = "device.evicted"
	ResourceUploaded Type = "resource.uploaded"
	ResourceDeleted  Type = "resource.deleted"
	BatchDeleted     Type = "batch.deleted"
	BlobOrphaned     Type = "blob.orphaned"
)

type Event struct {
	Type       Type        `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Payload    interface{} `json:"payload"`
}

type DeviceEvictedPayload struct {
	StudentID int64  `json:"studentId"`
	DeviceID  string `json:"deviceId"`
}

type ResourceUploadedPayload struct {
	ResourceID int64 `json:"resourceId"`
	BatchID    int64 `json:"batchId"`
}

type ResourceDeletedPayload struct {
	ResourceID int64 `json:"resourceId"`
}

type BatchDeletedPayload struct {
	BatchID          int64   `json:"batchId"`
	DeletedResources []int64 `json:"deletedResources"`
}

// BlobOrphanedPayload marks a stored object that no record references.
type BlobOrphanedPayload struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Publisher delivers one event to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Name() string
	Close() error
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, typ Type, payload interface{})
}

// Dispatcher emits events without ever failing the calling request.
type Dispatcher struct {
	publisher Publisher
	metrics   *metrics.EventMetrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewDispatcher(publisher Publisher, m *metrics.EventMetrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (d *Dispatcher) Emit(ctx context.Context, typ Type, payload interface{}) {
	ev := Event{Type: typ, OccurredAt: d.now().UTC(), Payload: payload}

	start := time.Now()
	err := d.publisher.Publish(ctx, ev)
	d.metrics.RecordPublish(ctx, d.publisher.Name(), string(typ), time.Since(start), err)

	if err != nil {
		d.logger.WarnContext(ctx, "failed to publish event",
			"event_type", typ,
			"broker", d.publisher.Name(),
			"error", err,
		)
	}
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Name() string                         { return "none" }
func (Nop) Close() error                         { return nil }
