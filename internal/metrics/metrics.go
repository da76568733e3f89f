package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	logins            metric.Int64Counter
	loginFailures     metric.Int64Counter
	devicesEvicted    metric.Int64Counter
	studentsEnrolled  metric.Int64Counter
	resourcesUploaded metric.Int64Counter
	resourcesDeleted  metric.Int64Counter
	accessDenied      metric.Int64Counter
	blobsOrphaned     metric.Int64Counter
}

func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.logins, err = meter.Int64Counter(
		"resource_service.logins",
		metric.WithDescription("Total number of successful logins"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, err
	}

	m.loginFailures, err = meter.Int64Counter(
		"resource_service.login_failures",
		metric.WithDescription("Total number of rejected login attempts"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, err
	}

	m.devicesEvicted, err = meter.Int64Counter(
		"resource_service.devices.evicted",
		metric.WithDescription("Total number of devices evicted to admit a new one"),
		metric.WithUnit("{device}"),
	)
	if err != nil {
		return nil, err
	}

	m.studentsEnrolled, err = meter.Int64Counter(
		"resource_service.students.enrolled",
		metric.WithDescription("Total number of students enrolled"),
		metric.WithUnit("{student}"),
	)
	if err != nil {
		return nil, err
	}

	m.resourcesUploaded, err = meter.Int64Counter(
		"resource_service.resources.uploaded",
		metric.WithDescription("Total number of resources uploaded"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	m.resourcesDeleted, err = meter.Int64Counter(
		"resource_service.resources.deleted",
		metric.WithDescription("Total number of resources deleted"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	m.accessDenied, err = meter.Int64Counter(
		"resource_service.access.denied",
		metric.WithDescription("Total number of resource requests denied by batch membership"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.blobsOrphaned, err = meter.Int64Counter(
		"resource_service.blobs.orphaned",
		metric.WithDescription("Total number of stored objects left without a record"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordLogin(ctx context.Context, role string) {
	if m != nil && m.logins != nil {
		m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
	}
}

func (m *Metrics) RecordLoginFailure(ctx context.Context, role, reason string) {
	if m != nil && m.loginFailures != nil {
		m.loginFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("reason", reason),
		))
	}
}

func (m *Metrics) RecordDevicesEvicted(ctx context.Context, n int) {
	if m != nil && m.devicesEvicted != nil && n > 0 {
		m.devicesEvicted.Add(ctx, int64(n))
	}
}

func (m *Metrics) RecordStudentEnrolled(ctx context.Context) {
	if m != nil && m.studentsEnrolled != nil {
		m.studentsEnrolled.Add(ctx, 1)
	}
}

func (m *Metrics) RecordResourceUploaded(ctx context.Context) {
	if m != nil && m.resourcesUploaded != nil {
		m.resourcesUploaded.Add(ctx, 1)
	}
}

func (m *Metrics) RecordResourcesDeleted(ctx context.Context, n int) {
	if m != nil && m.resourcesDeleted != nil && n > 0 {
		m.resourcesDeleted.Add(ctx, int64(n))
	}
}

func (m *Metrics) RecordAccessDenied(ctx context.Context) {
	if m != nil && m.accessDenied != nil {
		m.accessDenied.Add(ctx, 1)
	}
}

func (m *Metrics) RecordBlobOrphaned(ctx context.Context) {
	if m != nil && m.blobsOrphaned != nil {
		m.blobsOrphaned.Add(ctx, 1)
	}
}

// NewMock creates a no-op Metrics instance for testing
// The returned Metrics will safely ignore all Record* calls
func NewMock() *Metrics {
	return &Metrics{}
}
