package metrics

import (
	"context"
	"database/sql"
	"time"

	"resource-service/common/apperror"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DatabaseMetrics instruments the single Postgres pool shared by the batch,
// student, resource and membership repositories.
//
// Every repository statement lands in db.query.duration keyed by operation
// ("select", "insert", "update", "delete") and table. A failed statement is
// also counted in db.query.errors with its apperror kind, so a burst of
// conflicts on batch_students reads differently from a lost connection.
type DatabaseMetrics struct {
	poolOpen   metric.Int64ObservableGauge
	poolInUse  metric.Int64ObservableGauge
	statements metric.Float64Histogram
	failures   metric.Int64Counter
	pool       *sql.DB
}

// Upload rows and membership fan-outs stay in the low milliseconds; a batch
// delete that cascades and waits on row locks may take seconds.
var queryBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

func NewDatabaseMetrics(meter metric.Meter) (*DatabaseMetrics, error) {
	open, err := meter.Int64ObservableGauge(
		"db.connections.open",
		metric.WithDescription("Open connections in the resource service pool"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	inUse, err := meter.Int64ObservableGauge(
		"db.connections.in_use",
		metric.WithDescription("Pool connections currently running a statement or transaction"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	statements, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Repository statement duration by operation and table"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(queryBuckets...),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"db.query.errors",
		metric.WithDescription("Failed repository statements by operation, table and error kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		poolOpen:   open,
		poolInUse:  inUse,
		statements: statements,
		failures:   failures,
	}, nil
}

// RegisterDB starts reporting the pool gauges for db. The app calls it once
// after the connection is opened; before that the gauges report nothing.
func (dm *DatabaseMetrics) RegisterDB(db *sql.DB, meter metric.Meter) error {
	dm.pool = db

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if dm.pool == nil {
				return nil
			}
			stats := dm.pool.Stats()
			observer.ObserveInt64(dm.poolOpen, int64(stats.OpenConnections))
			observer.ObserveInt64(dm.poolInUse, int64(stats.InUse))
			return nil
		},
		dm.poolOpen,
		dm.poolInUse,
	)

	return err
}

// RecordQuery is called by the repositories after each statement. A nil or
// mock DatabaseMetrics drops the sample.
func (dm *DatabaseMetrics) RecordQuery(ctx context.Context, operation string, table string, duration time.Duration, err error) {
	if dm == nil || dm.statements == nil {
		return
	}

	dm.statements.Record(ctx, duration.Seconds(), metric.WithAttributes(statementAttrs(operation, table, nil)...))

	if err != nil && dm.failures != nil {
		dm.failures.Add(ctx, 1, metric.WithAttributes(statementAttrs(operation, table, err)...))
	}
}

// statementAttrs labels a statement. The driver message is left out since
// it can quote row values such as student emails.
func statementAttrs(operation, table string, err error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("table", table),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error_kind", string(apperror.KindOf(err))))
	}
	return attrs
}
