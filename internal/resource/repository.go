package resource

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"resource-service/common/apperror"
	"resource-service/common/metrics"
	"resource-service/internal/batch"
	"resource-service/internal/db"
	"resource-service/internal/membership"

	"github.com/uptrace/bun"
)

var ErrResourceNotFound = apperror.NotFound("resource not found")

// Store persists resource records together with their batch edges.
type Store interface {
	// CreateLinked inserts res and links it to batchID in one transaction.
	CreateLinked(ctx context.Context, res *Resource, batchID int64) (*Resource, error)
	GetByID(ctx context.Context, id int64) (*Resource, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Resource, error)
	ListByBatch(ctx context.Context, batchID int64) ([]Resource, error)
	// Delete removes the record and its edges and returns the removed row.
	Delete(ctx context.Context, id int64) (*Resource, error)
	// DeleteBatch removes the batch, its edges and every resource left
	// without a batch, and returns those resources.
	DeleteBatch(ctx context.Context, batchID int64) ([]Resource, error)
}

// EdgeStore is the part of the membership graph used inside transactions.
type EdgeStore interface {
	LinkResource(ctx context.Context, tx bun.IDB, batchID, resourceID int64) error
	ResourceEdges(ctx context.Context, tx bun.IDB, batchID int64) ([]membership.BatchResource, error)
	DetachBatch(ctx context.Context, tx bun.IDB, batchID int64) error
}

type BatchLocker interface {
	Lock(ctx context.Context, tx bun.IDB, id int64) error
	Delete(ctx context.Context, tx bun.IDB, id int64) error
}

type repository struct {
	db      *bun.DB
	edges   EdgeStore
	batches BatchLocker
	metrics *metrics.Metrics
}

func NewRepository(db *bun.DB, edges EdgeStore, batches BatchLocker, m *metrics.Metrics) Store {
	return &repository{
		db:      db,
		edges:   edges,
		batches: batches,
		metrics: m,
	}
}

func (r *repository) CreateLinked(ctx context.Context, res *Resource, batchID int64) (*Resource, error) {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		start := time.Now()
		_, err := tx.NewInsert().Model(res).Returning("*").Exec(ctx)
		r.metrics.Database.RecordQuery(ctx, "insert", "resources", time.Since(start), err)
		if err != nil {
			return err
		}
		return r.edges.LinkResource(ctx, tx, batchID, res.ID)
	})
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, batch.ErrBatchNotFound
		}
		return nil, err
	}
	return res, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Resource, error) {
	start := time.Now()
	res := new(Resource)
	err := r.db.NewSelect().Model(res).Where("id = ?", id).Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		r.metrics.Database.RecordQuery(ctx, "select", "resources", time.Since(start), nil)
		return nil, ErrResourceNotFound
	}
	r.metrics.Database.RecordQuery(ctx, "select", "resources", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []int64) ([]Resource, error) {
	if len(ids) == 0 {
		return []Resource{}, nil
	}

	start := time.Now()
	var resources []Resource
	err := r.db.NewSelect().
		Model(&resources).
		Where("id IN (?)", bun.In(ids)).
		Order("created_at DESC", "id DESC").
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "resources", time.Since(start), err)

	return resources, err
}

func (r *repository) ListByBatch(ctx context.Context, batchID int64) ([]Resource, error) {
	start := time.Now()
	var resources []Resource
	err := r.db.NewSelect().
		Model(&resources).
		Join("JOIN batch_resources AS br ON br.resource_id = r.id").
		Where("br.batch_id = ?", batchID).
		Order("r.created_at DESC", "r.id DESC").
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "resources", time.Since(start), err)

	return resources, err
}

func (r *repository) Delete(ctx context.Context, id int64) (*Resource, error) {
	res := new(Resource)

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		start := time.Now()
		err := tx.NewSelect().Model(res).Where("id = ?", id).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			r.metrics.Database.RecordQuery(ctx, "select", "resources", time.Since(start), nil)
			return ErrResourceNotFound
		}
		r.metrics.Database.RecordQuery(ctx, "select", "resources", time.Since(start), err)
		if err != nil {
			return err
		}

		start = time.Now()
		_, err = tx.NewDelete().Model((*Resource)(nil)).Where("id = ?", id).Exec(ctx)
		r.metrics.Database.RecordQuery(ctx, "delete", "resources", time.Since(start), err)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// lockResourcesOfBatch holds every resource of batchID FOR UPDATE, so a
// concurrent share of one of them to another batch waits until the cascade
// has been decided.
func (r *repository) lockResourcesOfBatch(ctx context.Context, tx bun.Tx, batchID int64) error {
	var ids []int64
	start := time.Now()
	err := tx.NewSelect().
		Model((*Resource)(nil)).
		Column("id").
		Where("id IN (SELECT resource_id FROM batch_resources WHERE batch_id = ?)", batchID).
		Order("id ASC").
		For("UPDATE").
		Scan(ctx, &ids)
	r.metrics.Database.RecordQuery(ctx, "select", "resources", time.Since(start), err)
	return err
}

func (r *repository) DeleteBatch(ctx context.Context, batchID int64) ([]Resource, error) {
	var deleted []Resource

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.batches.Lock(ctx, tx, batchID); err != nil {
			return err
		}
		if err := r.lockResourcesOfBatch(ctx, tx, batchID); err != nil {
			return err
		}

		rows, err := r.edges.ResourceEdges(ctx, tx, batchID)
		if err != nil {
			return err
		}
		before := make([]Edge, 0, len(rows))
		for _, row := range rows {
			before = append(before, Edge{BatchID: row.BatchID, ResourceID: row.ResourceID})
		}

		if err := r.edges.DetachBatch(ctx, tx, batchID); err != nil {
			return err
		}

		orphans := PlanOrphans(before, EdgesOfBatch(before, batchID))
		if len(orphans) > 0 {
			start := time.Now()
			err = tx.NewSelect().Model(&deleted).Where("id IN (?)", bun.In(orphans)).Scan(ctx)
			r.metrics.Database.RecordQuery(ctx, "select", "resources", time.Since(start), err)
			if err != nil {
				return err
			}

			start = time.Now()
			_, err = tx.NewDelete().Model((*Resource)(nil)).Where("id IN (?)", bun.In(orphans)).Exec(ctx)
			r.metrics.Database.RecordQuery(ctx, "delete", "resources", time.Since(start), err)
			if err != nil {
				return err
			}
		}

		return r.batches.Delete(ctx, tx, batchID)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
