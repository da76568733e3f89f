package batch

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"resource-service/common/apperror"
	"resource-service/common/metrics"

	"github.com/uptrace/bun"
)

var ErrBatchNotFound = apperror.NotFound("batch not found")

type Repository interface {
	Create(ctx context.Context, batch *Batch) (*Batch, error)
	GetAll(ctx context.Context) ([]Batch, error)
	GetByID(ctx context.Context, id int64) (*Batch, error)
	// RequireAll returns ErrBatchNotFound unless every id exists.
	RequireAll(ctx context.Context, ids []int64) error
	Titles(ctx context.Context, ids []int64) (map[int64]string, error)
	// Lock takes a row lock on the batch for the rest of tx. Concurrent
	// inserts of edges referencing it block until tx ends.
	Lock(ctx context.Context, tx bun.IDB, id int64) error
	// Delete removes the batch row inside tx; mapping rows must already be gone.
	Delete(ctx context.Context, tx bun.IDB, id int64) error
}

type repository struct {
	db      *bun.DB
	metrics *metrics.Metrics
}

func NewRepository(db *bun.DB, m *metrics.Metrics) Repository {
	return &repository{
		db:      db,
		metrics: m,
	}
}

func (r *repository) Create(ctx context.Context, batch *Batch) (*Batch, error) {
	start := time.Now()
	_, err := r.db.NewInsert().Model(batch).Returning("*").Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "insert", "batches", time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *repository) GetAll(ctx context.Context) ([]Batch, error) {
	start := time.Now()
	var batches []Batch
	err := r.db.NewSelect().Model(&batches).Order("id ASC").Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "batches", time.Since(start), err)

	return batches, err
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Batch, error) {
	start := time.Now()
	batch := new(Batch)
	err := r.db.NewSelect().Model(batch).Where("id = ?", id).Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "batches", time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return batch, nil
}

func (r *repository) RequireAll(ctx context.Context, ids []int64) error {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return nil
	}

	start := time.Now()
	count, err := r.db.NewSelect().
		Model((*Batch)(nil)).
		Where("id IN (?)", bun.In(unique)).
		Count(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "batches", time.Since(start), err)

	if err != nil {
		return err
	}
	if count != len(unique) {
		return ErrBatchNotFound
	}
	return nil
}

func (r *repository) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	titles := make(map[int64]string)
	unique := dedupe(ids)
	if len(unique) == 0 {
		return titles, nil
	}

	start := time.Now()
	var batches []Batch
	err := r.db.NewSelect().
		Model(&batches).
		Column("id", "title").
		Where("id IN (?)", bun.In(unique)).
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "batches", time.Since(start), err)

	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		titles[b.ID] = b.Title
	}
	return titles, nil
}

func (r *repository) Lock(ctx context.Context, tx bun.IDB, id int64) error {
	var locked int64
	start := time.Now()
	err := tx.NewSelect().
		Model((*Batch)(nil)).
		Column("id").
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx, &locked)

	if errors.Is(err, sql.ErrNoRows) {
		r.metrics.Database.RecordQuery(ctx, "select", "batches", time.Since(start), nil)
		return ErrBatchNotFound
	}
	r.metrics.Database.RecordQuery(ctx, "select", "batches", time.Since(start), err)
	return err
}

func (r *repository) Delete(ctx context.Context, tx bun.IDB, id int64) error {
	start := time.Now()
	result, err := tx.NewDelete().Model((*Batch)(nil)).Where("id = ?", id).Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "delete", "batches", time.Since(start), err)

	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
