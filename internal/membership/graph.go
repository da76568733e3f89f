// Package membership maintains the batch/student and batch/resource edges
// and answers visibility questions from them. The edge tables are the source
// of truth; students.batch_ids is a denormalized copy kept in agreement
// inside the same transaction.
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"resource-service/common/apperror"
	"resource-service/common/metrics"
	"resource-service/internal/batch"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

var (
	ErrStudentNotFound  = apperror.NotFound("student not found")
	ErrResourceNotFound = apperror.NotFound("resource not found")
)

type BatchStudent struct {
	bun.BaseModel `bun:"table:batch_students,alias:bs"`

	ID        int64 `bun:"id,pk,autoincrement"`
	BatchID   int64 `bun:"batch_id,notnull"`
	StudentID int64 `bun:"student_id,notnull"`
}

type BatchResource struct {
	bun.BaseModel `bun:"table:batch_resources,alias:br"`

	ID         int64 `bun:"id,pk,autoincrement"`
	BatchID    int64 `bun:"batch_id,notnull"`
	ResourceID int64 `bun:"resource_id,notnull"`
}

// BatchChecker verifies batch ids before edges referencing them are written.
type BatchChecker interface {
	RequireAll(ctx context.Context, ids []int64) error
}

type Graph struct {
	db      *bun.DB
	batches BatchChecker
	metrics *metrics.Metrics
}

func NewGraph(db *bun.DB, batches BatchChecker, m *metrics.Metrics) *Graph {
	return &Graph{db: db, batches: batches, metrics: m}
}

func (g *Graph) record(ctx context.Context, op, table string, start time.Time, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	g.metrics.Database.RecordQuery(ctx, op, table, time.Since(start), err)
}

// AssignStudentToBatches replaces the student's whole membership set.
func (g *Graph) AssignStudentToBatches(ctx context.Context, studentID int64, batchIDs []int64) error {
	ids := uniqueSorted(batchIDs)
	if err := g.batches.RequireAll(ctx, ids); err != nil {
		return err
	}

	return g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := g.lockStudent(ctx, tx, studentID); err != nil {
			return err
		}

		start := time.Now()
		_, err := tx.NewDelete().Model((*BatchStudent)(nil)).Where("student_id = ?", studentID).Exec(ctx)
		g.record(ctx, "delete", "batch_students", start, err)
		if err != nil {
			return err
		}

		if len(ids) > 0 {
			edges := make([]BatchStudent, 0, len(ids))
			for _, id := range ids {
				edges = append(edges, BatchStudent{BatchID: id, StudentID: studentID})
			}
			start = time.Now()
			_, err = tx.NewInsert().Model(&edges).On("CONFLICT (batch_id, student_id) DO NOTHING").Exec(ctx)
			g.record(ctx, "insert", "batch_students", start, err)
			if err != nil {
				return err
			}
		}

		start = time.Now()
		_, err = tx.NewUpdate().
			Table("students").
			Set("batch_ids = ?", pgdialect.Array(ids)).
			Set("updated_at = now()").
			Where("id = ?", studentID).
			Exec(ctx)
		g.record(ctx, "update", "students", start, err)
		return err
	})
}

// AddStudentToBatch inserts one edge; an existing edge is left untouched.
func (g *Graph) AddStudentToBatch(ctx context.Context, batchID, studentID int64) error {
	if err := g.batches.RequireAll(ctx, []int64{batchID}); err != nil {
		return err
	}

	return g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := g.lockStudent(ctx, tx, studentID); err != nil {
			return err
		}

		start := time.Now()
		_, err := tx.NewInsert().
			Model(&BatchStudent{BatchID: batchID, StudentID: studentID}).
			On("CONFLICT (batch_id, student_id) DO NOTHING").
			Exec(ctx)
		g.record(ctx, "insert", "batch_students", start, err)
		if err != nil {
			return err
		}

		start = time.Now()
		_, err = tx.NewUpdate().
			Table("students").
			Set("batch_ids = array_append(batch_ids, ?)", batchID).
			Set("updated_at = now()").
			Where("id = ?", studentID).
			Where("NOT (? = ANY(batch_ids))", batchID).
			Exec(ctx)
		g.record(ctx, "update", "students", start, err)
		return err
	})
}

func (g *Graph) lockStudent(ctx context.Context, tx bun.Tx, studentID int64) error {
	err := g.lockRow(ctx, tx, "students", studentID, "UPDATE")
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStudentNotFound
	}
	return err
}

// LinkResource attaches a resource to a batch within the caller's transaction.
func (g *Graph) LinkResource(ctx context.Context, tx bun.IDB, batchID, resourceID int64) error {
	start := time.Now()
	_, err := tx.NewInsert().
		Model(&BatchResource{BatchID: batchID, ResourceID: resourceID}).
		On("CONFLICT (batch_id, resource_id) DO NOTHING").
		Exec(ctx)
	g.record(ctx, "insert", "batch_resources", start, err)
	return err
}

// AddResourceToBatch shares an existing resource with another batch; an
// existing edge is left untouched. Locks are taken batch first, then
// resource, the same order batch deletion uses, so a deletion cascading this
// resource either finishes first or sees the new edge.
func (g *Graph) AddResourceToBatch(ctx context.Context, batchID, resourceID int64) error {
	return g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := g.lockRow(ctx, tx, "batches", batchID, "KEY SHARE"); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return batch.ErrBatchNotFound
			}
			return err
		}
		if err := g.lockRow(ctx, tx, "resources", resourceID, "SHARE"); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrResourceNotFound
			}
			return err
		}
		return g.LinkResource(ctx, tx, batchID, resourceID)
	})
}

func (g *Graph) lockRow(ctx context.Context, tx bun.Tx, table string, id int64, mode string) error {
	var locked int64
	start := time.Now()
	err := tx.NewSelect().
		Table(table).
		Column("id").
		Where("id = ?", id).
		For(mode).
		Scan(ctx, &locked)
	g.record(ctx, "select", table, start, err)
	return err
}

// ResourcesVisibleTo returns the union of resources of every batch the student
// belongs to. No membership means no resources.
func (g *Graph) ResourcesVisibleTo(ctx context.Context, studentID int64) ([]int64, error) {
	ids := []int64{}
	start := time.Now()
	err := g.db.NewSelect().
		Model((*BatchResource)(nil)).
		ColumnExpr("DISTINCT br.resource_id").
		Join("JOIN batch_students AS bs ON bs.batch_id = br.batch_id").
		Where("bs.student_id = ?", studentID).
		OrderExpr("br.resource_id ASC").
		Scan(ctx, &ids)
	g.record(ctx, "select", "batch_resources", start, err)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (g *Graph) StudentsInBatch(ctx context.Context, batchID int64) ([]int64, error) {
	ids := []int64{}
	start := time.Now()
	err := g.db.NewSelect().
		Model((*BatchStudent)(nil)).
		Column("student_id").
		Where("batch_id = ?", batchID).
		Order("student_id ASC").
		Scan(ctx, &ids)
	g.record(ctx, "select", "batch_students", start, err)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (g *Graph) ResourcesInBatch(ctx context.Context, batchID int64) ([]int64, error) {
	ids := []int64{}
	start := time.Now()
	err := g.db.NewSelect().
		Model((*BatchResource)(nil)).
		Column("resource_id").
		Where("batch_id = ?", batchID).
		Order("resource_id ASC").
		Scan(ctx, &ids)
	g.record(ctx, "select", "batch_resources", start, err)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (g *Graph) BatchesOfStudent(ctx context.Context, studentID int64) ([]int64, error) {
	ids := []int64{}
	start := time.Now()
	err := g.db.NewSelect().
		Model((*BatchStudent)(nil)).
		Column("batch_id").
		Where("student_id = ?", studentID).
		Scan(ctx, &ids)
	g.record(ctx, "select", "batch_students", start, err)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (g *Graph) BatchesOfResource(ctx context.Context, resourceID int64) ([]int64, error) {
	ids := []int64{}
	start := time.Now()
	err := g.db.NewSelect().
		Model((*BatchResource)(nil)).
		Column("batch_id").
		Where("resource_id = ?", resourceID).
		Scan(ctx, &ids)
	g.record(ctx, "select", "batch_resources", start, err)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ResourceEdges locks and returns every edge of every resource linked to batchID.
func (g *Graph) ResourceEdges(ctx context.Context, tx bun.IDB, batchID int64) ([]BatchResource, error) {
	var edges []BatchResource
	start := time.Now()
	err := tx.NewSelect().
		Model(&edges).
		Where("resource_id IN (SELECT resource_id FROM batch_resources WHERE batch_id = ?)", batchID).
		Order("resource_id ASC", "batch_id ASC").
		For("UPDATE").
		Scan(ctx)
	g.record(ctx, "select", "batch_resources", start, err)
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// DetachBatch removes every edge of batchID and pulls the batch from
// students.batch_ids. Callers must hold the batch row lock.
func (g *Graph) DetachBatch(ctx context.Context, tx bun.IDB, batchID int64) error {
	start := time.Now()
	_, err := tx.NewDelete().Model((*BatchStudent)(nil)).Where("batch_id = ?", batchID).Exec(ctx)
	g.record(ctx, "delete", "batch_students", start, err)
	if err != nil {
		return fmt.Errorf("remove student edges: %w", err)
	}

	start = time.Now()
	_, err = tx.NewUpdate().
		Table("students").
		Set("batch_ids = array_remove(batch_ids, ?)", batchID).
		Set("updated_at = now()").
		Where("? = ANY(batch_ids)", batchID).
		Exec(ctx)
	g.record(ctx, "update", "students", start, err)
	if err != nil {
		return fmt.Errorf("pull batch from students: %w", err)
	}

	start = time.Now()
	_, err = tx.NewDelete().Model((*BatchResource)(nil)).Where("batch_id = ?", batchID).Exec(ctx)
	g.record(ctx, "delete", "batch_resources", start, err)
	if err != nil {
		return fmt.Errorf("remove resource edges: %w", err)
	}
	return nil
}

func uniqueSorted(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []int64{}
	}
	return out
}
