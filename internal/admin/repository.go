package admin

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"resource-service/common/apperror"
	"resource-service/common/metrics"
	"resource-service/internal/credential"
	"resource-service/internal/db"

	"github.com/uptrace/bun"
)

var (
	ErrAdminNotFound = apperror.NotFound("admin not found")
	ErrEmailExists   = apperror.Conflict("an admin with this email already exists")
)

type Repository interface {
	credential.Repository

	Create(ctx context.Context, admin *Admin) (*Admin, error)
	Count(ctx context.Context) (int, error)
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

func (r *repository) Create(ctx context.Context, admin *Admin) (*Admin, error) {
	start := time.Now()
	_, err := r.db.NewInsert().Model(admin).Returning("*").Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "insert", "admins", time.Since(start), err)

	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	return admin, nil
}

func (r *repository) Count(ctx context.Context) (int, error) {
	start := time.Now()
	count, err := r.db.NewSelect().Model((*Admin)(nil)).Count(ctx)

	r.metrics.Database.RecordQuery(ctx, "count", "admins", time.Since(start), err)

	return count, err
}

func (r *repository) FindCredentialByEmail(ctx context.Context, email string) (credential.Subject, error) {
	start := time.Now()
	admin := new(Admin)
	err := r.db.NewSelect().Model(admin).Where("email = ?", email).Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		r.metrics.Database.RecordQuery(ctx, "select", "admins", time.Since(start), nil)
		return credential.Subject{}, credential.ErrSubjectNotFound
	}
	r.metrics.Database.RecordQuery(ctx, "select", "admins", time.Since(start), err)
	if err != nil {
		return credential.Subject{}, err
	}
	return credential.Subject{ID: admin.ID, Name: admin.Email, PasswordHash: admin.PasswordHash}, nil
}

func (r *repository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	start := time.Now()
	result, err := r.db.NewUpdate().
		Model((*Admin)(nil)).
		Set("password_hash = ?", hash).
		Where("id = ?", id).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "update", "admins", time.Since(start), err)

	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAdminNotFound
	}
	return nil
}
