package student

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resource-service/common/apperror"
	"resource-service/common/metrics"
	"resource-service/internal/credential"
	"resource-service/internal/db"
	"resource-service/internal/device"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

var (
	ErrStudentNotFound = apperror.NotFound("student not found")
	ErrEmailExists     = apperror.Conflict("a student with this email already exists")
)

type Repository interface {
	credential.Repository
	device.Store

	Create(ctx context.Context, student *Student) (*Student, error)
	GetByID(ctx context.Context, id int64) (*Student, error)
	GetByEmail(ctx context.Context, email string) (*Student, error)
	GetAll(ctx context.Context) ([]Student, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Student, error)
	UpdateDeviceLimit(ctx context.Context, id int64, limit int) error
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

func (r *repository) Create(ctx context.Context, student *Student) (*Student, error) {
	if student.ActiveDevices == nil {
		student.ActiveDevices = []string{}
	}
	if student.DeviceTokens == nil {
		student.DeviceTokens = map[string]device.Token{}
	}
	if student.BatchIDs == nil {
		student.BatchIDs = []int64{}
	}

	start := time.Now()
	_, err := r.db.NewInsert().Model(student).Returning("*").Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "insert", "students", time.Since(start), err)

	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	return student, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Student, error) {
	start := time.Now()
	student := new(Student)
	err := r.db.NewSelect().Model(student).Where("id = ?", id).Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "students", time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return student, nil
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*Student, error) {
	start := time.Now()
	student := new(Student)
	err := r.db.NewSelect().
		Model(student).
		Where("email = ?", email).
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "students", time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return student, nil
}

func (r *repository) GetAll(ctx context.Context) ([]Student, error) {
	start := time.Now()
	var students []Student
	err := r.db.NewSelect().Model(&students).Order("id ASC").Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "students", time.Since(start), err)

	return students, err
}

func (r *repository) GetByIDs(ctx context.Context, ids []int64) ([]Student, error) {
	if len(ids) == 0 {
		return []Student{}, nil
	}

	start := time.Now()
	var students []Student
	err := r.db.NewSelect().
		Model(&students).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "students", time.Since(start), err)

	return students, err
}

// UpdateDeviceLimit bumps the row version so in-flight admissions reload the new limit.
func (r *repository) UpdateDeviceLimit(ctx context.Context, id int64, limit int) error {
	start := time.Now()
	result, err := r.db.NewUpdate().
		Model((*Student)(nil)).
		Set("device_limit = ?", limit).
		Set("version = version + 1").
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "update", "students", time.Since(start), err)

	return requireRow(result, err)
}

func (r *repository) FindCredentialByEmail(ctx context.Context, email string) (credential.Subject, error) {
	student, err := r.GetByEmail(ctx, email)
	if errors.Is(err, ErrStudentNotFound) {
		return credential.Subject{}, credential.ErrSubjectNotFound
	}
	if err != nil {
		return credential.Subject{}, err
	}
	return credential.Subject{ID: student.ID, Name: student.Name, PasswordHash: student.PasswordHash}, nil
}

func (r *repository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	start := time.Now()
	result, err := r.db.NewUpdate().
		Model((*Student)(nil)).
		Set("password_hash = ?", hash).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "update", "students", time.Since(start), err)

	return requireRow(result, err)
}

func (r *repository) LoadDevices(ctx context.Context, studentID int64) (device.State, error) {
	start := time.Now()
	student := new(Student)
	err := r.db.NewSelect().
		Model(student).
		Column("id", "device_limit", "active_devices", "device_tokens", "version").
		Where("id = ?", studentID).
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "students", time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return device.State{}, ErrStudentNotFound
		}
		return device.State{}, err
	}

	return device.State{
		StudentID: student.ID,
		Version:   student.Version,
		Registry: device.Registry{
			Limit:   student.DeviceLimit,
			Devices: student.ActiveDevices,
			Tokens:  student.DeviceTokens,
		},
	}, nil
}

// SaveDevices writes both collections in one conditional statement.
func (r *repository) SaveDevices(ctx context.Context, state device.State) error {
	devices := state.Registry.Devices
	if devices == nil {
		devices = []string{}
	}
	tokens := state.Registry.Tokens
	if tokens == nil {
		tokens = map[string]device.Token{}
	}
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode device tokens: %w", err)
	}

	start := time.Now()
	result, err := r.db.NewUpdate().
		Model((*Student)(nil)).
		Set("active_devices = ?", pgdialect.Array(devices)).
		Set("device_tokens = ?::jsonb", string(tokensJSON)).
		Set("version = version + 1").
		Set("updated_at = now()").
		Where("id = ?", state.StudentID).
		Where("version = ?", state.Version).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "update", "students", time.Since(start), err)

	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return device.ErrVersionConflict
	}
	return nil
}

func requireRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrStudentNotFound
	}
	return nil
}
