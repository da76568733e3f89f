package student

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"resource-service/common/apperror"
	"resource-service/internal/credential"
	"resource-service/internal/metrics"
)

var ErrOldPasswordIncorrect = apperror.Validation("old password incorrect")

// Membership resolves the students of a batch.
type Membership interface {
	StudentsInBatch(ctx context.Context, batchID int64) ([]int64, error)
}

// BatchTitles resolves batch ids to titles for listings.
type BatchTitles interface {
	Titles(ctx context.Context, ids []int64) (map[int64]string, error)
}

type Limits struct {
	DefaultDevices  int
	MinDevices      int
	MaxDevices      int
	TempPasswordLen int
}

type Service interface {
	Enroll(ctx context.Context, req EnrollRequest) (*EnrollResponse, error)
	SetPassword(ctx context.Context, studentID int64, password string) error
	SetDeviceLimit(ctx context.Context, studentID int64, limit int) error
	ChangePassword(ctx context.Context, studentID int64, oldPassword, newPassword string) error
	ResetPassword(ctx context.Context, studentID int64) (Credentials, error)
	GetByID(ctx context.Context, studentID int64) (*Student, error)
	List(ctx context.Context) ([]Summary, error)
	ListByBatch(ctx context.Context, batchID int64) ([]Summary, error)
}

type service struct {
	repo       Repository
	creds      *credential.Store
	membership Membership
	batches    BatchTitles
	limits     Limits
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewService(repo Repository, creds *credential.Store, membership Membership, batches BatchTitles, limits Limits, m *metrics.Metrics, logger *slog.Logger) Service {
	return &service{
		repo:       repo,
		creds:      creds,
		membership: membership,
		batches:    batches,
		limits:     limits,
		metrics:    m,
		logger:     logger,
	}
}

// NormalizeEmail is applied on enrollment and on every login lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *service) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResponse, error) {
	email := NormalizeEmail(req.Email)

	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailExists
	}
	if !errors.Is(err, ErrStudentNotFound) {
		return nil, err
	}

	password, err := credential.GenerateTemporaryPassword(s.limits.TempPasswordLen)
	if err != nil {
		return nil, apperror.Dependency("failed to generate password", err)
	}
	hash, err := s.creds.Hash(password)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, &Student{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: hash,
		DeviceLimit:  s.limits.DefaultDevices,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordStudentEnrolled(ctx)
	s.logger.InfoContext(ctx, "student enrolled", "student_id", created.ID, "email", created.Email)

	return &EnrollResponse{
		ID:       created.ID,
		Name:     created.Name,
		Email:    created.Email,
		Password: password,
		Message:  "Student enrolled successfully",
	}, nil
}

func (s *service) SetPassword(ctx context.Context, studentID int64, password string) error {
	if err := s.creds.SetPassword(ctx, studentID, password); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "student password set by admin", "student_id", studentID)
	return nil
}

func (s *service) SetDeviceLimit(ctx context.Context, studentID int64, limit int) error {
	if limit < s.limits.MinDevices || limit > s.limits.MaxDevices {
		return apperror.Validation(fmt.Sprintf("device limit must be between %d and %d", s.limits.MinDevices, s.limits.MaxDevices))
	}
	if err := s.repo.UpdateDeviceLimit(ctx, studentID, limit); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "device limit updated", "student_id", studentID, "device_limit", limit)
	return nil
}

func (s *service) ChangePassword(ctx context.Context, studentID int64, oldPassword, newPassword string) error {
	student, err := s.repo.GetByID(ctx, studentID)
	if err != nil {
		return err
	}

	result, _, err := s.creds.Verify(ctx, student.Email, oldPassword)
	if err != nil {
		return err
	}
	if result != credential.Match {
		return ErrOldPasswordIncorrect
	}

	if err := s.creds.SetPassword(ctx, studentID, newPassword); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "student changed password", "student_id", studentID)
	return nil
}

func (s *service) ResetPassword(ctx context.Context, studentID int64) (Credentials, error) {
	student, err := s.repo.GetByID(ctx, studentID)
	if err != nil {
		return Credentials{}, err
	}

	password, err := credential.GenerateTemporaryPassword(s.limits.TempPasswordLen)
	if err != nil {
		return Credentials{}, apperror.Dependency("failed to generate password", err)
	}
	if err := s.creds.SetPassword(ctx, studentID, password); err != nil {
		return Credentials{}, err
	}

	s.logger.InfoContext(ctx, "student password reset", "student_id", studentID)
	return Credentials{Name: student.Name, Email: student.Email, Password: password}, nil
}

func (s *service) GetByID(ctx context.Context, studentID int64) (*Student, error) {
	return s.repo.GetByID(ctx, studentID)
}

func (s *service) List(ctx context.Context) ([]Summary, error) {
	students, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, students, true)
}

func (s *service) ListByBatch(ctx context.Context, batchID int64) ([]Summary, error) {
	ids, err := s.membership.StudentsInBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	students, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, students, false)
}

func (s *service) summarize(ctx context.Context, students []Student, withBatches bool) ([]Summary, error) {
	var titles map[int64]string
	if withBatches {
		var ids []int64
		for _, st := range students {
			ids = append(ids, st.BatchIDs...)
		}
		var err error
		titles, err = s.batches.Titles(ctx, ids)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Summary, 0, len(students))
	for _, st := range students {
		summary := Summary{
			ID:            st.ID,
			Name:          st.Name,
			Email:         st.Email,
			DeviceLimit:   st.DeviceLimit,
			ActiveDevices: st.ActiveDevices,
		}
		if summary.ActiveDevices == nil {
			summary.ActiveDevices = []string{}
		}
		for _, id := range st.BatchIDs {
			if title, ok := titles[id]; ok {
				summary.Batches = append(summary.Batches, title)
			}
		}
		out = append(out, summary)
	}
	return out, nil
}
