package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"resource-service/common/apperror"
	"resource-service/internal/credential"
	"resource-service/internal/device"
	"resource-service/internal/event"
	"resource-service/internal/metrics"
	"resource-service/internal/token"
)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
var ErrInvalidCredentials = apperror.Unauthorized("Invalid credentials")

type Verifier interface {
	Verify(ctx context.Context, email, password string) (credential.Result, credential.Subject, error)
}

type Devices interface {
	Admit(ctx context.Context, studentID int64, deviceID, token string, expiresAt time.Time) (device.Admission, error)
	Revoke(ctx context.Context, studentID int64, deviceID string) error
}

type TTLs struct {
	Admin   time.Duration
	Student time.Duration
}

type Service struct {
	admins   Verifier
	students Verifier
	issuer   *token.Issuer
	devices  Devices
	events   event.Emitter
	ttl      TTLs
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(admins, students Verifier, issuer *token.Issuer, devices Devices, events event.Emitter, ttl TTLs, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		admins:   admins,
		students: students,
		issuer:   issuer,
		devices:  devices,
		events:   events,
		ttl:      ttl,
		metrics:  m,
		logger:   logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) verify(ctx context.Context, verifier Verifier, role token.Role, email, password string) (credential.Subject, error) {
	result, subject, err := verifier.Verify(ctx, normalizeEmail(email), password)
	if err != nil {
		return credential.Subject{}, err
	}
	if result != credential.Match {
		s.metrics.RecordLoginFailure(ctx, string(role), result.String())
		s.logger.WarnContext(ctx, "login rejected", "role", role, "email", normalizeEmail(email), "reason", result.String())
		return credential.Subject{}, ErrInvalidCredentials
	}
	return subject, nil
}

// AdminLogin issues an admin token. Admin tokens carry no device binding.
func (s *Service) AdminLogin(ctx context.Context, req AdminLoginRequest) (*AdminLoginResponse, error) {
	subject, err := s.verify(ctx, s.admins, token.RoleAdmin, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	issued, err := s.issuer.Issue(subject.ID, token.RoleAdmin, "", s.ttl.Admin)
	if err != nil {
		return nil, apperror.Dependency("failed to issue token", err)
	}

	s.metrics.RecordLogin(ctx, string(token.RoleAdmin))
	s.logger.InfoContext(ctx, "admin logged in", "admin_id", subject.ID)

	return &AdminLoginResponse{Token: issued.Token}, nil
}

// StudentLogin issues a device-bound token and admits the device, evicting
// the oldest devices when the student is at the limit.
func (s *Service) StudentLogin(ctx context.Context, req StudentLoginRequest) (*StudentLoginResponse, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, apperror.Validation("deviceId is required")
	}

	subject, err := s.verify(ctx, s.students, token.RoleStudent, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	issued, err := s.issuer.Issue(subject.ID, token.RoleStudent, deviceID, s.ttl.Student)
	if err != nil {
		return nil, apperror.Dependency("failed to issue token", err)
	}

	admission, err := s.devices.Admit(ctx, subject.ID, deviceID, issued.Token, issued.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("student login: %w", err)
	}

	if n := len(admission.Evicted); n > 0 {
		s.metrics.RecordDevicesEvicted(ctx, n)
		for _, evicted := range admission.Evicted {
			s.events.Emit(ctx, event.DeviceEvicted, event.DeviceEvictedPayload{StudentID: subject.ID, DeviceID: evicted})
		}
		s.logger.InfoContext(ctx, "devices evicted on login",
			"student_id", subject.ID,
			"evicted", admission.Evicted,
		)
	}

	s.metrics.RecordLogin(ctx, string(token.RoleStudent))
	s.logger.InfoContext(ctx, "student logged in",
		"student_id", subject.ID,
		"device_id", deviceID,
		"known_device", admission.Known,
	)

	return &StudentLoginResponse{
		Token:     issued.Token,
		Name:      subject.Name,
		StudentID: subject.ID,
	}, nil
}

// StudentLogout revokes the device the presented token is bound to.
func (s *Service) StudentLogout(ctx context.Context, claims *token.Claims) error {
	studentID, err := claims.SubjectID()
	if err != nil {
		return apperror.Unauthorized("unauthorized")
	}
	if err := s.devices.Revoke(ctx, studentID, claims.DeviceID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "student logged out", "student_id", studentID, "device_id", claims.DeviceID)
	return nil
}
