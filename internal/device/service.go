package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"resource-service/common/apperror"
)

const maxAttempts = 5

// ErrVersionConflict is returned by Store.Save when the record changed since Load.
var ErrVersionConflict = errors.New("device state version conflict")

var ErrContention = apperror.Conflict("device state is being updated concurrently, retry")

// State is a registry together with the row version it was loaded at.
type State struct {
	StudentID int64
	Version   int64
	Registry  Registry
}

type Store interface {
	LoadDevices(ctx context.Context, studentID int64) (State, error)
	// SaveDevices persists state only if the stored version still equals
	// state.Version, and returns ErrVersionConflict otherwise.
	SaveDevices(ctx context.Context, state State) error
}

type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, now: time.Now, logger: logger}
}

// update applies mutate to a freshly loaded state and saves it, retrying on
// version conflicts. mutate must be free of side effects outside state.
func (s *Service) update(ctx context.Context, studentID int64, mutate func(*State) bool) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state, err := s.store.LoadDevices(ctx, studentID)
		if err != nil {
			return err
		}

		if !mutate(&state) {
			return nil
		}

		err = s.store.SaveDevices(ctx, state)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}

		s.logger.DebugContext(ctx, "device state changed concurrently, retrying",
			"student_id", studentID,
			"attempt", attempt,
		)
	}
	return ErrContention
}

// Admit records token as the live session of deviceID.
func (s *Service) Admit(ctx context.Context, studentID int64, deviceID, token string, expiresAt time.Time) (Admission, error) {
	if deviceID == "" {
		return Admission{}, apperror.Validation("device id is required")
	}

	stored := Token{Hash: HashToken(token), ExpiresAt: expiresAt}

	var admission Admission
	err := s.update(ctx, studentID, func(state *State) bool {
		admission = state.Registry.Admit(deviceID, stored)
		return true
	})
	if err != nil {
		return Admission{}, fmt.Errorf("admit device: %w", err)
	}
	return admission, nil
}

// Revoke ends the session of deviceID. Revoking an absent device is a no-op.
func (s *Service) Revoke(ctx context.Context, studentID int64, deviceID string) error {
	err := s.update(ctx, studentID, func(state *State) bool {
		return state.Registry.Revoke(deviceID)
	})
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	return nil
}

// IsLive consults the stored registry; it never caches.
func (s *Service) IsLive(ctx context.Context, studentID int64, deviceID, token string) (bool, error) {
	state, err := s.store.LoadDevices(ctx, studentID)
	if err != nil {
		return false, err
	}
	return state.Registry.IsLive(deviceID, HashToken(token), s.now()), nil
}
