package admin

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"resource-service/common/apperror"
)

// Hasher is the subset of the credential store needed to seed an account.
type Hasher interface {
	Hash(password string) (string, error)
}

type Seeder struct {
	repo   Repository
	hasher Hasher
	logger *slog.Logger
}

func NewSeeder(repo Repository, hasher Hasher, logger *slog.Logger) *Seeder {
	return &Seeder{repo: repo, hasher: hasher, logger: logger}
}

// Create adds an admin account unconditionally.
func (s *Seeder) Create(ctx context.Context, email, password string) (*Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperror.Validation("email is required")
	}
	if len(password) < 6 {
		return nil, apperror.Validation("password must be at least 6 characters")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, &Admin{Email: email, PasswordHash: hash})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "admin account created", "admin_id", created.ID, "email", created.Email)
	return created, nil
}

// EnsureDefault creates the configured admin only when no admin exists yet.
// It reports whether an account was created.
func (s *Seeder) EnsureDefault(ctx context.Context, email, password string) (bool, error) {
	if email == "" {
		return false, nil
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	_, err = s.Create(ctx, email, password)
	if errors.Is(err, ErrEmailExists) {
		// Another replica seeded first.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
