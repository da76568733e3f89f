// Package credential verifies and replaces password hashes for admins and
// students. Plaintext passwords never leave this package except as the
// one-time temporary password returned to the caller.
package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"resource-service/common/apperror"
)

type Result int

const (
	NoMatch Result = iota
	Match
	NotFound
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case NotFound:
		return "not_found"
	default:
		return "no_match"
	}
}

// Subject is the credential view of an admin or student record.
type Subject struct {
	ID           int64
	Name         string
	PasswordHash string
}

// ErrSubjectNotFound must be returned by Lookup implementations for unknown identifiers.
var ErrSubjectNotFound = apperror.NotFound("subject not found")

type Lookup interface {
	FindCredentialByEmail(ctx context.Context, email string) (Subject, error)
}

type Writer interface {
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}

type Repository interface {
	Lookup
	Writer
}

type Store struct {
	repo   Repository
	hasher Hasher
	// dummyHash keeps unknown-identifier lookups as slow as real comparisons.
	dummyHash string
}

func NewStore(repo Repository, hasher Hasher) (*Store, error) {
	dummy, err := hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, err
	}
	return &Store{repo: repo, hasher: hasher, dummyHash: dummy}, nil
}

// Verify looks the subject up by email and compares the password hash.
// The returned Subject is populated only on Match.
func (s *Store) Verify(ctx context.Context, email, password string) (Result, Subject, error) {
	subject, err := s.repo.FindCredentialByEmail(ctx, email)
	if errors.Is(err, ErrSubjectNotFound) {
		_ = s.hasher.Verify(password, s.dummyHash)
		return NotFound, Subject{}, nil
	}
	if err != nil {
		return NoMatch, Subject{}, err
	}

	if err := s.hasher.Verify(password, subject.PasswordHash); err != nil {
		return NoMatch, Subject{}, nil
	}
	return Match, subject, nil
}

// SetPassword hashes password and replaces the stored hash in one statement.
func (s *Store) SetPassword(ctx context.Context, id int64, password string) error {
	hash, err := s.Hash(password)
	if err != nil {
		return err
	}
	return s.repo.UpdatePasswordHash(ctx, id, hash)
}

// Hash exposes the configured hasher for records created with a password.
// Oversized input is a validation error; anything else is a dependency failure.
func (s *Store) Hash(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", apperror.Dependency("failed to hash password", err)
	}
	return hash, nil
}

const temporaryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%*"

// GenerateTemporaryPassword returns a printable secret of the given length
// drawn uniformly from crypto/rand.
func GenerateTemporaryPassword(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid temporary password length %d", length)
	}
	max := big.NewInt(int64(len(temporaryAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = temporaryAlphabet[n.Int64()]
	}
	return string(out), nil
}
