// Package apperror defines the error taxonomy shared by every layer of the
// service. Each Kind maps to exactly one HTTP status.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "unauthorized"
	KindAuthorization  Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindDependency     Kind = "dependency_failure"
	KindTooManyRequest Kind = "too_many_requests"
)

// Error carries a Kind and a caller-safe message. Cause is never rendered.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by identity first and falls back to Kind+Message so
// that a sentinel wrapped with a cause still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.Kind == t.Kind && e.Message == t.Message)
}

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequest:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func TooManyRequests(message string) *Error {
	return &Error{Kind: KindTooManyRequest, Message: message}
}

// Dependency wraps a failure of an external collaborator (store, blob store,
// signer). The message reaches logs only.
func Dependency(message string, cause error) *Error {
	return &Error{Kind: KindDependency, Message: message, Cause: cause}
}

// Wrap attaches a cause to a sentinel while keeping errors.Is(err, sentinel) true.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Message: sentinel.Message, Cause: cause}
}

// From extracts an *Error from err, or nil.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// KindOf returns the kind of err, treating unknown errors as dependency failures.
func KindOf(err error) Kind {
	if appErr := From(err); appErr != nil {
		return appErr.Kind
	}
	return KindDependency
}
