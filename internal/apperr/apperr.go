// Package apperr defines the error taxonomy surfaced at the request boundary
// and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Wrap them with %w and test with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrInternal     = errors.New("internal error")
)

// InternalMessage is the only text an Internal error ever exposes to a caller.
const InternalMessage = "internal server error"

// Error pairs a kind with a caller-facing message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Unauthorized builds an Unauthorized error.
func Unauthorized(msg string) error {
	return &Error{Kind: ErrUnauthorized, Message: msg}
}

// InvalidInput builds an InvalidInput error.
func InvalidInput(msg string) error {
	return &Error{Kind: ErrInvalidInput, Message: msg}
}

// Conflict builds a Conflict error.
func Conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

// NotFound builds a NotFound error.
func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// Internal wraps cause as an Internal error. The message is kept for logs only.
func Internal(msg string, cause error) error {
	return &Error{Kind: ErrInternal, Message: msg, Cause: cause}
}

// HTTPStatus maps err onto a status code. Unknown errors are 500. The
// outermost *Error decides, so a cause wrapped by Internal never leaks its
// own kind.
func HTTPStatus(err error) int {
	kind := err
	var appErr *Error
	if errors.As(err, &appErr) {
		kind = appErr.Kind
	}
	switch {
	case errors.Is(kind, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(kind, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(kind, ErrConflict):
		return http.StatusConflict
	case errors.Is(kind, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show a caller.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return InternalMessage
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
