// Package apperror defines the typed errors returned by the engagement engines.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of failure independently of the message.
type Code string

const (
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeConflict         Code = "CONFLICT"
	CodeSessionClosed    Code = "SESSION_CLOSED"
	CodeUnavailable      Code = "UNAVAILABLE"
)

// Error is a typed domain error with HTTP awareness.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones with a custom
// message still match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

var (
	ErrInvalidArgument  = New(CodeInvalidArgument, http.StatusBadRequest, "invalid argument")
	ErrNotFound         = New(CodeNotFound, http.StatusNotFound, "resource not found")
	ErrPermissionDenied = New(CodePermissionDenied, http.StatusForbidden, "permission denied")
	ErrConflict         = New(CodeConflict, http.StatusConflict, "conflict")
	ErrSessionClosed    = New(CodeSessionClosed, http.StatusConflict, "session is closed")
	ErrUnavailable      = New(CodeUnavailable, http.StatusServiceUnavailable, "directory store unavailable")
)

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

func InvalidArgument(message string) *Error  { return Clone(ErrInvalidArgument, message) }
func NotFound(message string) *Error         { return Clone(ErrNotFound, message) }
func PermissionDenied(message string) *Error { return Clone(ErrPermissionDenied, message) }
func Conflict(message string) *Error         { return Clone(ErrConflict, message) }

// Is reports whether err matches target's code.
func Is(err error, target *Error) bool {
	return errors.Is(err, target)
}

// FromStore normalises an error returned by the directory store. Typed errors
// (e.g. NotFound produced by a repository) pass through; anything else, including
// context deadlines, becomes Unavailable.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrUnavailable.Code, ErrUnavailable.Status, ErrUnavailable.Message)
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrUnavailable.Code, ErrUnavailable.Status, ErrUnavailable.Message)
}
