// Package apperr defines the error taxonomy shared by every domain package:
// a handful of kinds, not types, mapped to HTTP status codes at the API
// boundary. Domain helpers return *apperr.Error directly; repository errors
// bubble up untyped and are folded into KindInternal by the boundary mapper.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error independent of which domain package raised it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindBadRequest   Kind = "bad_request"
	KindInternal     Kind = "internal"
)

// Error is the concrete error type carrying a Kind, a message safe to show
// to the caller, and an optional wrapped cause kept for logging only.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an Error of the given kind with a caller-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind, keeping cause for logging but
// never exposing it in Error() beyond the %v formatting above — handlers
// should still prefer Message when rendering to an API client.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured detail fields (e.g. {"from": "running",
// "to": "scheduled"} for an illegal job transition) and returns e for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func NotFound(entity string) *Error {
	return New(KindNotFound, entity+" not found")
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, fmt.Sprintf(format, args...))
}

func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal error", cause)
}

// KindOf extracts the Kind of err, defaulting to KindInternal for any error
// that isn't an *apperr.Error — the propagation policy's "repository errors
// bubble up as database errors and are mapped at the handler boundary".
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is an *apperr.Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
