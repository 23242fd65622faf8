// Package apperr defines the error kinds shared by the billing domain
// services. Services return these instead of raw fmt errors so handlers can
// map them to HTTP statuses in one place and callers can branch on kind.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind int

const (
	// KindValidation marks a claim that is incomplete or inconsistent.
	// Recoverable: the caller fixes the listed fields and retries.
	KindValidation Kind = iota + 1
	// KindNotFound marks a lookup for an unknown entity id.
	KindNotFound
	// KindConflict marks an operation that would violate state rules:
	// an illegal status transition, a double post, a match with both or
	// neither target.
	KindConflict
	// KindImportParse marks a remittance file that could not be read at all.
	KindImportParse
	// KindRetriable marks a transient failure (row lock contention) that a
	// later invocation may succeed at.
	KindRetriable
)

// Error is the concrete error type returned by domain services.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// FieldError describes one failed validation check.
type FieldError struct {
	Field       string `json:"field"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// ValidationError carries per-field detail for an incomplete claim.
// The inner Error stays unexported so the Fields slice is the only
// thing callers reach into directly.
type ValidationError struct {
	base   Error
	Fields []FieldError
}

func NewValidation(msg string, fields []FieldError) *ValidationError {
	return &ValidationError{
		base:   Error{Kind: KindValidation, Msg: msg},
		Fields: fields,
	}
}

func (e *ValidationError) Error() string { return e.base.Error() }

// Message returns the top-level message without field detail.
func (e *ValidationError) Message() string { return e.base.Msg }

// Unwrap exposes the inner Error so errors.As can classify a
// ValidationError by kind.
func (e *ValidationError) Unwrap() error { return &e.base }

func NotFound(resource string, id interface{}) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s %v not found", resource, id)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func ImportParse(msg string, err error) *Error {
	return &Error{Kind: KindImportParse, Msg: msg, Err: err}
}

func Retriable(msg string, err error) *Error {
	return &Error{Kind: KindRetriable, Msg: msg, Err: err}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsNotFound(err error) bool  { return IsKind(err, KindNotFound) }
func IsConflict(err error) bool  { return IsKind(err, KindConflict) }
func IsRetriable(err error) bool { return IsKind(err, KindRetriable) }
