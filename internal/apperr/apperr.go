package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable, machine-readable identifier of an error kind.
type Code string

const (
	CodeNotFound              Code = "NOT_FOUND"
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeTransientStore        Code = "TRANSIENT_STORE_ERROR"
	CodeDependencyUnavailable Code = "DEPENDENCY_UNAVAILABLE"
	CodeCorruptEvidence       Code = "CORRUPT_EVIDENCE"
	CodeTimeout               Code = "TIMEOUT"
	CodeInternal              Code = "INTERNAL"
)

// Error carries a Code, a message safe to show to callers, and an optional
// wrapped cause that stays internal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so sentinel-style checks like
// errors.Is(err, apperr.ErrNotFound) work on wrapped values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation            = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrTransientStore        = &Error{Code: CodeTransientStore, Message: "transient store failure"}
	ErrDependencyUnavailable = &Error{Code: CodeDependencyUnavailable, Message: "dependency unavailable"}
	ErrCorruptEvidence       = &Error{Code: CodeCorruptEvidence, Message: "corrupt evidence"}
	ErrTimeout               = &Error{Code: CodeTimeout, Message: "timed out"}
)

func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return New(CodeValidation, format, args...)
}

func Transient(err error, op string) *Error {
	return Wrap(CodeTransientStore, err, "%s failed", op)
}

// ErrWriteConflict marks a transaction that lost an optimistic write race.
// The store is healthy; the write only needs another attempt.
var ErrWriteConflict = errors.New("write conflict")

// Conflict is a TRANSIENT_STORE_ERROR that IsConflict recognises.
func Conflict(err error, op string) *Error {
	return Wrap(CodeTransientStore, fmt.Errorf("%w: %v", ErrWriteConflict, err), "%s lost a write race", op)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrWriteConflict)
}

func Unavailable(err error, op string) *Error {
	return Wrap(CodeDependencyUnavailable, err, "%s: graph store unavailable", op)
}

func Corrupt(err error, format string, args ...interface{}) *Error {
	return Wrap(CodeCorruptEvidence, err, format, args...)
}

// FromContext converts a context error into a TIMEOUT error. Other errors
// pass through unchanged.
func FromContext(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(CodeTimeout, err, "%s did not complete in time", op)
	}
	return err
}

// CodeOf returns the Code of the first *Error in err's chain, INTERNAL when
// there is none and TIMEOUT for bare context errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message; internal causes are not exposed.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if CodeOf(err) == CodeTimeout {
		return "request timed out"
	}
	return "internal error"
}

func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransientStore
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeCorruptEvidence:
		return http.StatusUnprocessableEntity
	case CodeTransientStore, CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
