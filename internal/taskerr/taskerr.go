// Package taskerr defines the closed set of tagged error types the
// orchestrator reasons about at its retry/abort boundaries, instead of
// matching against ad hoc fmt.Errorf strings.
package taskerr

import (
	"errors"
	"fmt"
)

// Kind tags a TaskError with the category the orchestrator dispatches on.
type Kind string

const (
	KindParse             Kind = "parse"
	KindProvider          Kind = "provider"
	KindGit               Kind = "git"
	KindAttemptsExhausted Kind = "attempts_exhausted"
	KindRestoration       Kind = "restoration"
)

// TaskError is a structured failure that preserves message and causal
// context while still implementing the standard error interface, so callers
// can errors.Is/errors.As across retries and restoration without parsing
// strings.
type TaskError struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs a TaskError of the given kind.
func New(kind Kind, message string) *TaskError {
	if message == "" {
		message = string(kind) + " error"
	}
	return &TaskError{Kind: kind, Message: message}
}

// Wrap constructs a TaskError of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *TaskError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &TaskError{Kind: kind, Message: message, Cause: cause}
}

// Errorf formats a TaskError message for the given kind.
func Errorf(kind Kind, format string, args ...any) *TaskError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *TaskError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *TaskError with the same Kind, letting
// callers write errors.Is(err, taskerr.New(taskerr.KindProvider, "")) style
// kind checks, in addition to matching via errors.As for message/cause.
func (e *TaskError) Is(target error) bool {
	var t *TaskError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// ErrRateLimited is returned (wrapped) by provider adapters when the
// upstream API signals that the caller has exceeded its rate limit.
var ErrRateLimited = New(KindProvider, "rate limited")

// ErrAttemptsExhausted is returned when a plan or code attempt budget has
// been spent without producing an approved verdict.
var ErrAttemptsExhausted = New(KindAttemptsExhausted, "attempt budget exhausted")

// IsKind reports whether err is, or wraps, a *TaskError of the given kind.
func IsKind(err error, kind Kind) bool {
	var t *TaskError
	if !errors.As(err, &t) {
		return false
	}
	return t.Kind == kind
}
