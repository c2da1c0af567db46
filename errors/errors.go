// Package errors provides error handling for cadence.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	if err := store.Create(ctx, rec); err != nil {
//	    return errors.Wrap(err, "failed to create schedule record")
//	}
//
//	// Mark a driver error with a domain sentinel, keeping the cause
//	return errors.Mark(errors.Wrap(err, "acquire lock"), errors.ErrLockStoreUnavailable)
//
//	if errors.Is(err, errors.ErrLockStoreUnavailable) {
//	    // retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Scheduler sentinel errors.
// Wrap a cause and Mark it with one of these so callers can match with Is().
var (
	// ErrInvalidExpression indicates a cron expression that cannot be parsed
	ErrInvalidExpression = New("invalid cron expression")

	// ErrInvalidDefinition indicates a job definition with a malformed identity part
	ErrInvalidDefinition = New("invalid job definition")

	// ErrUnknownJobType indicates no constructor is registered for a job type
	ErrUnknownJobType = New("unknown job type")

	// ErrDependencyResolution indicates a job constructor failed to build its dependencies
	ErrDependencyResolution = New("dependency resolution failed")

	// ErrLockStoreUnavailable indicates the shared lock store could not be reached
	ErrLockStoreUnavailable = New("lock store unavailable")

	// ErrJobExecutionFailed indicates a job returned an error or panicked
	ErrJobExecutionFailed = New("job execution failed")

	// ErrExecutionTimeout indicates a job exceeded its execution timeout
	ErrExecutionTimeout = New("job execution timed out")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsLockStoreUnavailable checks if an error is or wraps ErrLockStoreUnavailable
func IsLockStoreUnavailable(err error) bool {
	return err != nil && Is(err, ErrLockStoreUnavailable)
}

// MarkLockStore wraps err with msg and marks it as ErrLockStoreUnavailable.
// Returns nil when err is nil.
func MarkLockStore(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrLockStoreUnavailable)
}

// NewInvalidExpression creates an invalid-expression error for expr with the parser's cause
func NewInvalidExpression(expr string, cause error) error {
	err := Wrapf(cause, "cron expression %q", expr)
	return WithHint(Mark(err, ErrInvalidExpression),
		"use five fields (minute first) or six fields (second first), e.g. \"0/10 * * * * ?\"")
}
