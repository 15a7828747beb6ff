// Package errs holds the error kinds shared by the ingestion and query pipelines.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks rate limits, timeouts and 5xx-class backend failures.
	ErrTransient = errors.New("transient backend error")
	// ErrPermanent marks malformed requests, auth failures and missing indexes.
	ErrPermanent = errors.New("permanent backend error")
	// ErrIndexMissing is returned when the vector index or its table does not exist yet.
	ErrIndexMissing = errors.New("vector index missing")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// BackendError is a failed call to a remote collaborator, tagged with its kind.
type BackendError struct {
	Op   string
	Kind error
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Transient wraps err as a retryable backend failure.
func Transient(op string, err error) error {
	return &BackendError{Op: op, Kind: ErrTransient, Err: err}
}

// Permanent wraps err as a non-retryable backend failure.
func Permanent(op string, err error) error {
	return &BackendError{Op: op, Kind: ErrPermanent, Err: err}
}

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// DimensionMismatch reports a vector of the wrong size.
func DimensionMismatch(want, got int) error {
	return fmt.Errorf("%w: %w: expected %d, got %d", ErrValidation, ErrDimensionMismatch, want, got)
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// PartialBatchFailure records one source that failed inside a multi-source ingestion run.
type PartialBatchFailure struct {
	Source string
	Err    error
}

func (f PartialBatchFailure) Error() string {
	return fmt.Sprintf("ingest %s: %v", f.Source, f.Err)
}

func (f PartialBatchFailure) Unwrap() error {
	return f.Err
}
