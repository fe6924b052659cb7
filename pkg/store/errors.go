package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the job id is unknown to the store.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists indicates a Put with an id the store already holds.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrConflict indicates an UpdateStatus lost a race: the stored status
	// no longer matches the expected one. Callers should re-read and decide
	// whether the edge still applies.
	ErrConflict = errors.New("job status conflict")

	// ErrInvalidState indicates the requested transition is not permitted
	// by the lifecycle table.
	ErrInvalidState = errors.New("invalid status transition")

	// ErrUnavailable indicates a transient backend fault. The store retries
	// these internally; if one escapes, the backend stayed down through the
	// retry budget.
	ErrUnavailable = errors.New("store unavailable")
)

// StoreError wraps backend failures with operation context.
type StoreError struct {
	// Op is the operation that failed (e.g., "Put", "UpdateStatus").
	Op string

	// Backend names the storage medium (e.g., "fs", "s3").
	Backend string

	// ID is the job id, if applicable.
	ID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates an unknown job id.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists returns true if the error indicates a duplicate Put.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict returns true if the error indicates a lost update race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidState returns true if the error indicates a forbidden transition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsUnavailable returns true if the error indicates a transient backend fault.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
