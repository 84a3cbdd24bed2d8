package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrConcurrency matches every *ConcurrencyError.
	ErrConcurrency = errors.New("ledger: sequencing contention")
	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("ledger: storage failure")
	// ErrNotFound is returned when a sequence number has no entry.
	ErrNotFound = errors.New("ledger: entry not found")
	// ErrTailMoved is returned by Store.Commit when the tail no longer holds
	// the value the caller read. The caller must discard its candidate entry.
	ErrTailMoved = errors.New("ledger: tail moved")
)

// ValidationError reports a malformed append or query request. No sequence
// number is consumed when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConcurrencyError is returned when the sequencing compare-and-swap kept
// losing until the retry budget ran out. The append may be retried from scratch.
type ConcurrencyError struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("append abandoned after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConcurrency) true.
func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// StorageError wraps a failure of the underlying store. A failed commit never
// leaves the tail partially advanced.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }
