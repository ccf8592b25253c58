package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies storage faults into a closed set of kinds so that
// retry policy consumes typed classifications instead of pattern-matching
// error text.
type ErrorKind string

const (
	// KindUnavailable indicates the backend was unreachable (connection
	// refused, dropped connection, bad pool handle).
	KindUnavailable ErrorKind = "unavailable"
	// KindTimeout indicates an I/O deadline expired at the storage layer.
	KindTimeout ErrorKind = "timeout"
	// KindSerialization indicates a transaction serialization or contention
	// failure that is safe to retry.
	KindSerialization ErrorKind = "serialization"
	// KindConflict indicates a uniqueness-constraint violation. Conflicts are
	// resolved internally by reading back the winning record and never escape
	// InsertMessageIfAbsent as errors.
	KindConflict ErrorKind = "conflict"
	// KindInternal indicates a non-retryable backend fault (malformed query,
	// scan failure, constraint other than uniqueness).
	KindInternal ErrorKind = "internal"
)

// StorageError wraps a backend fault with its typed classification.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewError builds a StorageError for the given operation.
func NewError(kind ErrorKind, op string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err. Errors that did not originate in a
// storage backend are reported as KindInternal.
func KindOf(err error) ErrorKind {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a transient storage fault worth
// re-attempting. Conflicts are deliberately not retryable: they are an
// expected outcome, resolved by reading back the winner.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindTimeout, KindSerialization:
		return true
	default:
		return false
	}
}

// classifyDriverError classifies faults common to both SQL backends.
// Returns an empty kind when the error needs backend-specific inspection.
func classifyDriverError(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, driver.ErrBadConn):
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindUnavailable
	}
	return ""
}
