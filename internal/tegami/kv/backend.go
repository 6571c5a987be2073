package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPrimaryUnavailable marks a write that missed the primary backend
	// but may still have landed further down the chain.
	ErrPrimaryUnavailable = errors.New("kv: primary backend unavailable")

	// ErrQuotaExceeded is returned by a backend that has run out of room.
	// Nothing is pruned automatically; the user must be told.
	ErrQuotaExceeded = errors.New("kv: storage quota exceeded")

	// ErrUnavailable is returned by a backend that cannot be reached.
	ErrUnavailable = errors.New("kv: backend unavailable")

	// ErrNoBackends is returned by an empty Chain.
	ErrNoBackends = errors.New("kv: no backends configured")
)

// Backend is one storage tier. Get reports ok=false for a missing key; a
// non-nil error means the backend could not answer at all.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// BackendError ties a failure to the backend that produced it.
type BackendError struct {
	Backend string
	Err     error
}

func (e BackendError) Error() string { return e.Backend + ": " + e.Err.Error() }

func (e BackendError) Unwrap() error { return e.Err }

// WriteError reports a Set that did not reach every backend.
type WriteError struct {
	Key      string
	Failures []BackendError
	// Stored lists the backends that accepted the value.
	Stored []string
	// PrimaryFailed is true when the first backend in the chain rejected
	// the write.
	PrimaryFailed bool
}

// Landed reports whether at least one backend holds the value.
func (e *WriteError) Landed() bool { return len(e.Stored) > 0 }

func (e *WriteError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	msg := fmt.Sprintf("kv: set %q: %s", e.Key, strings.Join(parts, "; "))
	if e.Landed() {
		msg += " (stored in " + strings.Join(e.Stored, ", ") + ")"
	}
	return msg
}

// Unwrap exposes ErrPrimaryUnavailable and every backend error to errors.Is.
func (e *WriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.PrimaryFailed {
		errs = append(errs, ErrPrimaryUnavailable)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
