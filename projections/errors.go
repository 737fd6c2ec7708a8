package projections

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidContext is returned by Run when the projection registration
	// is incomplete or a field was registered twice.
	ErrInvalidContext = errors.New("invalid projection context")

	// ErrLockNotAcquired is returned when reading a lock token before the lock
	// was ever acquired.
	ErrLockNotAcquired = errors.New("lock is not acquired")

	// ErrProjectionAlreadyRunning is returned when another process holds the
	// projection lock.
	ErrProjectionAlreadyRunning = errors.New("projection already running")

	// ErrProjectionFailed is returned when the projection provider refuses or
	// fails a write.
	ErrProjectionFailed = errors.New("projection failed")

	// ErrProjectionNotFound is returned when the projection row does not exist.
	ErrProjectionNotFound = errors.New("projection not found")

	// ErrEmitUnsupported is returned by Scope.Emit and Scope.LinkTo outside an
	// emitter projection.
	ErrEmitUnsupported = errors.New("projection cannot emit events")
)

// ProjectionError reports a coordination failure on a named projection. It
// matches both its Kind and its Cause with errors.Is.
type ProjectionError struct {
	Projection string
	Op         string
	Kind       error
	Cause      error
}

func (e *ProjectionError) Error() string {
	msg := fmt.Sprintf("projections: %s %s: %v", e.Op, e.Projection, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProjectionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
