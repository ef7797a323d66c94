package node

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the node package.
var (
	// ErrNotConfigured means a required option (API ip/port, storage path)
	// is unset. It indicates a caller bug rather than a runtime condition.
	ErrNotConfigured = errors.New("node not configured")

	// ErrStorageBusy is returned when storage removal is attempted while the
	// node process is running.
	ErrStorageBusy = errors.New("cannot remove storage while running")

	// ErrReadinessTimeout matches any *ReadinessTimeoutError via errors.Is.
	ErrReadinessTimeout = errors.New("node did not become ready")
)

// ReadinessTimeoutError is returned by Spawn when the health endpoint never
// answered 200 before the readiness deadline. The process has already been
// killed when this error is returned.
type ReadinessTimeoutError struct {
	Elapsed time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("node did not become ready after %d ms", e.Elapsed.Milliseconds())
}

// Is lets errors.Is(err, ErrReadinessTimeout) match.
func (e *ReadinessTimeoutError) Is(target error) bool {
	return target == ErrReadinessTimeout
}

// StorageError describes a filesystem failure during storage removal.
// Entries removed before the failure stay removed.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
