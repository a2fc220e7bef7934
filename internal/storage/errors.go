package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLockTimeout matches every LockTimeoutError.
	ErrLockTimeout = errors.New("timed out waiting for session lock")

	// ErrCorrupt matches every CorruptionError.
	ErrCorrupt = errors.New("corrupt session data")
)

// LockTimeoutError is returned when the cross-process lock could not be
// acquired in time. The operation can be retried.
type LockTimeoutError struct {
	LockPath string
	Waited   time.Duration
	Attempts int
	Timeout  time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("session lock timeout (path=%s waited=%s attempts=%d timeout=%s)",
		e.LockPath, e.Waited.Truncate(time.Millisecond), e.Attempts, e.Timeout)
}

func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// Retryable reports that the caller may re-invoke the operation.
func (e *LockTimeoutError) Retryable() bool {
	return true
}

// CorruptionError wraps a failure to decode stored session data.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("corrupt session data: %v", e.Err)
	}
	return fmt.Sprintf("corrupt session file %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupt
}
