package storage

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultLockTimeout bounds how long Load and Save wait for the file lock.
const DefaultLockTimeout = 10 * time.Second

const (
	minLockBackoff = 10 * time.Millisecond
	maxLockBackoff = 250 * time.Millisecond
)

// errWouldBlock is returned by tryLock when another holder has the lock.
var errWouldBlock = errors.New("lock held elsewhere")

// LockPath returns the sibling lock file used for dataPath.
func LockPath(dataPath string) string {
	return dataPath + ".lock"
}

// FileLock is an advisory, exclusive, cross-process lock on a lock file.
// The lock file is never written; only its lock state matters.
// A FileLock is not safe for concurrent use; create one per acquisition.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unacquired lock on path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock, polling with capped exponential backoff until
// timeout elapses. It returns a *LockTimeoutError on timeout.
func (l *FileLock) Acquire(timeout time.Duration) error {
	if l.file != nil {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %s: %w", l.path, err)
	}

	start := time.Now()
	backoff := minLockBackoff
	attempts := 0
	for {
		attempts++
		err := tryLock(f)
		if err == nil {
			l.file = f
			return nil
		}
		if !errors.Is(err, errWouldBlock) {
			f.Close()
			return fmt.Errorf("failed to lock %s: %w", l.path, err)
		}

		waited := time.Since(start)
		if waited >= timeout {
			f.Close()
			return &LockTimeoutError{
				LockPath: l.path,
				Waited:   waited,
				Attempts: attempts,
				Timeout:  timeout,
			}
		}

		sleep := backoff
		if remaining := timeout - waited; sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)

		backoff *= 2
		if backoff > maxLockBackoff {
			backoff = maxLockBackoff
		}
	}
}

// Release drops the lock. Safe to call when not held.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	unlockErr := unlock(f)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}
