// Package lockfile provides advisory file locking for state shared between
// worker processes. Every shared document (task board, mailboxes, reputation
// cache, pending-evolution markers) is guarded by a sidecar .lock file; the
// holder performs a full read-modify-write of the document before releasing.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when the lock could not be acquired within the
// caller's deadline. Callers treat this as a transient infrastructure error
// and retry at their own pace rather than failing the task.
var ErrTimeout = errors.New("lockfile: acquisition timed out")

// Lock is a held advisory lock. Release it with Unlock.
type Lock struct {
	f *os.File
}

// Acquire takes an exclusive advisory lock on path, creating the lock file if
// needed. It polls with exponential backoff until the lock is acquired or
// maxWait elapses.
func Acquire(path string, maxWait time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = maxWait

	err = backoff.Retry(func() error {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EWOULDBLOCK) {
			return err // Held by someone else, retry
		}
		return backoff.Permanent(err)
	}, policy)
	if err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{f: f}, nil
}

// Unlock releases the lock. Safe to call exactly once.
func (l *Lock) Unlock() error {
	defer l.f.Close()
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("lockfile: unlock: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the lock for path.
func WithLock(path string, maxWait time.Duration, fn func() error) error {
	lock, err := Acquire(path, maxWait)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return fn()
}
