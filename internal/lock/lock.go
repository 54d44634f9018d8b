// Package lock provides an advisory exclusive file lock over the
// workspace, held by the Turn Engine across an entire user turn.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrNotAvailable is returned by TryAcquire when another process already
// holds the lock.
var ErrNotAvailable = errors.New("lock: not available")

// Guard is an RAII-style handle on a held lock: the lock is released when
// Close is called (or, as a backstop, when the process exits and the fd
// closes).
type Guard struct {
	f *os.File
}

// Acquire blocks until the exclusive lock at path is held.
func Acquire(path string) (*Guard, error) {
	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	return &Guard{f: f}, nil
}

// TryAcquire attempts to take the lock without blocking. It returns
// ErrNotAvailable if another process holds it; any other error (e.g.
// failure to open or create the lock file) is returned as a different,
// wrapped error so callers can distinguish contention from a genuine IO
// failure.
func TryAcquire(path string) (*Guard, error) {
	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrNotAvailable
		}
		return nil, fmt.Errorf("try-acquire lock %s: %w", path, err)
	}
	return &Guard{f: f}, nil
}

func openLockFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	return f, nil
}

// Close releases the lock and closes the underlying file descriptor.
func (g *Guard) Close() error {
	if g == nil || g.f == nil {
		return nil
	}
	_ = unix.Flock(int(g.f.Fd()), unix.LOCK_UN)
	err := g.f.Close()
	g.f = nil
	return err
}
