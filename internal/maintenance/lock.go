// Package maintenance provides the cross-process lock a full rebuild holds
// while it replaces the index. The queue processor checks it before each
// batch so incremental updates never interleave with a rebuild.
package maintenance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrHeld is returned by Acquire when another process holds the lock.
var ErrHeld = errors.New("maintenance lock is held")

// Lock is a file lock at a fixed path. It works across processes on all
// platforms gofrs/flock supports.
type Lock struct {
	path string

	mu     sync.Mutex
	flock  *flock.Flock
	locked bool
}

// New creates a lock at path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path, flock: flock.New(path)}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock without blocking. It returns ErrHeld if another
// holder has it.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire maintenance lock: %w", err)
	}
	if !ok {
		return ErrHeld
	}
	l.locked = true
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release maintenance lock: %w", err)
	}
	return nil
}

// Held reports whether this Lock instance holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Active reports whether the lock is held, by this instance or any other
// holder. Other holders are detected with a short-lived probe lock.
func (l *Lock) Active() (bool, error) {
	if l.Held() {
		return true, nil
	}
	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	probe := flock.New(l.path)
	ok, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe maintenance lock: %w", err)
	}
	if ok {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}

// With runs fn while holding the lock.
func (l *Lock) With(fn func() error) error {
	if err := l.Acquire(); err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}
