// Package lock keeps two xivo-stat runs from updating the
// statistics at the same time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Acquire when another process holds the
// lock.
var ErrLocked = errors.New("xivo-stat is already running")

// Lock is an exclusive advisory lock on a pid file.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path without blocking and records the
// current pid in it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, pid, 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release clears the pid and drops the lock. The file is kept so
// that every run locks the same inode.
func (l *Lock) Release() error {
	path := l.fl.Path()
	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		_ = l.fl.Unlock()
		return fmt.Errorf("clearing pid file: %w", err)
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlocking %s: %w", path, err)
	}
	return nil
}
