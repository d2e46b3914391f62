package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// LockFileName is the lock file kept in the data dir.
const LockFileName = ".lock"

// DirLock is a cross-process lock on a data dir, so two recall processes
// never write the same index files.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for dir. The lock file is <dir>/.lock.
func NewDirLock(dir string) *DirLock {
	path := filepath.Join(dir, LockFileName)
	return &DirLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock acquires the lock without blocking. A lock held by another
// process yields ErrCodeIndexLocked.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return rerrors.New(rerrors.ErrCodeFilePermission, "failed to create data directory", err).
			WithDetail("path", filepath.Dir(l.path))
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return rerrors.New(rerrors.ErrCodeIndexLocked, "index is in use by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Stop the other recall process (recall watch) or use a different data_dir")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. It is safe to call on an unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// IsLocked reports whether this process holds the lock.
func (l *DirLock) IsLocked() bool {
	return l.locked
}
