package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/mwantia/assetsync/internal/syncerr"
)

// DestinationLock guards a destination root against concurrent runs from
// other processes.
type DestinationLock struct {
	flock *flock.Flock
}

func NewDestinationLock(root string) *DestinationLock {
	return &DestinationLock{
		flock: flock.New(LockPath(root)),
	}
}

// Lock acquires the lock without blocking. A lock held elsewhere returns
// syncerr.ErrDestinationLocked.
func (l *DestinationLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock destination: %w", err)
	}
	if !locked {
		return syncerr.ErrDestinationLocked
	}
	return nil
}

// Unlock releases the lock and removes the lock file if this process owns it.
func (l *DestinationLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock destination: %w", err)
	}
	return os.Remove(l.flock.Path())
}
