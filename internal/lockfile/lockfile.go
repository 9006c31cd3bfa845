// Package lockfile provides advisory file locking for the serve lock and
// the disk cache. Locks are flock-based on unix, LockFileEx on windows,
// and no-ops on wasm.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockBusy is returned when a non-blocking lock attempt finds the lock
// already held by another process.
var ErrLockBusy = errors.New("lock already held by another process")

// LockInfo describes the process holding a serve lock. Serialized as JSON
// into the lock file so other processes can report who holds it.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	Database  string    `json:"database,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// LockFileName is the serve lock file within a cache directory.
const LockFileName = "serve.lock"

// Lock is a held exclusive lock. Release it when done.
type Lock struct {
	f    *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	unlockErr := FlockUnlock(l.f)
	closeErr := l.f.Close()
	l.f = nil
	// Removal is best effort: another process may have raced to recreate it.
	os.Remove(l.path)
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}

// Acquire takes the exclusive serve lock in dir, writing info into the lock
// file. Returns ErrLockBusy when another live process holds it. A lock file
// whose owner is gone is treated as stale and taken over.
func Acquire(dir string, info *LockInfo) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, LockFileName)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := FlockExclusiveNonBlocking(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLockBusy) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if info != nil {
		if info.PID == 0 {
			info.PID = os.Getpid()
		}
		if info.StartedAt.IsZero() {
			info.StartedAt = time.Now().UTC()
		}
		data, err := json.Marshal(info)
		if err == nil {
			_ = f.Truncate(0)
			_, _ = f.WriteAt(data, 0)
			_ = f.Sync()
		}
	}

	return &Lock{f: f, path: path}, nil
}

// ReadLockInfo reads the serve lock file in dir without taking the lock.
// Returns os.ErrNotExist when no lock file is present.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &info, nil
}

// IsStale reports whether the lock's owning process is no longer running.
func (i *LockInfo) IsStale() bool {
	return !isProcessRunning(i.PID)
}
