//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// FlockExclusiveNonBlocking attempts to acquire an exclusive non-blocking lock.
// Returns nil if lock acquired, ErrLockBusy if lock is held by another process.
func FlockExclusiveNonBlocking(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

// FlockExclusiveBlocking acquires an exclusive blocking lock on the file.
// This will wait until the lock is available.
func FlockExclusiveBlocking(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// FlockUnlock releases a lock on the file.
func FlockUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
