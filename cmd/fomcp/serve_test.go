package main

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/lockfile"
)

func TestServeLockOneServerPerCacheDir(t *testing.T) {
	cfg := &config.Config{CacheDir: t.TempDir()}

	lock, err := acquireServeLock(cfg)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// The raw lock reports busy while held.
	if _, err := lockfile.Acquire(cfg.CacheDir, nil); !errors.Is(err, lockfile.ErrLockBusy) {
		t.Errorf("second raw acquire = %v, want ErrLockBusy", err)
	}

	// The helper names the live holder instead.
	_, err = acquireServeLock(cfg)
	if err == nil {
		t.Fatal("second acquire succeeded while lock held")
	}
	if !strings.Contains(err.Error(), "pid") {
		t.Errorf("busy error does not name the holder: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	relock, err := acquireServeLock(cfg)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	_ = relock.Release()
}

func TestServeLockRecordsHolder(t *testing.T) {
	cfg := &config.Config{CacheDir: t.TempDir()}

	lock, err := acquireServeLock(cfg)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lock.Release()

	info, err := lockfile.ReadLockInfo(cfg.CacheDir)
	if err != nil {
		t.Fatalf("read lock info: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", info.PID, os.Getpid())
	}
	if info.IsStale() {
		t.Error("live holder reported stale")
	}
	if info.Database == "" {
		t.Error("database path not recorded")
	}
}
