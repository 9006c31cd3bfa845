package cache

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/lockfile"
)

// DefaultDiskBudget bounds the L2 tier when the config leaves it unset.
const DefaultDiskBudget int64 = 100 << 20 // 100 MB

// Disk is the L2 tier: one JSON file per entry under a two-level shard
// tree, shared across processes. Writers take an exclusive flock on the
// entry file itself; readers take a shared one, so a reader never sees a
// half-written payload.
type Disk struct {
	root   string
	budget int64
}

// NewDisk builds the L2 tier rooted at dir, creating it if absent.
// A non-positive budget falls back to the default.
func NewDisk(dir string, budget int64) (*Disk, error) {
	if budget <= 0 {
		budget = DefaultDiskBudget
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Disk{root: dir, budget: budget}, nil
}

// Root returns the cache directory.
func (d *Disk) Root() string { return d.root }

func (d *Disk) entryPath(key Key) string {
	dir1, dir2, name := key.shard()
	return filepath.Join(d.root, dir1, dir2, name+".json")
}

// Get reads a cached payload. Any failure, including lock contention with
// a writer, reads as a miss; the caller falls through to the next tier.
func (d *Disk) Get(key Key) ([]byte, bool) {
	path := d.entryPath(key)
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer func() { _ = f.Close() }()
	if err := lockfile.FlockSharedNonBlock(f); err != nil {
		return nil, false
	}
	defer func() { _ = lockfile.FlockUnlock(f) }()

	payload, err := os.ReadFile(path)
	if err != nil || len(payload) == 0 {
		return nil, false
	}
	// Freshen the mtime so the eviction sweep treats reads as use.
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return payload, true
}

// Put stores a payload, then sweeps the tier back under budget if the
// write pushed it over. Write errors are logged and swallowed; the disk
// tier is an optimization, never a source of truth.
func (d *Disk) Put(key Key, payload []byte) {
	path := d.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		debug.Logf("cache: create shard dir: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		debug.Logf("cache: open %s: %v", path, err)
		return
	}
	defer func() { _ = f.Close() }()
	if err := lockfile.FlockExclusiveBlocking(f); err != nil {
		debug.Logf("cache: lock %s: %v", path, err)
		return
	}
	defer func() { _ = lockfile.FlockUnlock(f) }()

	if err := f.Truncate(0); err != nil {
		return
	}
	if _, err := f.Write(payload); err != nil {
		debug.Logf("cache: write %s: %v", path, err)
		_ = os.Remove(path)
		return
	}

	d.evictOverBudget()
}

// Remove drops one entry.
func (d *Disk) Remove(key Key) {
	_ = os.Remove(d.entryPath(key))
}

type diskEntry struct {
	path  string
	size  int64
	mtime time.Time
}

// evictOverBudget deletes oldest-mtime entries until the tier fits the
// byte budget again.
func (d *Disk) evictOverBudget() {
	var entries []diskEntry
	var total int64
	_ = filepath.Walk(d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		entries = append(entries, diskEntry{path: path, size: info.Size(), mtime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if total <= d.budget {
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.Before(entries[j].mtime) })
	for _, e := range entries {
		if total <= d.budget {
			break
		}
		if err := os.Remove(e.path); err == nil {
			total -= e.size
		}
	}
}
