package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the payload on a full cache miss, typically from the
// database or the remote environment.
type Loader func(ctx context.Context) ([]byte, error)

// Tiered chains L1 and L2 in front of a loader with single-flight per
// key, so concurrent misses for the same object produce one load.
type Tiered struct {
	mem   *Memory
	disk  *Disk
	group singleflight.Group
}

// NewTiered builds the tier chain. disk may be nil (memory-only).
func NewTiered(mem *Memory, disk *Disk) *Tiered {
	return &Tiered{mem: mem, disk: disk}
}

// Get returns the payload for key, consulting L1, then L2, then the
// loader. Loaded payloads populate both tiers on the way back.
func (t *Tiered) Get(ctx context.Context, key Key, load Loader) ([]byte, error) {
	if payload, ok := t.mem.Get(key); ok {
		return payload, nil
	}
	if t.disk != nil {
		if payload, ok := t.disk.Get(key); ok {
			t.mem.Put(key, payload)
			return payload, nil
		}
	}

	payload, err, _ := t.group.Do(key.String(), func() (any, error) {
		// A concurrent winner may have populated L1 while this call
		// queued behind it.
		if cached, ok := t.mem.Get(key); ok {
			return cached, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		t.Put(key, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.([]byte), nil
}

// Lookup checks the tiers without invoking a loader. Disk hits are
// promoted to memory, same as Get.
func (t *Tiered) Lookup(key Key) ([]byte, bool) {
	if payload, ok := t.mem.Get(key); ok {
		return payload, true
	}
	if t.disk != nil {
		if payload, ok := t.disk.Get(key); ok {
			t.mem.Put(key, payload)
			return payload, true
		}
	}
	return nil, false
}

// Put stores a payload in every tier.
func (t *Tiered) Put(key Key, payload []byte) {
	t.mem.Put(key, payload)
	if t.disk != nil {
		t.disk.Put(key, payload)
	}
}

// Remove drops a key from every tier.
func (t *Tiered) Remove(key Key) {
	t.mem.Remove(key)
	if t.disk != nil {
		t.disk.Remove(key)
	}
}
