package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemorySize bounds the L1 entry count when the config leaves it unset.
const DefaultMemorySize = 1000

// DefaultMemoryTTL is the L1 entry lifetime when the config leaves it unset.
const DefaultMemoryTTL = 5 * time.Minute

// Memory is the L1 tier: a bounded LRU with per-entry TTL. Values are the
// JSON payloads the tiers pass around; decoding happens at the edge.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory builds the L1 tier. Non-positive size or TTL fall back to the
// defaults.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns the cached payload, if present and unexpired.
func (m *Memory) Get(key Key) ([]byte, bool) {
	return m.lru.Get(key.String())
}

// Put stores a payload under the key.
func (m *Memory) Put(key Key, payload []byte) {
	m.lru.Add(key.String(), payload)
}

// Remove drops one entry. Version-keyed entries rarely need this; it
// exists for explicit invalidation after writes.
func (m *Memory) Remove(key Key) {
	m.lru.Remove(key.String())
}

// Len reports the live entry count.
func (m *Memory) Len() int { return m.lru.Len() }

// Purge empties the tier.
func (m *Memory) Purge() { m.lru.Purge() }
