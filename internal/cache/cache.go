// Package cache provides the read-through tiers in front of the metadata
// database: a bounded in-memory TTL cache and a flock-guarded disk cache.
// Keys carry the global version id, so a version flip orphans stale
// entries instead of requiring eviction.
package cache

import (
	"crypto/sha256"
	"fmt"
)

// Kind names a cached object family. One kind per metadata shape keeps
// ids from colliding across types.
type Kind string

// Cache kinds
const (
	KindDataEntity   Kind = "data_entity"
	KindPublicEntity Kind = "public_entity"
	KindEnumeration  Kind = "enumeration"
	KindActionList   Kind = "actions"
	KindLabel        Kind = "label"
	KindSearch       Kind = "search"
)

// Key identifies one cached object within one global version.
type Key struct {
	GlobalVersionID int64
	Kind            Kind
	ID              string
}

// String renders the canonical key form used for L1 map keys and
// single-flight grouping.
func (k Key) String() string {
	return fmt.Sprintf("v%d/%s/%s", k.GlobalVersionID, k.Kind, k.ID)
}

// shard derives the disk-cache file path components from the key: the
// SHA-256 of the canonical form, split two-level to keep directories small.
func (k Key) shard() (dir1, dir2, name string) {
	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(k.String())))
	return sum[:2], sum[2:4], sum
}
