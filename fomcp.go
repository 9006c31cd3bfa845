// Package fomcp provides a minimal public API for embedding the D365 F&O
// metadata cache in other Go programs.
//
// Most integrations should talk to the MCP server over stdio or HTTP.
// This package exports only the essential types and functions needed by
// programs that want to use the cache and sync engine programmatically.
package fomcp

import (
	"context"

	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/core"
	"github.com/dynamicsmcp/fomcp/internal/storage/sqlite"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Core types for working with cached metadata.
type (
	Config          = config.Config
	Entity          = types.Entity
	DataEntity      = types.DataEntity
	PublicEntity    = types.PublicEntity
	Enumeration     = types.Enumeration
	EntityAction    = types.EntityAction
	SearchQuery     = types.SearchQuery
	SearchResult    = types.SearchResult
	SyncSession     = types.SyncSession
	SyncProgress    = types.SyncProgress
	EnvironmentInfo = types.EnvironmentInfo
	GlobalVersion   = types.GlobalVersion
)

// EntityKind constants.
const (
	KindData   = types.KindData
	KindPublic = types.KindPublic
)

// Sync strategy constants.
const (
	StrategyFull              = types.StrategyFull
	StrategyFullWithoutLabels = types.StrategyFullWithoutLabels
	StrategyEntitiesOnly      = types.StrategyEntitiesOnly
	StrategyLabelsOnly        = types.StrategyLabelsOnly
	StrategySharingMode       = types.StrategySharingMode
	StrategyIncremental       = types.StrategyIncremental
)

// Sync session state constants.
const (
	SyncStatePending    = types.SyncStatePending
	SyncStateRunning    = types.SyncStateRunning
	SyncStateCancelling = types.SyncStateCancelling
	SyncStateCompleted  = types.SyncStateCompleted
	SyncStateFailed     = types.SyncStateFailed
	SyncStateCancelled  = types.SyncStateCancelled
)

// Client is the embedded cache and sync engine.
type Client = core.Core

// DefaultConfig returns a Config with the documented defaults applied.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// Open connects to an environment described by cfg, backed by the SQLite
// cache under cfg.CacheDir. The caller owns the returned Client and must
// Close it.
func Open(ctx context.Context, cfg *config.Config) (*Client, error) {
	return core.New(ctx, cfg, core.Options{})
}

// OpenStore opens just the SQLite metadata store at path, without an
// environment connection. Useful for offline inspection of a cache file.
func OpenStore(ctx context.Context, path string) (*sqlite.Store, error) {
	return sqlite.Open(ctx, path)
}
