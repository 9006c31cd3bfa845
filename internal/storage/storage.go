// Package storage defines the MetadataStore interface over the version-
// scoped metadata database. The sqlite subpackage provides the only
// implementation; consumers depend on this interface so tests can swap in
// lighter fakes where useful.
package storage

import (
	"context"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// EntityFilter narrows ListDataEntities. Zero values mean "no constraint".
type EntityFilter struct {
	Category              types.EntityCategory
	DataServiceEnabled    *bool
	DataManagementEnabled *bool
	IsReadOnly            *bool
	// NamePattern is a case-insensitive substring match on the entity name.
	NamePattern string
}

// ActionFilter narrows ListActions. Zero values mean "no constraint".
type ActionFilter struct {
	EntityName  string
	BindingKind types.BindingKind
	// NamePattern is a case-insensitive substring match on the action name.
	NamePattern string
}

// Counts reports how many rows a global version holds per metadata kind.
type Counts struct {
	DataEntities   int `json:"data_entities"`
	PublicEntities int `json:"public_entities"`
	Enumerations   int `json:"enumerations"`
	Actions        int `json:"actions"`
	Labels         int `json:"labels"`
}

// CopyKinds selects which metadata kinds CopyVersionMetadata clones.
type CopyKinds struct {
	Entities     bool
	Enumerations bool
	Actions      bool
	Labels       bool
}

// MetadataStore is the persistence boundary of the core. All reads are
// scoped by global version id; writes within one call are atomic.
type MetadataStore interface {
	// Environments
	GetOrCreateEnvironment(ctx context.Context, baseURL, displayName string) (*types.Environment, error)
	GetEnvironment(ctx context.Context, id int64) (*types.Environment, error)
	GetEnvironmentByURL(ctx context.Context, baseURL string) (*types.Environment, error)
	TouchEnvironmentSync(ctx context.Context, envID int64, at time.Time) error

	// Global version registry
	FindGlobalVersionByHash(ctx context.Context, modulesHash string) (*types.GlobalVersion, error)
	CreateGlobalVersion(ctx context.Context, detected *types.EnvironmentVersion, createdByEnvID int64) (*types.GlobalVersion, error)
	GetGlobalVersion(ctx context.Context, id int64) (*types.GlobalVersion, error)
	ListGlobalVersions(ctx context.Context) ([]*types.GlobalVersion, error)

	// Environment/version links
	LinkEnvironmentToVersion(ctx context.Context, envID, versionID int64) error
	ActiveVersionLink(ctx context.Context, envID int64) (*types.EnvironmentVersionLink, error)
	ListEnvironmentVersions(ctx context.Context, envID int64) ([]*types.EnvironmentVersionLink, error)
	SetSyncStatus(ctx context.Context, envID, versionID int64, status types.SyncStatus, durationMS int64) error
	// HasCompletedSync reports whether any environment other than
	// excludeEnvID has a completed sync of versionID.
	HasCompletedSync(ctx context.Context, versionID, excludeEnvID int64) (bool, error)
	// CleanupUnusedVersions deletes versions with zero references whose
	// last_used_at is older than the cutoff, cascading metadata rows.
	CleanupUnusedVersions(ctx context.Context, olderThan time.Time) (int, error)

	// Metadata writes. Each call is one transaction.
	UpsertDataEntities(ctx context.Context, versionID int64, entities []*types.DataEntity) error
	UpsertPublicEntities(ctx context.Context, versionID int64, entities []*types.PublicEntity) error
	UpsertEnumerations(ctx context.Context, versionID int64, enums []*types.Enumeration) error
	UpsertActions(ctx context.Context, versionID int64, actions []*types.EntityAction) error
	UpsertLabels(ctx context.Context, versionID int64, labels []types.Label) error
	// CopyVersionMetadata clones rows of the selected kinds from one
	// version to another. Returns the number of top-level rows copied.
	CopyVersionMetadata(ctx context.Context, fromID, toID int64, kinds CopyKinds) (int, error)

	// Metadata reads
	GetDataEntity(ctx context.Context, versionID int64, name string) (*types.DataEntity, error)
	GetPublicEntity(ctx context.Context, versionID int64, name string) (*types.PublicEntity, error)
	ListDataEntities(ctx context.Context, versionID int64, filter EntityFilter, limit, offset int) (*types.Page[*types.DataEntity], error)
	GetEnumeration(ctx context.Context, versionID int64, name string) (*types.Enumeration, error)
	ListActions(ctx context.Context, versionID int64, filter ActionFilter, limit, offset int) (*types.Page[*types.EntityAction], error)
	GetLabel(ctx context.Context, versionID int64, labelID, language string) (*types.Label, error)
	GetLabelsBatch(ctx context.Context, versionID int64, labelIDs []string, language string) (map[string]string, error)
	MetadataCounts(ctx context.Context, versionID int64) (*Counts, error)

	// Search index
	RebuildSearchIndex(ctx context.Context, versionID int64) error
	Search(ctx context.Context, versionID int64, query *types.SearchQuery) ([]types.SearchResult, error)
	// PendingRebuilds lists versions queued for an index rebuild, set when
	// a legacy FTS table had to be recreated.
	PendingRebuilds(ctx context.Context) ([]int64, error)
	ClearPendingRebuild(ctx context.Context, versionID int64) error

	// Sync sessions
	CreateSyncSession(ctx context.Context, session *types.SyncSession) error
	UpdateSyncSession(ctx context.Context, session *types.SyncSession) error
	GetSyncSession(ctx context.Context, id string) (*types.SyncSession, error)
	// ListSyncSessions filters by environment (0 = all) and state
	// ("" = all), newest first, up to limit (0 = no limit).
	ListSyncSessions(ctx context.Context, envID int64, state types.SyncState, limit int) ([]*types.SyncSession, error)
	// ActiveSyncSession returns the non-terminal session for an
	// environment, or nil.
	ActiveSyncSession(ctx context.Context, envID int64) (*types.SyncSession, error)

	// ReadOnly reports whether the store refused writes after a failed
	// migration.
	ReadOnly() bool
	Path() string
	Close() error
}
