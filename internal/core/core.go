// Package core wires the storage, cache, label, search, and sync layers
// into the public API the CLI and MCP server consume. One Core serves one
// environment, identified by the profile's base URL.
package core

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/auth"
	"github.com/dynamicsmcp/fomcp/internal/cache"
	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/labels"
	"github.com/dynamicsmcp/fomcp/internal/odata"
	"github.com/dynamicsmcp/fomcp/internal/search"
	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/storage/sqlite"
	"github.com/dynamicsmcp/fomcp/internal/syncer"
	"github.com/dynamicsmcp/fomcp/internal/types"
	"github.com/dynamicsmcp/fomcp/internal/version"
	"github.com/juju/clock"
)

// DatabaseFile is the metadata database name inside the cache dir.
const DatabaseFile = "metadata.sqlite"

// DiskCacheDir is the disk tier directory inside the cache dir.
const DiskCacheDir = "diskcache"

// Options overrides the pieces Core builds itself. Tests inject fakes
// here; production passes the zero value.
type Options struct {
	Store    storage.MetadataStore
	Client   odata.Client
	Fetcher  labels.Fetcher
	Clock    clock.Clock
	Progress func(types.SyncProgress)
	// SyncConcurrency bounds in-flight metadata requests during sync.
	// Zero uses the syncer default.
	SyncConcurrency int
}

// Core is the public surface of the metadata cache: version-scoped reads,
// label resolution, search, and sync control.
type Core struct {
	cfg       *config.Config
	store     storage.MetadataStore
	client    odata.Client
	tiers     *cache.Tiered
	labels    *labels.Resolver
	engine    *search.Engine
	syncer    *syncer.Syncer
	manager   *version.Manager
	fetcher   labels.Fetcher
	clock     clock.Clock
	ownsStore bool

	mu    sync.Mutex
	envID int64
}

// New builds a Core for the environment the config names. The metadata
// database and disk cache live under cfg.CacheDir.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Core, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Core{
		cfg:    cfg,
		store:  opts.Store,
		client: opts.Client,
		clock:  opts.Clock,
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	if c.store == nil {
		store, err := sqlite.Open(ctx, filepath.Join(cfg.CacheDir, DatabaseFile))
		if err != nil {
			return nil, err
		}
		c.store = store
		c.ownsStore = true
	}
	if c.client == nil {
		tokens, err := auth.NewProvider(cfg)
		if err != nil {
			if c.ownsStore {
				_ = c.store.Close()
			}
			return nil, err
		}
		c.client = odata.NewHTTPClient(cfg.BaseURL, tokens, odata.Options{
			TimeoutSeconds:     cfg.TimeoutSeconds,
			InsecureSkipVerify: !cfg.VerifySSL,
		})
	}

	mem := cache.NewMemory(cfg.MaxMemoryCacheSize, 0)
	disk, err := cache.NewDisk(filepath.Join(cfg.CacheDir, DiskCacheDir), 0)
	if err != nil {
		debug.Logf("core: disk cache unavailable: %v", err)
		disk = nil
	}
	c.tiers = cache.NewTiered(mem, disk)

	c.fetcher = opts.Fetcher
	if c.fetcher == nil {
		c.fetcher = labels.NewODataFetcher(c.client)
	}
	labelTiers := c.tiers
	if !cfg.UseLabelCache {
		labelTiers = nil
	}
	c.labels = labels.NewResolver(c.store, c.fetcher, labelTiers)
	c.engine = search.NewEngine(c.store)

	detector := version.NewDetector(c.clock)
	c.manager = version.NewManager(c.store, c.clock)
	c.syncer = syncer.New(c.store, detector, c.manager, syncer.Options{
		Concurrency: opts.SyncConcurrency,
		Progress:    opts.Progress,
		Clock:       c.clock,
	})
	return c, nil
}

// Close releases the store if this Core opened it.
func (c *Core) Close() error {
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}

// Store exposes the underlying store for read-only consumers (CLI
// formatting, MCP resources).
func (c *Core) Store() storage.MetadataStore { return c.store }

// BaseURL returns the environment base URL the core is bound to.
func (c *Core) BaseURL() string { return c.cfg.BaseURL }

// environmentID resolves and caches the environment row id.
func (c *Core) environmentID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.envID != 0 {
		return c.envID, nil
	}
	display := c.cfg.BaseURL
	if u, err := url.Parse(c.cfg.BaseURL); err == nil && u.Hostname() != "" {
		display = u.Hostname()
	}
	env, err := c.store.GetOrCreateEnvironment(ctx, c.cfg.BaseURL, display)
	if err != nil {
		return 0, err
	}
	c.envID = env.ID
	return env.ID, nil
}

// activeVersionID returns the environment's active, completed version.
// Reads refuse half-synced versions; sync first.
func (c *Core) activeVersionID(ctx context.Context) (int64, error) {
	envID, err := c.environmentID(ctx)
	if err != nil {
		return 0, err
	}
	link, err := c.store.ActiveVersionLink(ctx, envID)
	if err != nil {
		if types.IsKind(err, types.ErrNotFound) {
			return 0, types.NewError(types.ErrNotFound,
				"no synced metadata for %s; run a sync first", c.cfg.BaseURL)
		}
		return 0, err
	}
	if link.SyncStatus != types.SyncStatusCompleted {
		return 0, types.NewError(types.ErrNotFound,
			"metadata sync for %s is %s; wait for it to complete", c.cfg.BaseURL, link.SyncStatus)
	}
	return link.GlobalVersionID, nil
}

// cachedRead runs a read through the L1/L2 tiers with a JSON payload.
func cachedRead[T any](ctx context.Context, c *Core, key cache.Key, load func(ctx context.Context) (*T, error)) (*T, error) {
	payload, err := c.tiers.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(payload, v); err != nil {
		// A corrupt cache entry falls back to the loader directly.
		c.tiers.Remove(key)
		return load(ctx)
	}
	return v, nil
}

// GetEntity returns one entity by name. kind selects the data entity
// summary row or the full public schema.
func (c *Core) GetEntity(ctx context.Context, name string, kind types.EntityKind) (*types.Entity, error) {
	versionID, err := c.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}

	switch kind {
	case types.KindData:
		key := cache.Key{GlobalVersionID: versionID, Kind: cache.KindDataEntity, ID: strings.ToLower(name)}
		var entity *types.DataEntity
		if c.cfg.UseCacheFirst {
			entity, err = cachedRead(ctx, c, key, func(ctx context.Context) (*types.DataEntity, error) {
				return c.store.GetDataEntity(ctx, versionID, name)
			})
		} else {
			entity, err = c.liveDataEntity(ctx, versionID, name, key)
		}
		if err != nil {
			return nil, err
		}
		return types.DataEntityOf(entity), nil

	case types.KindPublic:
		key := cache.Key{GlobalVersionID: versionID, Kind: cache.KindPublicEntity, ID: strings.ToLower(name)}
		var entity *types.PublicEntity
		if c.cfg.UseCacheFirst {
			entity, err = cachedRead(ctx, c, key, func(ctx context.Context) (*types.PublicEntity, error) {
				return c.store.GetPublicEntity(ctx, versionID, name)
			})
		} else {
			entity, err = c.livePublicEntity(ctx, versionID, name, key)
		}
		if err != nil {
			return nil, err
		}
		return types.PublicEntityOf(entity), nil
	}
	return nil, types.NewError(types.ErrNotFound, "unknown entity kind %q", kind)
}

// liveDataEntity fetches the entity feed from the environment, refreshing
// the stored row and the cache tiers. The stored row is the fallback when
// the environment is unreachable.
func (c *Core) liveDataEntity(ctx context.Context, versionID int64, name string, key cache.Key) (*types.DataEntity, error) {
	all, _, err := syncer.FetchDataEntities(ctx, c.client)
	if err != nil {
		if cached, serr := c.store.GetDataEntity(ctx, versionID, name); serr == nil {
			return cached, nil
		}
		return nil, err
	}
	for _, e := range all {
		if strings.EqualFold(e.Name, name) {
			if uerr := c.store.UpsertDataEntities(ctx, versionID, []*types.DataEntity{e}); uerr != nil {
				debug.Logf("core: repopulate data entity %s: %v", name, uerr)
			}
			c.putCache(key, e)
			return e, nil
		}
	}
	return nil, types.NewError(types.ErrNotFound, "data entity %q not found", name)
}

// livePublicEntity fetches one schema from the environment, refreshing the
// stored row and the cache tiers.
func (c *Core) livePublicEntity(ctx context.Context, versionID int64, name string, key cache.Key) (*types.PublicEntity, error) {
	live, err := syncer.FetchPublicEntity(ctx, c.client, name)
	if err != nil {
		if types.IsKind(err, types.ErrNotFound) {
			return nil, err
		}
		if cached, serr := c.store.GetPublicEntity(ctx, versionID, name); serr == nil {
			return cached, nil
		}
		return nil, err
	}
	if uerr := c.store.UpsertPublicEntities(ctx, versionID, []*types.PublicEntity{live}); uerr != nil {
		debug.Logf("core: repopulate public entity %s: %v", name, uerr)
	}
	c.putCache(key, live)
	return live, nil
}

// putCache refreshes the L1/L2 tiers with a freshly fetched value.
func (c *Core) putCache(key cache.Key, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.tiers.Put(key, payload)
}

// ListEntities pages through the data entity summaries of the active
// version.
func (c *Core) ListEntities(ctx context.Context, filter storage.EntityFilter, limit, offset int) (*types.Page[*types.Entity], error) {
	versionID, err := c.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	page, err := c.store.ListDataEntities(ctx, versionID, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	out := &types.Page[*types.Entity]{Total: page.Total, NextOffset: page.NextOffset}
	for _, e := range page.Items {
		out.Items = append(out.Items, types.DataEntityOf(e))
	}
	return out, nil
}

// GetEnumeration returns one enumeration with its members.
func (c *Core) GetEnumeration(ctx context.Context, name string) (*types.Enumeration, error) {
	versionID, err := c.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	key := cache.Key{GlobalVersionID: versionID, Kind: cache.KindEnumeration, ID: strings.ToLower(name)}
	if c.cfg.UseCacheFirst {
		return cachedRead(ctx, c, key, func(ctx context.Context) (*types.Enumeration, error) {
			return c.store.GetEnumeration(ctx, versionID, name)
		})
	}
	return c.liveEnumeration(ctx, versionID, name, key)
}

// liveEnumeration fetches the enumeration feed from the environment,
// refreshing the stored row and the cache tiers.
func (c *Core) liveEnumeration(ctx context.Context, versionID int64, name string, key cache.Key) (*types.Enumeration, error) {
	all, _, err := syncer.FetchEnumerations(ctx, c.client)
	if err != nil {
		if cached, serr := c.store.GetEnumeration(ctx, versionID, name); serr == nil {
			return cached, nil
		}
		return nil, err
	}
	for _, e := range all {
		if strings.EqualFold(e.Name, name) {
			if uerr := c.store.UpsertEnumerations(ctx, versionID, []*types.Enumeration{e}); uerr != nil {
				debug.Logf("core: repopulate enumeration %s: %v", name, uerr)
			}
			c.putCache(key, e)
			return e, nil
		}
	}
	return nil, types.NewError(types.ErrNotFound, "enumeration %q not found", name)
}

// GetActions pages through the actions of the active version.
func (c *Core) GetActions(ctx context.Context, filter storage.ActionFilter, limit, offset int) (*types.Page[*types.EntityAction], error) {
	versionID, err := c.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.store.ListActions(ctx, versionID, filter, limit, offset)
}

// Search runs a metadata search scoped to the active version.
func (c *Core) Search(ctx context.Context, query *types.SearchQuery) ([]types.SearchResult, error) {
	versionID, err := c.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.engine.Search(ctx, versionID, query)
}

// GetLabel resolves one label id. Missing labels return ok=false.
func (c *Core) GetLabel(ctx context.Context, id, language string) (string, bool, error) {
	versionID, err := c.activeVersionID(ctx)
	if err != nil {
		return "", false, err
	}
	return c.labels.GetLabel(ctx, versionID, id, c.language(language), true)
}

// GetLabelsBatch resolves many label ids in one pass.
func (c *Core) GetLabelsBatch(ctx context.Context, ids []string, language string) (map[string]string, error) {
	versionID, err := c.activeVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.labels.GetLabelsBatch(ctx, versionID, ids, c.language(language), true)
}

// ResolveLabels fills in label texts across a metadata object graph.
func (c *Core) ResolveLabels(ctx context.Context, language string, objs ...any) error {
	versionID, err := c.activeVersionID(ctx)
	if err != nil {
		return err
	}
	return c.labels.ResolveLabels(ctx, versionID, c.language(language), objs...)
}

func (c *Core) language(requested string) string {
	if requested != "" {
		return requested
	}
	return c.cfg.Language
}

// GetEnvironmentInfo aggregates the environment, its active version, and
// the row counts behind it.
func (c *Core) GetEnvironmentInfo(ctx context.Context) (*types.EnvironmentInfo, error) {
	envID, err := c.environmentID(ctx)
	if err != nil {
		return nil, err
	}
	env, err := c.store.GetEnvironment(ctx, envID)
	if err != nil {
		return nil, err
	}
	info := &types.EnvironmentInfo{Environment: *env, LastSyncAt: env.LastSyncAt}

	link, err := c.store.ActiveVersionLink(ctx, envID)
	if err != nil {
		if types.IsKind(err, types.ErrNotFound) {
			return info, nil
		}
		return nil, err
	}
	info.SyncStatus = link.SyncStatus
	info.LastSyncDurationMS = link.LastSyncDurationMS

	gv, err := c.store.GetGlobalVersion(ctx, link.GlobalVersionID)
	if err != nil {
		return nil, err
	}
	info.ActiveVersion = gv
	info.ApplicationVersion = gv.ApplicationVersion
	info.PlatformVersion = gv.PlatformVersion

	counts, err := c.store.MetadataCounts(ctx, gv.ID)
	if err != nil {
		return nil, err
	}
	info.DataEntityCount = counts.DataEntities
	info.PublicEntityCount = counts.PublicEntities
	info.EnumerationCount = counts.Enumerations
	info.ActionCount = counts.Actions
	info.LabelCount = counts.Labels
	return info, nil
}

// StartSync opens a sync session. An empty strategy selects one
// automatically after version detection.
func (c *Core) StartSync(ctx context.Context, strategy types.SyncStrategy) (*types.SyncSession, error) {
	envID, err := c.environmentID(ctx)
	if err != nil {
		return nil, err
	}
	return c.syncer.Start(ctx, c.client, c.fetcher, envID, strategy)
}

// GetSyncProgress returns the current state of a session.
func (c *Core) GetSyncProgress(ctx context.Context, sessionID string) (*types.SyncSession, error) {
	return c.store.GetSyncSession(ctx, sessionID)
}

// CancelSync requests cancellation; terminal sessions return a
// not_cancellable error.
func (c *Core) CancelSync(ctx context.Context, sessionID string) error {
	return c.syncer.Cancel(ctx, sessionID)
}

// WaitForSync blocks until the session's worker finishes.
func (c *Core) WaitForSync(ctx context.Context, sessionID string) error {
	return c.syncer.Wait(ctx, sessionID)
}

// ListSyncSessions lists this environment's sessions, newest first,
// optionally filtered by state.
func (c *Core) ListSyncSessions(ctx context.Context, state types.SyncState) ([]*types.SyncSession, error) {
	envID, err := c.environmentID(ctx)
	if err != nil {
		return nil, err
	}
	return c.store.ListSyncSessions(ctx, envID, state, 0)
}

// GetSyncHistory returns the most recent sessions, up to limit.
func (c *Core) GetSyncHistory(ctx context.Context, limit int) ([]*types.SyncSession, error) {
	envID, err := c.environmentID(ctx)
	if err != nil {
		return nil, err
	}
	return c.store.ListSyncSessions(ctx, envID, "", limit)
}

// ListVersions lists every known global version, newest first.
func (c *Core) ListVersions(ctx context.Context) ([]*types.GlobalVersion, error) {
	return c.store.ListGlobalVersions(ctx)
}

// CleanupVersions deletes versions no environment references whose last
// use is older than the retention window, and reports how many went.
func (c *Core) CleanupVersions(ctx context.Context, retention time.Duration) (int, error) {
	return c.manager.CleanupUnusedVersions(ctx, retention)
}
