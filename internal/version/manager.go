package version

import (
	"context"
	"time"

	"github.com/juju/clock"

	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Manager maintains the global version registry: find-or-create by module
// fingerprint, environment links, and retention cleanup.
type Manager struct {
	store storage.MetadataStore
	clock clock.Clock
}

// NewManager builds a manager over the given store.
func NewManager(store storage.MetadataStore, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Manager{store: store, clock: clk}
}

// GetOrCreateGlobalVersion resolves a detection result to its registry row,
// creating it when the fingerprint is new. Reports whether this call
// created the row; a version another environment registered first comes
// back with wasCreated=false, which is what makes metadata sharing kick in.
func (m *Manager) GetOrCreateGlobalVersion(ctx context.Context, envID int64, detected *types.EnvironmentVersion) (*types.GlobalVersion, bool, error) {
	existing, err := m.store.FindGlobalVersionByHash(ctx, detected.ModulesHash)
	if err == nil {
		return existing, false, nil
	}
	if !types.IsKind(err, types.ErrNotFound) {
		return nil, false, err
	}

	gv, err := m.store.CreateGlobalVersion(ctx, detected, envID)
	if err != nil {
		return nil, false, err
	}
	// A concurrent creator can win the insert; the row it made carries its
	// environment id, not ours.
	wasCreated := gv.CreatedByEnvironmentID == envID
	if wasCreated {
		debug.Logf("version: registered global version %s (%d modules)", gv.VersionHash, gv.ModuleCount)
	}
	return gv, wasCreated, nil
}

// LinkEnvironmentToVersion makes versionID the environment's active
// version, preserving the link history.
func (m *Manager) LinkEnvironmentToVersion(ctx context.Context, envID, versionID int64) error {
	return m.store.LinkEnvironmentToVersion(ctx, envID, versionID)
}

// CleanupUnusedVersions deletes versions no environment is on whose last
// use is older than the retention window. Returns how many were removed.
func (m *Manager) CleanupUnusedVersions(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := m.clock.Now().Add(-retention)
	n, err := m.store.CleanupUnusedVersions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		debug.Logf("version: removed %d unused versions older than %s", n, retention)
	}
	return n, nil
}
