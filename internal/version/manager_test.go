package version

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/dynamicsmcp/fomcp/internal/storage/sqlite"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

func newTestManager(t *testing.T) (*Manager, *sqlite.Store, *testclock.Clock) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/metadata.sqlite")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clk := testclock.NewClock(time.Now())
	return NewManager(store, clk), store, clk
}

func detection(modules ...types.Module) *types.EnvironmentVersion {
	hash := types.ComputeModulesHash(modules)
	return &types.EnvironmentVersion{
		Modules:     modules,
		ModulesHash: hash,
		VersionHash: types.ShortVersionHash(hash),
		DetectedAt:  time.Now().UTC(),
	}
}

func TestGetOrCreateGlobalVersion(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	envA, err := store.GetOrCreateEnvironment(ctx, "https://a.example", "a")
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	envB, err := store.GetOrCreateEnvironment(ctx, "https://b.example", "b")
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	detected := detection(types.Module{ModuleID: "ApplicationFoundation", Version: "7.0.7521.60"})
	gv, created, err := mgr.GetOrCreateGlobalVersion(ctx, envA.ID, detected)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if !created {
		t.Error("first registration should report created")
	}
	if gv.CreatedByEnvironmentID != envA.ID {
		t.Errorf("creator = %d, want %d", gv.CreatedByEnvironmentID, envA.ID)
	}

	// A second environment with the same fingerprint adopts the row.
	same, created, err := mgr.GetOrCreateGlobalVersion(ctx, envB.ID, detected)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if created {
		t.Error("existing fingerprint should not report created")
	}
	if same.ID != gv.ID {
		t.Errorf("got version %d, want shared %d", same.ID, gv.ID)
	}
}

func TestCleanupUnusedVersionsRetentionWindow(t *testing.T) {
	mgr, store, clk := newTestManager(t)
	ctx := context.Background()

	env, err := store.GetOrCreateEnvironment(ctx, "https://a.example", "a")
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	active := detection(types.Module{ModuleID: "Current", Version: "2.0"})
	activeGV, _, err := mgr.GetOrCreateGlobalVersion(ctx, env.ID, active)
	if err != nil {
		t.Fatalf("create active: %v", err)
	}
	if err := mgr.LinkEnvironmentToVersion(ctx, env.ID, activeGV.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	orphan := detection(types.Module{ModuleID: "Old", Version: "1.0"})
	orphanGV, _, err := mgr.GetOrCreateGlobalVersion(ctx, env.ID, orphan)
	if err != nil {
		t.Fatalf("create orphan: %v", err)
	}

	// Inside the retention window nothing is removed.
	n, err := mgr.CleanupUnusedVersions(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d inside retention, want 0", n)
	}

	// Once the clock passes the window, only the unreferenced version goes.
	clk.Advance(31 * 24 * time.Hour)
	n, err = mgr.CleanupUnusedVersions(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := store.GetGlobalVersion(ctx, orphanGV.ID); !types.IsKind(err, types.ErrNotFound) {
		t.Errorf("orphan survived: %v", err)
	}
	if _, err := store.GetGlobalVersion(ctx, activeGV.ID); err != nil {
		t.Errorf("referenced version removed: %v", err)
	}
}
