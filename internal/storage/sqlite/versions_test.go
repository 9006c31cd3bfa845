package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

func TestGetOrCreateEnvironmentCanonicalizesURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.GetOrCreateEnvironment(ctx, "https://Contoso.Dynamics.COM/", "contoso")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := store.GetOrCreateEnvironment(ctx, "https://contoso.dynamics.com", "other")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("equivalent URLs produced distinct environments: %d vs %d", a.ID, b.ID)
	}
	if b.BaseURL != "https://contoso.dynamics.com" {
		t.Errorf("base URL not canonical: %q", b.BaseURL)
	}
}

func TestCreateGlobalVersionDeduplicatesByHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	modules := testModules()
	hash := types.ComputeModulesHash(modules)

	detected := &types.EnvironmentVersion{
		Modules:     modules,
		ModulesHash: hash,
		VersionHash: types.ShortVersionHash(hash),
	}
	first, err := store.CreateGlobalVersion(ctx, detected, 0)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := store.CreateGlobalVersion(ctx, detected, 0)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same hash created two versions: %d vs %d", first.ID, second.ID)
	}
	if len(first.SampleModules) != len(modules) {
		t.Errorf("sample modules = %d, want %d", len(first.SampleModules), len(modules))
	}
}

func TestLinkEnvironmentSingleActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	envID, v1 := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	otherModules := append(testModules(), types.Module{ModuleID: "Retail", Version: "7.0.1"})
	hash := types.ComputeModulesHash(otherModules)
	v2gv, err := store.CreateGlobalVersion(ctx, &types.EnvironmentVersion{
		Modules: otherModules, ModulesHash: hash, VersionHash: types.ShortVersionHash(hash),
	}, envID)
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if err := store.LinkEnvironmentToVersion(ctx, envID, v2gv.ID); err != nil {
		t.Fatalf("link v2: %v", err)
	}

	active, err := store.ActiveVersionLink(ctx, envID)
	if err != nil {
		t.Fatalf("active link: %v", err)
	}
	if active.GlobalVersionID != v2gv.ID {
		t.Errorf("active version = %d, want %d", active.GlobalVersionID, v2gv.ID)
	}

	links, err := store.ListEnvironmentVersions(ctx, envID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2 (history preserved)", len(links))
	}
	activeCount := 0
	for _, l := range links {
		if l.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("active links = %d, want exactly 1", activeCount)
	}

	// The superseded version's reference count drops to zero.
	old, err := store.GetGlobalVersion(ctx, v1)
	if err != nil {
		t.Fatalf("get old version: %v", err)
	}
	if old.ReferenceCount != 0 {
		t.Errorf("old reference_count = %d, want 0", old.ReferenceCount)
	}
}

func TestSharedVersionAcrossEnvironments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, vA := seedEnvironmentVersion(t, store, "https://a.example", testModules())
	_, vB := seedEnvironmentVersion(t, store, "https://b.example", testModules())

	if vA != vB {
		t.Fatalf("identical module sets got distinct versions: %d vs %d", vA, vB)
	}
	gv, err := store.GetGlobalVersion(ctx, vA)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if gv.ReferenceCount != 2 {
		t.Errorf("reference_count = %d, want 2", gv.ReferenceCount)
	}
}

func TestHasCompletedSyncExcludesSelf(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	envA, version := seedEnvironmentVersion(t, store, "https://a.example", testModules())
	envB, _ := seedEnvironmentVersion(t, store, "https://b.example", testModules())

	if err := store.SetSyncStatus(ctx, envA, version, types.SyncStatusCompleted, 1200); err != nil {
		t.Fatalf("set status: %v", err)
	}

	ok, err := store.HasCompletedSync(ctx, version, envB)
	if err != nil {
		t.Fatalf("has completed: %v", err)
	}
	if !ok {
		t.Error("peer completion not visible")
	}
	ok, err = store.HasCompletedSync(ctx, version, envA)
	if err != nil {
		t.Fatalf("has completed: %v", err)
	}
	if ok {
		t.Error("own completion should be excluded")
	}
}

func TestCleanupUnusedVersionsRetention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	envID, activeVersion := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	// An orphaned version: referenced by nobody.
	orphanModules := []types.Module{{ModuleID: "Old", Version: "1.0"}}
	hash := types.ComputeModulesHash(orphanModules)
	orphan, err := store.CreateGlobalVersion(ctx, &types.EnvironmentVersion{
		Modules: orphanModules, ModulesHash: hash, VersionHash: types.ShortVersionHash(hash),
	}, envID)
	if err != nil {
		t.Fatalf("create orphan: %v", err)
	}
	if err := store.UpsertDataEntities(ctx, orphan.ID, []*types.DataEntity{{Name: "Doomed"}}); err != nil {
		t.Fatalf("seed orphan rows: %v", err)
	}

	// Cutoff in the past deletes nothing: the orphan was just used.
	n, err := store.CleanupUnusedVersions(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d versions with past cutoff, want 0", n)
	}

	// Future cutoff removes the orphan and only the orphan.
	n, err = store.CleanupUnusedVersions(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d versions, want 1", n)
	}
	if _, err := store.GetGlobalVersion(ctx, orphan.ID); !isNotFound(err) {
		t.Errorf("orphan still present: %v", err)
	}
	if _, err := store.GetGlobalVersion(ctx, activeVersion); err != nil {
		t.Errorf("active version was deleted: %v", err)
	}
	// Cascade removed the orphan's metadata.
	if _, err := store.GetDataEntity(ctx, orphan.ID, "Doomed"); err == nil {
		t.Error("orphan metadata survived cascade")
	}
}
