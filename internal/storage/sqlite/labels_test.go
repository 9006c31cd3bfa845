package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

func TestLabelUpsertAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	if err := store.UpsertLabels(ctx, versionID, []types.Label{
		{ID: "@SYS1", Language: "en-US", Value: "Customer master"},
		{ID: "@SYS1", Language: "de-DE", Value: "Debitorenstamm"},
		{ID: "@SYS2", Value: "Customer account"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	l, err := store.GetLabel(ctx, versionID, "@SYS1", "de-DE")
	if err != nil {
		t.Fatalf("get de-DE: %v", err)
	}
	if l.Value != "Debitorenstamm" {
		t.Errorf("value = %q", l.Value)
	}

	// An empty language reads and writes under the default.
	l, err = store.GetLabel(ctx, versionID, "@SYS2", "")
	if err != nil {
		t.Fatalf("get default language: %v", err)
	}
	if l.Value != "Customer account" || l.Language != types.DefaultLanguage {
		t.Errorf("default language row = %+v", l)
	}

	// Re-upserting replaces the text.
	if err := store.UpsertLabels(ctx, versionID, []types.Label{
		{ID: "@SYS2", Value: "Customer account number"},
	}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	l, err = store.GetLabel(ctx, versionID, "@SYS2", "en-US")
	if err != nil {
		t.Fatalf("get updated: %v", err)
	}
	if l.Value != "Customer account number" {
		t.Errorf("updated value = %q", l.Value)
	}
}

func TestLabelTTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, versionID := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	if err := store.UpsertLabels(ctx, versionID, []types.Label{
		{ID: "@STALE", Value: "old", ExpiresAt: &past},
		{ID: "@FRESH", Value: "new", ExpiresAt: &future},
		{ID: "@FOREVER", Value: "pinned"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := store.GetLabel(ctx, versionID, "@STALE", "en-US"); !isNotFound(err) {
		t.Errorf("expired label readable: %v", err)
	}
	if _, err := store.GetLabel(ctx, versionID, "@FRESH", "en-US"); err != nil {
		t.Errorf("fresh label missing: %v", err)
	}
	if _, err := store.GetLabel(ctx, versionID, "@FOREVER", "en-US"); err != nil {
		t.Errorf("no-TTL label missing: %v", err)
	}

	batch, err := store.GetLabelsBatch(ctx, versionID, []string{"@STALE", "@FRESH", "@FOREVER", "@ABSENT"}, "en-US")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("batch = %v, want fresh and pinned only", batch)
	}
	if batch["@FRESH"] != "new" || batch["@FOREVER"] != "pinned" {
		t.Errorf("batch contents: %v", batch)
	}
}

func TestLabelsScopedToVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, v1 := seedEnvironmentVersion(t, store, "https://a.example", testModules())

	otherModules := []types.Module{{ModuleID: "Other", Version: "2.0"}}
	hash := types.ComputeModulesHash(otherModules)
	gv2, err := store.CreateGlobalVersion(ctx, &types.EnvironmentVersion{
		Modules: otherModules, ModulesHash: hash, VersionHash: types.ShortVersionHash(hash),
	}, 0)
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}

	if err := store.UpsertLabels(ctx, v1, []types.Label{{ID: "@SYS1", Value: "v1 text"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.GetLabel(ctx, gv2.ID, "@SYS1", "en-US"); !isNotFound(err) {
		t.Errorf("label leaked across versions: %v", err)
	}
}
