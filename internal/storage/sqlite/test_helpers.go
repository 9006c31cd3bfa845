package sqlite

import (
	"context"
	"testing"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// newTestStore opens a store on a temp file. File-backed databases behave
// like production (WAL, connection pool); the shared in-memory form is
// reserved for tests that need it explicitly.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), t.TempDir()+"/metadata.sqlite")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("close test store: %v", cerr)
		}
	})
	return store
}

// seedEnvironmentVersion registers an environment, a global version for
// the given modules, and an active link. Returns both ids.
func seedEnvironmentVersion(t *testing.T, store *Store, baseURL string, modules []types.Module) (envID, versionID int64) {
	t.Helper()
	ctx := context.Background()

	env, err := store.GetOrCreateEnvironment(ctx, baseURL, "test")
	if err != nil {
		t.Fatalf("create environment: %v", err)
	}
	hash := types.ComputeModulesHash(modules)
	gv, err := store.CreateGlobalVersion(ctx, &types.EnvironmentVersion{
		Modules:     modules,
		ModulesHash: hash,
		VersionHash: types.ShortVersionHash(hash),
	}, env.ID)
	if err != nil {
		t.Fatalf("create global version: %v", err)
	}
	if err := store.LinkEnvironmentToVersion(ctx, env.ID, gv.ID); err != nil {
		t.Fatalf("link environment: %v", err)
	}
	return env.ID, gv.ID
}

// testModules is a small deterministic module set for fingerprints.
func testModules() []types.Module {
	return []types.Module{
		{ModuleID: "ApplicationFoundation", Name: "ApplicationFoundation", Version: "7.0.7521.60", Publisher: "Microsoft Corporation", DisplayName: "Application Foundation"},
		{ModuleID: "ApplicationPlatform", Name: "ApplicationPlatform", Version: "7.0.7521.60", Publisher: "Microsoft Corporation", DisplayName: "Application Platform"},
	}
}
