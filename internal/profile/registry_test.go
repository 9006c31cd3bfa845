package profile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/config"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return r
}

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	return cfg
}

func TestLoadMissingFile(t *testing.T) {
	r := newTestRegistry(t)
	if names := r.Names(); len(names) != 0 {
		t.Fatalf("expected empty registry, got %v", names)
	}
	if _, err := r.Get(""); err == nil {
		t.Fatal("Get on empty registry should fail")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Set("prod", testConfig("https://prod.operations.dynamics.com")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	cfg, err := r.Get("prod")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cfg.BaseURL != "https://prod.operations.dynamics.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}

	// First profile becomes the default.
	if r.DefaultName() != "prod" {
		t.Errorf("DefaultName = %q", r.DefaultName())
	}
	if _, err := r.Get(""); err != nil {
		t.Errorf("default resolution failed: %v", err)
	}

	// Get returns a copy: mutation must not leak back.
	cfg.Language = "de-DE"
	again, _ := r.Get("prod")
	if again.Language == "de-DE" {
		t.Error("Get leaked a shared pointer")
	}
}

func TestSetInvalidConfig(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Set("bad", &config.Config{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPersistenceAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	r1, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r1.Set("uat", testConfig("https://uat.example")); err != nil {
		t.Fatal(err)
	}
	if err := r1.Set("prod", testConfig("https://prod.example")); err != nil {
		t.Fatal(err)
	}
	if err := r1.SetDefault("prod"); err != nil {
		t.Fatal(err)
	}

	r2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := r2.Names(); len(got) != 2 || got[0] != "prod" || got[1] != "uat" {
		t.Fatalf("Names = %v", got)
	}
	if r2.DefaultName() != "prod" {
		t.Errorf("DefaultName = %q", r2.DefaultName())
	}

	// Secrets stay out of world-readable modes.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("profiles file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Set("dev", testConfig("https://dev.example")); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("dev"); err != nil {
		t.Fatal(err)
	}
	if r.DefaultName() != "" {
		t.Error("removing the default should clear it")
	}
	if err := r.Remove("dev"); err == nil {
		t.Error("removing a missing profile should fail")
	}
}

func TestResolveName(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Set("main", testConfig("https://main.example")); err != nil {
		t.Fatal(err)
	}

	if got := r.ResolveName("explicit"); got != "explicit" {
		t.Errorf("flag should win, got %q", got)
	}

	t.Setenv("FOMCP_PROFILE", "fromenv")
	if got := r.ResolveName(""); got != "fromenv" {
		t.Errorf("env should win over default, got %q", got)
	}

	t.Setenv("FOMCP_PROFILE", "")
	if got := r.ResolveName(""); got != "main" {
		t.Errorf("default should apply, got %q", got)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	go func() {
		_ = r.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	content := "default: prod\nprofiles:\n  prod:\n    base_url: https://prod.example\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not observe the write")
	}

	if r.DefaultName() != "prod" {
		t.Errorf("DefaultName after reload = %q", r.DefaultName())
	}
}
