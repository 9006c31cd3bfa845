// Package profile manages named environment profiles stored in
// profiles.yaml. A profile is one environment's Config plus a name; the
// file also records which profile is the default.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dynamicsmcp/fomcp/internal/config"
)

// FileName is the profiles file within the config directory.
const FileName = "profiles.yaml"

// file is the on-disk shape of profiles.yaml.
type file struct {
	Default  string                    `yaml:"default,omitempty"`
	Profiles map[string]*config.Config `yaml:"profiles"`
}

// Registry is the loaded profile set. Safe for concurrent use.
type Registry struct {
	path string

	mu   sync.RWMutex
	data *file
}

// DefaultPath returns the profiles file location.
func DefaultPath() string {
	if dir := os.Getenv("FOMCP_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, FileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(home, ".config", "fomcp", FileName)
}

// Load reads the registry from path. A missing file yields an empty
// registry, not an error.
func Load(path string) (*Registry, error) {
	if path == "" {
		path = DefaultPath()
	}
	r := &Registry{path: path, data: &file{Profiles: map[string]*config.Config{}}}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the backing file path.
func (r *Registry) Path() string { return r.path }

// Reload re-reads the backing file, replacing the in-memory set.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.data = &file{Profiles: map[string]*config.Config{}}
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read profiles: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", r.path, err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]*config.Config{}
	}
	for _, cfg := range f.Profiles {
		cfg.Normalize()
	}

	r.mu.Lock()
	r.data = &f
	r.mu.Unlock()
	return nil
}

// Names returns the profile names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.data.Profiles))
	for name := range r.data.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName returns the configured default profile name, or the sole
// profile's name when only one exists.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data.Default != "" {
		return r.data.Default
	}
	if len(r.data.Profiles) == 1 {
		for name := range r.data.Profiles {
			return name
		}
	}
	return ""
}

// Get returns a copy of the named profile's config. Empty name resolves
// through the default.
func (r *Registry) Get(name string) (*config.Config, error) {
	if name == "" {
		name = r.DefaultName()
		if name == "" {
			return nil, fmt.Errorf("no profile selected and no default set (run 'fomcp profile add')")
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.data.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	cp := *cfg
	return &cp, nil
}

// Set validates and stores a profile, then saves the file. The first
// profile added becomes the default.
func (r *Registry) Set(name string, cfg *config.Config) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}

	r.mu.Lock()
	r.data.Profiles[name] = cfg
	if r.data.Default == "" {
		r.data.Default = name
	}
	r.mu.Unlock()
	return r.save()
}

// Remove deletes a profile and saves. Removing the default clears it.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	if _, ok := r.data.Profiles[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("profile %q not found", name)
	}
	delete(r.data.Profiles, name)
	if r.data.Default == name {
		r.data.Default = ""
	}
	r.mu.Unlock()
	return r.save()
}

// SetDefault marks an existing profile as the default and saves.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	if _, ok := r.data.Profiles[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("profile %q not found", name)
	}
	r.data.Default = name
	r.mu.Unlock()
	return r.save()
}

// save writes the file atomically: temp file in the same directory, then
// rename. Mode 0600 because profiles may hold client secrets.
func (r *Registry) save() error {
	r.mu.RLock()
	out, err := yaml.Marshal(r.data)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".profiles-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace profiles: %w", err)
	}
	return nil
}

// ResolveName picks the effective profile name: explicit flag first, then
// the FOMCP_PROFILE env var, then the registry default.
func (r *Registry) ResolveName(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("FOMCP_PROFILE"); env != "" {
		return env
	}
	return r.DefaultName()
}
