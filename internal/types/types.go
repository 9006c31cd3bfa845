// Package types defines core data structures for the fomcp metadata runtime.
package types

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Module identifies one installed F&O module with its version.
// The set of (module_id, version) pairs for an environment is the
// environment's metadata fingerprint.
type Module struct {
	ModuleID    string `json:"module_id"`
	Name        string `json:"name,omitempty"`
	Version     string `json:"version"`
	Publisher   string `json:"publisher,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	SortOrder   int    `json:"sort_order,omitempty"`
}

// Validate checks that the module carries the fields the fingerprint needs.
func (m *Module) Validate() error {
	if m.ModuleID == "" {
		return fmt.Errorf("module_id is required")
	}
	if m.Version == "" {
		return fmt.Errorf("version is required for module %s", m.ModuleID)
	}
	return nil
}

// ComputeModulesHash produces the deterministic fingerprint for a module set:
// SHA-256 over the sorted "module_id:version" pairs joined by "|".
// Order of the input slice does not matter.
func ComputeModulesHash(modules []Module) string {
	pairs := make([]string, 0, len(modules))
	for _, m := range modules {
		pairs = append(pairs, m.ModuleID+":"+m.Version)
	}
	sort.Strings(pairs)

	h := sha256.New()
	h.Write([]byte(strings.Join(pairs, "|")))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VersionHashLength is the number of hex characters kept for the short
// version hash used in logs, CLI output, and cache keys.
const VersionHashLength = 16

// ShortVersionHash derives the display hash from a full modules hash.
func ShortVersionHash(modulesHash string) string {
	if len(modulesHash) <= VersionHashLength {
		return modulesHash
	}
	return modulesHash[:VersionHashLength]
}

// EnvironmentVersion is the product of version detection: the module
// fingerprint plus the version strings the environment reports about itself.
type EnvironmentVersion struct {
	Modules            []Module  `json:"modules"`
	ModulesHash        string    `json:"modules_hash"`
	VersionHash        string    `json:"version_hash"`
	ApplicationVersion string    `json:"application_version,omitempty"`
	PlatformVersion    string    `json:"platform_version,omitempty"`
	DetectedAt         time.Time `json:"detected_at"`
}

// GlobalVersion is one row of the cross-environment version registry.
// Environments that report the same modules hash share a single row, and
// with it a single copy of the synced metadata.
type GlobalVersion struct {
	ID                     int64     `json:"id"`
	VersionHash            string    `json:"version_hash"`
	ModulesHash            string    `json:"modules_hash"`
	ApplicationVersion     string    `json:"application_version,omitempty"`
	PlatformVersion        string    `json:"platform_version,omitempty"`
	FirstSeenAt            time.Time `json:"first_seen_at"`
	LastUsedAt             time.Time `json:"last_used_at"`
	ReferenceCount         int       `json:"reference_count"`
	CreatedByEnvironmentID int64     `json:"created_by_environment_id,omitempty"`
	// SampleModules holds up to MaxSampleModules entries for display.
	// The full module list is not persisted per version.
	SampleModules []Module `json:"sample_modules,omitempty"`
	ModuleCount   int      `json:"module_count"`
}

// MaxSampleModules caps how many modules are stored on a GlobalVersion row.
const MaxSampleModules = 10

// CanonicalBaseURL normalizes an environment base URL for identity:
// lowercased scheme and host, no trailing slash.
func CanonicalBaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, "/")
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.ToLower(s)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// Environment is a registered F&O environment keyed by base URL.
type Environment struct {
	ID          int64      `json:"id"`
	BaseURL     string     `json:"base_url"`
	DisplayName string     `json:"display_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
}

// Validate checks the environment's identifying fields.
func (e *Environment) Validate() error {
	if e.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("base_url must be http(s), got %q", e.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url has no host: %q", e.BaseURL)
	}
	return nil
}

// SyncStatus tracks the sync state of an environment/version link.
type SyncStatus string

// Link sync status constants
const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// IsValid checks if the sync status value is valid
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSyncing, SyncStatusCompleted, SyncStatusFailed:
		return true
	}
	return false
}

// EnvironmentVersionLink ties an environment to a global version it has been
// observed running. At most one link per environment is active.
type EnvironmentVersionLink struct {
	EnvironmentID      int64      `json:"environment_id"`
	GlobalVersionID    int64      `json:"global_version_id"`
	DetectedAt         time.Time  `json:"detected_at"`
	IsActive           bool       `json:"is_active"`
	SyncStatus         SyncStatus `json:"sync_status"`
	LastSyncDurationMS int64      `json:"last_sync_duration_ms,omitempty"`
}

// EnvironmentInfo aggregates everything `env info` and the MCP environment
// resource report about one environment.
type EnvironmentInfo struct {
	Environment        Environment    `json:"environment"`
	ActiveVersion      *GlobalVersion `json:"active_version,omitempty"`
	SyncStatus         SyncStatus     `json:"sync_status,omitempty"`
	ApplicationVersion string         `json:"application_version,omitempty"`
	PlatformVersion    string         `json:"platform_version,omitempty"`
	DataEntityCount    int            `json:"data_entity_count"`
	PublicEntityCount  int            `json:"public_entity_count"`
	EnumerationCount   int            `json:"enumeration_count"`
	ActionCount        int            `json:"action_count"`
	LabelCount         int            `json:"label_count"`
	LastSyncAt         *time.Time     `json:"last_sync_at,omitempty"`
	LastSyncDurationMS int64          `json:"last_sync_duration_ms,omitempty"`
}
