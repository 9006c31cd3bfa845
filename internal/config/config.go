// Package config defines the typed environment configuration and the
// transport settings layer.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// AuthMode selects how tokens are acquired.
type AuthMode string

// Auth mode constants
const (
	// AuthDefault uses the ambient credential chain (env vars, managed
	// identity, az login).
	AuthDefault AuthMode = "default"
	// AuthClientCredentials uses an explicit app registration.
	AuthClientCredentials AuthMode = "client_credentials"
)

// IsValid checks if the auth mode is valid
func (m AuthMode) IsValid() bool {
	return m == AuthDefault || m == AuthClientCredentials
}

// Config is the typed per-environment configuration record.
type Config struct {
	// BaseURL identifies the environment. Required. Canonicalized on load:
	// lowercased, no trailing slash.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// AuthMode selects the TokenProvider. Default uses the ambient chain.
	AuthMode AuthMode `yaml:"auth_mode,omitempty" json:"auth_mode,omitempty"`

	// Client credentials, used when AuthMode is client_credentials.
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"-"`
	TenantID     string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`

	// VerifySSL toggles TLS verification on the transport.
	VerifySSL bool `yaml:"verify_ssl" json:"verify_ssl"`

	// TimeoutSeconds is the per-HTTP-request deadline.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// CacheDir is the root for the metadata DB and disk cache. Defaults to
	// <user state dir>/fomcp/<hostname of base_url>.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	// UseLabelCache disables the L1/L2 tiers for labels when false.
	UseLabelCache bool `yaml:"use_label_cache" json:"use_label_cache"`

	// LabelCacheExpiryMinutes is the TTL for the label L1 tier. Ignored
	// for DB rows, which share the global version's lifetime.
	LabelCacheExpiryMinutes int `yaml:"label_cache_expiry_minutes,omitempty" json:"label_cache_expiry_minutes,omitempty"`

	// UseCacheFirst prefers cached metadata. When false every read issues
	// a live fetch and repopulates the cache.
	UseCacheFirst bool `yaml:"use_cache_first" json:"use_cache_first"`

	// Language is the default label language (BCP-47).
	Language string `yaml:"language,omitempty" json:"language,omitempty"`

	// MetadataSyncIntervalMinutes is the minimum gap between automatic
	// re-detections.
	MetadataSyncIntervalMinutes int `yaml:"metadata_sync_interval_minutes,omitempty" json:"metadata_sync_interval_minutes,omitempty"`

	// MaxMemoryCacheSize bounds the L1 entry count.
	MaxMemoryCacheSize int `yaml:"max_memory_cache_size,omitempty" json:"max_memory_cache_size,omitempty"`
}

// Defaults
const (
	DefaultTimeoutSeconds              = 60
	DefaultLabelCacheExpiryMinutes     = 60
	DefaultLanguage                    = types.DefaultLanguage
	DefaultMetadataSyncIntervalMinutes = 60
	DefaultMaxMemoryCacheSize          = 1000
)

// DefaultConfig returns a config with every optional field at its default.
// BaseURL remains empty and must be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		AuthMode:                    AuthDefault,
		VerifySSL:                   true,
		TimeoutSeconds:              DefaultTimeoutSeconds,
		UseLabelCache:               true,
		LabelCacheExpiryMinutes:     DefaultLabelCacheExpiryMinutes,
		UseCacheFirst:               true,
		Language:                    DefaultLanguage,
		MetadataSyncIntervalMinutes: DefaultMetadataSyncIntervalMinutes,
		MaxMemoryCacheSize:          DefaultMaxMemoryCacheSize,
	}
}

// Normalize fills zero-valued optional fields with defaults and
// canonicalizes the base URL. Call after unmarshalling.
func (c *Config) Normalize() {
	c.BaseURL = types.CanonicalBaseURL(c.BaseURL)
	if c.AuthMode == "" {
		c.AuthMode = AuthDefault
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.LabelCacheExpiryMinutes <= 0 {
		c.LabelCacheExpiryMinutes = DefaultLabelCacheExpiryMinutes
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.MetadataSyncIntervalMinutes <= 0 {
		c.MetadataSyncIntervalMinutes = DefaultMetadataSyncIntervalMinutes
	}
	if c.MaxMemoryCacheSize <= 0 {
		c.MaxMemoryCacheSize = DefaultMaxMemoryCacheSize
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir(c.BaseURL)
	}
}

// Validate checks the config for use. Normalize first.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	env := types.Environment{BaseURL: c.BaseURL}
	if err := env.Validate(); err != nil {
		return err
	}
	if !c.AuthMode.IsValid() {
		return fmt.Errorf("invalid auth_mode: %s", c.AuthMode)
	}
	if c.AuthMode == AuthClientCredentials {
		if c.ClientID == "" || c.ClientSecret == "" || c.TenantID == "" {
			return fmt.Errorf("auth_mode client_credentials requires client_id, client_secret, and tenant_id")
		}
	}
	return nil
}

// ApplyEnvOverrides layers FOMCP_* environment variables over the config.
// Environment variables win over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FOMCP_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("FOMCP_AUTH_MODE"); v != "" {
		c.AuthMode = AuthMode(v)
	}
	if v := os.Getenv("FOMCP_CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := os.Getenv("FOMCP_CLIENT_SECRET"); v != "" {
		c.ClientSecret = v
	}
	if v := os.Getenv("FOMCP_TENANT_ID"); v != "" {
		c.TenantID = v
	}
	if v := os.Getenv("FOMCP_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("FOMCP_LANGUAGE"); v != "" {
		c.Language = v
	}
	if v := os.Getenv("FOMCP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("FOMCP_VERIFY_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.VerifySSL = b
		}
	}
	if v := os.Getenv("FOMCP_USE_CACHE_FIRST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.UseCacheFirst = b
		}
	}
	if v := os.Getenv("FOMCP_USE_LABEL_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.UseLabelCache = b
		}
	}
}

// DefaultCacheDir derives the per-environment cache directory from the
// base URL's hostname: <user state dir>/fomcp/<hostname>.
func DefaultCacheDir(baseURL string) string {
	host := "default"
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	return filepath.Join(stateRoot(), "fomcp", host)
}

// stateRoot returns the platform state directory, preferring
// XDG_STATE_HOME, then the user cache dir, then a dotdir in $HOME.
func stateRoot() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state")
}
