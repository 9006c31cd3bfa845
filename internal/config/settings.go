package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Settings is the transport/settings layer: MCP server listen address and
// worker bounds. Distinct from Config, which is one environment's record.
type Settings struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	// Workers bounds the sync fan-out (in-flight metadata requests).
	Workers int `yaml:"workers" json:"workers"`
	// MaxDiskCacheMB bounds the L2 disk cache per environment.
	MaxDiskCacheMB int `yaml:"max_disk_cache_mb" json:"max_disk_cache_mb"`
	// RetentionDays is how long unreferenced global versions are kept.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// Settings defaults
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 7824
	DefaultWorkers        = 8
	DefaultMaxDiskCacheMB = 100
	DefaultRetentionDays  = 30
)

// SettingsPath returns the global settings file location.
func SettingsPath() string {
	if dir := os.Getenv("FOMCP_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "settings.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(home, ".config", "fomcp", "settings.yaml")
}

// LoadSettings reads the settings file and layers FOMCP_* env overrides.
// A missing file is not an error; defaults apply.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = SettingsPath()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("FOMCP")
	v.AutomaticEnv()

	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("max_disk_cache_mb", DefaultMaxDiskCacheMB)
	v.SetDefault("retention_days", DefaultRetentionDays)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
		// Missing file: defaults only.
	}

	s := &Settings{
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
		Workers:        v.GetInt("workers"),
		MaxDiskCacheMB: v.GetInt("max_disk_cache_mb"),
		RetentionDays:  v.GetInt("retention_days"),
	}
	if s.Workers <= 0 {
		s.Workers = DefaultWorkers
	}
	if s.MaxDiskCacheMB <= 0 {
		s.MaxDiskCacheMB = DefaultMaxDiskCacheMB
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = DefaultRetentionDays
	}
	return s, nil
}

// Addr returns the host:port listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
