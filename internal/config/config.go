// Package config loads the application configuration via viper from a
// config file, environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration for the sync core and its
// operational surfaces.
type Config struct {
	// DataDir is where the local database lives.
	DataDir string `mapstructure:"data_dir"`

	// ServerURL is the remote store's API base URL.
	ServerURL string `mapstructure:"server_url"`

	// ConflictPolicy selects the resolution strategy:
	// latest_wins, manual, or merge.
	ConflictPolicy string `mapstructure:"conflict_policy"`

	// SyncInterval is the daemon's periodic sync cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// ProbeInterval is the daemon's connectivity probe cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// ImportDir, when set, is watched by the daemon for note JSON files.
	ImportDir string `mapstructure:"import_dir"`

	// DashboardPort enables the websocket event dashboard when non-zero.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile, when set, routes daemon logs to a rotated file instead of
	// stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration from the given file path (optional), the
// environment (NOTEVERSE_* variables), and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", ".noteverse")
	v.SetDefault("server_url", "http://localhost:8600/api")
	v.SetDefault("conflict_policy", "latest_wins")
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("probe_interval", 30*time.Second)
	v.SetDefault("dashboard_port", 0)

	v.SetEnvPrefix("NOTEVERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("noteverse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/noteverse")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit path or a
		// malformed file is not.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
