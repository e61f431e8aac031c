// Package config loads ticketmirror configuration via viper.
//
// Configuration comes from a YAML file plus TICKETMIRROR_* environment
// overrides. Credentials are consumed as opaque input; ticketmirror does
// not manage credential storage beyond writing the file the user asked
// for during setup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RemoteConfig holds the remote tracker connection settings.
type RemoteConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Username string        `mapstructure:"username"`
	APIToken string        `mapstructure:"api_token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`

	// Window is the default incremental look-back when no completed
	// incremental session exists and no --since was given.
	Window time.Duration `mapstructure:"window"`
}

// FilterConfig scopes which remote entities are synchronized.
type FilterConfig struct {
	Projects        []string `mapstructure:"projects"`
	ExcludeProjects []string `mapstructure:"exclude_projects"`
	ExcludeStatuses []string `mapstructure:"exclude_statuses"`
	ExcludeTypes    []string `mapstructure:"exclude_types"`

	// WindowDays limits full syncs to tickets updated within the last
	// N days (0 = no date filter).
	WindowDays int `mapstructure:"window_days"`
}

// DaemonConfig configures the scheduled sync daemon.
type DaemonConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	LogFile       string        `mapstructure:"log_file"`
	LogMaxSizeMB  int           `mapstructure:"log_max_size_mb"`
	LogMaxBackups int           `mapstructure:"log_max_backups"`
}

// DashboardConfig configures the WebSocket event server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the root configuration.
type Config struct {
	Remote    RemoteConfig    `mapstructure:"remote"`
	Database  string          `mapstructure:"database"`
	Mapping   string          `mapstructure:"mapping"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Filters   FilterConfig    `mapstructure:"filters"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// DefaultPath is the conventional config file location, relative to the
// working directory.
const DefaultPath = ".ticketmirror/config.yaml"

// setDefaults registers every default on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.page_size", 50)
	v.SetDefault("database", ".ticketmirror/mirror.db")
	v.SetDefault("sync.max_concurrency", 3)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_delay", time.Second)
	v.SetDefault("sync.chunk_size", 1000)
	v.SetDefault("sync.lock_timeout", 30*time.Minute)
	v.SetDefault("sync.window", 24*time.Hour)
	v.SetDefault("daemon.interval", 15*time.Minute)
	v.SetDefault("daemon.log_max_size_mb", 10)
	v.SetDefault("daemon.log_max_backups", 3)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8377)
}

// Load reads configuration from path (or DefaultPath when empty).
//
// A missing config file is not an error: defaults plus environment
// overrides still produce a usable Config for local-only commands.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TICKETMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects structurally impossible settings.
func (c *Config) Validate() error {
	if c.Sync.MaxConcurrency < 1 {
		return fmt.Errorf("sync.max_concurrency must be at least 1 (got %d)", c.Sync.MaxConcurrency)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries cannot be negative (got %d)", c.Sync.MaxRetries)
	}
	if c.Sync.ChunkSize < 1 {
		return fmt.Errorf("sync.chunk_size must be at least 1 (got %d)", c.Sync.ChunkSize)
	}
	if c.Remote.PageSize < 1 {
		return fmt.Errorf("remote.page_size must be at least 1 (got %d)", c.Remote.PageSize)
	}
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

// HasRemote reports whether remote credentials are configured.
func (c *Config) HasRemote() bool {
	return c.Remote.BaseURL != ""
}
