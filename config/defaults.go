package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "vigil.db")

	// Server configuration defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.log_theme", "everforest")

	// Runner service defaults
	v.SetDefault("runner.base_url", "http://localhost:4444")
	v.SetDefault("runner.timeout_seconds", 10)
	v.SetDefault("runner.allow_private", true) // Runners usually live on localhost or the LAN
	v.SetDefault("runner.poll_rate_per_second", 5.0)
	v.SetDefault("runner.poll_burst", 5)

	// Tracker (poll loop + completion heuristics) defaults
	v.SetDefault("tracker.poll_interval_ms", 2000)
	v.SetDefault("tracker.early_check_seconds", 15)
	v.SetDefault("tracker.activity_check_interval_seconds", 30)
	v.SetDefault("tracker.activity_window_seconds", 45)
	v.SetDefault("tracker.force_complete_after_seconds", 120)
	v.SetDefault("tracker.hard_cap_seconds", 300)
	v.SetDefault("tracker.history_retention_days", 30)
	v.SetDefault("tracker.resume_on_start", true)

	// State backend defaults
	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.redis.addr", "localhost:6379")
	v.SetDefault("state.redis.db", 0)
	v.SetDefault("state.redis.key_prefix", "vigil:")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Database path
	v.BindEnv("database.path", "VIGIL_DATABASE_PATH")

	// Runner endpoint
	v.BindEnv("runner.base_url", "VIGIL_RUNNER_BASE_URL")

	// Redis credentials
	v.BindEnv("state.redis.addr", "VIGIL_STATE_REDIS_ADDR")
	v.BindEnv("state.redis.password", "VIGIL_STATE_REDIS_PASSWORD")
}

// GetServerPort returns the configured daemon port
// Returns server.port from config, or DefaultServerPort (7717) if not configured
func GetServerPort() int {
	cfg, err := Load()
	if err != nil || cfg.Server.Port == nil {
		return DefaultServerPort
	}
	return *cfg.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "vigil.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetServerLogTheme returns the log theme (default: everforest)
func (c *Config) GetServerLogTheme() string {
	if c.Server.LogTheme == "" {
		return "everforest"
	}
	return c.Server.LogTheme
}

// GetTrackerConfig returns the tracker configuration with defaults applied
func (c *Config) GetTrackerConfig() TrackerConfig {
	cfg := c.Tracker

	// Apply defaults for zero values
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = 2000
	}
	if cfg.EarlyCheckSeconds <= 0 {
		cfg.EarlyCheckSeconds = 15
	}
	if cfg.ActivityCheckIntervalSeconds <= 0 {
		cfg.ActivityCheckIntervalSeconds = 30
	}
	if cfg.ActivityWindowSeconds <= 0 {
		cfg.ActivityWindowSeconds = 45
	}
	if cfg.ForceCompleteAfterSeconds <= 0 {
		cfg.ForceCompleteAfterSeconds = 120
	}
	if cfg.HardCapSeconds <= 0 {
		cfg.HardCapSeconds = 300
	}

	return cfg
}

// PollInterval returns the status poll cadence as a duration
func (tc TrackerConfig) PollInterval() time.Duration {
	return time.Duration(tc.PollIntervalMS) * time.Millisecond
}

// EarlyCheckDelay returns the delay before the first heuristic look
func (tc TrackerConfig) EarlyCheckDelay() time.Duration {
	return time.Duration(tc.EarlyCheckSeconds) * time.Second
}

// ActivityCheckInterval returns the recurring activity-check cadence
func (tc TrackerConfig) ActivityCheckInterval() time.Duration {
	return time.Duration(tc.ActivityCheckIntervalSeconds) * time.Second
}

// ActivityWindow returns how recent a message change counts as activity
func (tc TrackerConfig) ActivityWindow() time.Duration {
	return time.Duration(tc.ActivityWindowSeconds) * time.Second
}

// ForceCompleteAfter returns the silence threshold for force-completion
func (tc TrackerConfig) ForceCompleteAfter() time.Duration {
	return time.Duration(tc.ForceCompleteAfterSeconds) * time.Second
}

// HardCap returns the absolute polling ceiling per job
func (tc TrackerConfig) HardCap() time.Duration {
	return time.Duration(tc.HardCapSeconds) * time.Second
}

// HistoryRetention returns the terminal record retention window.
// Zero disables retention cleanup.
func (tc TrackerConfig) HistoryRetention() time.Duration {
	return time.Duration(tc.HistoryRetentionDays) * 24 * time.Hour
}

// RunnerTimeout returns the per-request runner timeout (default: 10s)
func (c *Config) RunnerTimeout() time.Duration {
	if c.Runner.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Runner.TimeoutSeconds) * time.Second
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {LogTheme: %s}, Runner: {BaseURL: %s}, State: {Backend: %s}}",
		c.Database.Path, c.Server.LogTheme, c.Runner.BaseURL, c.State.Backend)
}
