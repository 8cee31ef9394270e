package config

// Config represents the core vigil configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	State    StateConfig    `mapstructure:"state"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the vigil daemon's HTTP/WebSocket server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // Daemon port: nil = default 7717, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogTheme       string   `mapstructure:"log_theme"` // Color theme: gruvbox, everforest
}

// Server port constants
const (
	DefaultServerPort = 7717 // Daemon port (easy to type, above privileged range)
)

// RunnerConfig configures access to the remote runner service
type RunnerConfig struct {
	BaseURL           string  `mapstructure:"base_url"`             // e.g. "http://localhost:4444"
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`      // Per-request timeout (default: 10)
	AllowPrivate      bool    `mapstructure:"allow_private"`        // Permit private-IP/localhost runner endpoints (default: true)
	PollRatePerSecond float64 `mapstructure:"poll_rate_per_second"` // Status-poll rate cap, 0 = unlimited
	PollBurst         int     `mapstructure:"poll_burst"`           // Rate limiter burst size
}

// TrackerConfig configures job polling and the completion heuristics.
// Interval fields <= 0 fall back to the defaults noted per field.
type TrackerConfig struct {
	PollIntervalMS               int  `mapstructure:"poll_interval_ms"`                // Status poll cadence (default: 2000)
	EarlyCheckSeconds            int  `mapstructure:"early_check_seconds"`             // First heuristic look after start (default: 15)
	ActivityCheckIntervalSeconds int  `mapstructure:"activity_check_interval_seconds"` // Recurring activity checks (default: 30)
	ActivityWindowSeconds        int  `mapstructure:"activity_window_seconds"`         // How recent a message change counts as activity (default: 45)
	ForceCompleteAfterSeconds    int  `mapstructure:"force_complete_after_seconds"`    // Silence before force-completing (default: 120)
	HardCapSeconds               int  `mapstructure:"hard_cap_seconds"`                // Absolute polling ceiling per job (default: 300)
	HistoryRetentionDays         int  `mapstructure:"history_retention_days"`          // Terminal record retention, 0 = keep forever (default: 30)
	ResumeOnStart                bool `mapstructure:"resume_on_start"`                 // Reconcile persisted active job at daemon start (default: true)
}

// StateConfig selects and configures the durable state backend
type StateConfig struct {
	Backend string      `mapstructure:"backend"` // "sqlite" (default) or "redis"
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis state backend for shared deployments
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`       // host:port (default: "localhost:6379")
	Password  string `mapstructure:"password"`   // empty = no auth
	DB        int    `mapstructure:"db"`         // logical database number
	KeyPrefix string `mapstructure:"key_prefix"` // namespace for vigil keys (default: "vigil:")
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
