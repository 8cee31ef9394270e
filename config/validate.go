package config

import "github.com/teranos/vigil/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "vigil.db" per defaults.go

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.New("server.port cannot be 0 (omit for default port 7717)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}
	if c.Server.Port != nil && *c.Server.Port > 65535 {
		return errors.Newf("server.port must be <= 65535, got %d", *c.Server.Port)
	}

	// Runner timeout: 0 = default, negative = invalid
	if c.Runner.TimeoutSeconds < 0 {
		return errors.Newf("runner.timeout_seconds must be >= 0, got %d", c.Runner.TimeoutSeconds)
	}

	// Poll rate limits: 0 = unlimited, negative = invalid
	if c.Runner.PollRatePerSecond < 0 {
		return errors.Newf("runner.poll_rate_per_second must be >= 0, got %f", c.Runner.PollRatePerSecond)
	}
	if c.Runner.PollBurst < 0 {
		return errors.Newf("runner.poll_burst must be >= 0, got %d", c.Runner.PollBurst)
	}

	// Tracker intervals: 0 = use default, negative = invalid
	if c.Tracker.PollIntervalMS < 0 {
		return errors.Newf("tracker.poll_interval_ms must be >= 0, got %d", c.Tracker.PollIntervalMS)
	}
	if c.Tracker.EarlyCheckSeconds < 0 {
		return errors.Newf("tracker.early_check_seconds must be >= 0, got %d", c.Tracker.EarlyCheckSeconds)
	}
	if c.Tracker.ActivityCheckIntervalSeconds < 0 {
		return errors.Newf("tracker.activity_check_interval_seconds must be >= 0, got %d", c.Tracker.ActivityCheckIntervalSeconds)
	}
	if c.Tracker.ActivityWindowSeconds < 0 {
		return errors.Newf("tracker.activity_window_seconds must be >= 0, got %d", c.Tracker.ActivityWindowSeconds)
	}
	if c.Tracker.ForceCompleteAfterSeconds < 0 {
		return errors.Newf("tracker.force_complete_after_seconds must be >= 0, got %d", c.Tracker.ForceCompleteAfterSeconds)
	}
	if c.Tracker.HardCapSeconds < 0 {
		return errors.Newf("tracker.hard_cap_seconds must be >= 0, got %d", c.Tracker.HardCapSeconds)
	}

	// The hard cap is the last line of defense; a cap below the silence
	// threshold would fire before force-completion ever gets a chance
	if c.Tracker.HardCapSeconds > 0 && c.Tracker.ForceCompleteAfterSeconds > 0 &&
		c.Tracker.HardCapSeconds < c.Tracker.ForceCompleteAfterSeconds {
		return errors.Newf("tracker.hard_cap_seconds (%d) must be >= tracker.force_complete_after_seconds (%d)",
			c.Tracker.HardCapSeconds, c.Tracker.ForceCompleteAfterSeconds)
	}

	// History retention: 0 = keep forever, negative = invalid
	if c.Tracker.HistoryRetentionDays < 0 {
		return errors.Newf("tracker.history_retention_days must be >= 0, got %d", c.Tracker.HistoryRetentionDays)
	}

	// State backend: empty = sqlite
	switch c.State.Backend {
	case "", "sqlite", "redis":
	default:
		return errors.Newf("state.backend must be \"sqlite\" or \"redis\", got %q", c.State.Backend)
	}

	if c.State.Backend == "redis" {
		if c.State.Redis.Addr == "" {
			return errors.New("state.redis.addr cannot be empty when state.backend is \"redis\"")
		}
		if c.State.Redis.DB < 0 {
			return errors.Newf("state.redis.db must be >= 0, got %d", c.State.Redis.DB)
		}
	}

	return nil
}
