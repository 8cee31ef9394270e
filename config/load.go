package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/vigil/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load returns the process-wide configuration, building it on first use
// from defaults, config files, and VIGIL_* environment variables.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// LoadWithViper unmarshals and validates the given viper state without
// touching the process-wide cache.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// GetViper exposes the merged viper state for introspection.
func GetViper() *viper.Viper {
	return initViper()
}

// Reset drops the cached config, viper state, and source records so the
// next Load rebuilds from disk. Tests and the hot-reload path use this.
func Reset() {
	globalConfig = nil
	viperInstance = nil
	resetSources()
}

// initViper builds the merged configuration state once: defaults recorded
// as the baseline source, config files layered over them, and VIGIL_*
// environment variables automatic on top.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	v.SetEnvPrefix("VIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)
	markSettingsFromSource(v.AllSettings(), "", SourceDefault, "", ConfigSources)

	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig walks from the working directory toward the filesystem
// root and returns the first vigil.toml (preferred) or config.toml it sees.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		for _, name := range []string{"vigil.toml", "config.toml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges configuration files in the correct precedence order.
// Precedence (lowest to highest): system < user < user UI < project < env vars.
// Files merge into Viper's config layer via MergeConfigMap so environment
// variables keep outranking every file, later files override earlier ones at
// leaf granularity, and every merged key is recorded in ConfigSources.
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	// Ensure ~/.vigil directory exists
	vigilDir := filepath.Join(homeDir, ".vigil")
	os.MkdirAll(vigilDir, DefaultDirPermissions)

	type configFile struct {
		path   string
		source ConfigSource
	}

	files := []configFile{
		{"/etc/vigil/config.toml", SourceSystem},
		{"/etc/vigil/vigil.toml", SourceSystem},
		{filepath.Join(vigilDir, "config.toml"), SourceUser},
		{filepath.Join(vigilDir, "vigil.toml"), SourceUser},
		{filepath.Join(vigilDir, "vigil_from_ui.toml"), SourceUserUI},
	}

	// Project config, found via upward search, outranks everything but env vars
	if projectConfig := findProjectConfig(); projectConfig != "" {
		files = append(files, configFile{projectConfig, SourceProject})
	}

	for _, cf := range files {
		if _, err := os.Stat(cf.path); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(cf.path)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		settings := tempViper.AllSettings()
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		markSettingsFromSource(settings, "", cf.source, cf.path, ConfigSources)
	}
}

// ActiveConfigFile returns the highest-precedence config file that exists on
// disk, or empty when running purely on defaults and environment variables.
// This is the file the daemon watches for hot-reload.
func ActiveConfigFile() string {
	if projectConfig := findProjectConfig(); projectConfig != "" {
		return projectConfig
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	candidates := []string{
		filepath.Join(homeDir, ".vigil", "vigil_from_ui.toml"),
		filepath.Join(homeDir, ".vigil", "vigil.toml"),
		filepath.Join(homeDir, ".vigil", "config.toml"),
		"/etc/vigil/vigil.toml",
		"/etc/vigil/config.toml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// GetDatabasePath resolves the database location. VIGIL_DB_PATH overrides
// the config so development runs can point at a scratch database.
func GetDatabasePath() (string, error) {
	if p := os.Getenv("VIGIL_DB_PATH"); p != "" {
		return p, nil
	}

	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return cfg.Database.Path, nil
}
