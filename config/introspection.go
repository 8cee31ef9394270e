package config

import (
	"os"
	"sort"
	"strings"

	"github.com/teranos/vigil/errors"
)

// ConfigSource identifies which layer of the precedence chain produced a
// configuration value.
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/vigil
	SourceUser        ConfigSource = "user"        // ~/.vigil
	SourceUserUI      ConfigSource = "user_ui"     // ~/.vigil/vigil_from_ui.toml
	SourceProject     ConfigSource = "project"     // vigil.toml found upward from cwd
	SourceEnvironment ConfigSource = "environment" // VIGIL_* env vars
)

// SourceInfo pairs a source layer with the concrete file or variable behind it.
type SourceInfo struct {
	Source ConfigSource
	Path   string
}

// SettingInfo is one resolved configuration key as the dashboard sees it.
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// ConfigIntrospection is the resolved-settings report behind the config
// endpoint's introspect query: every effective key, its value, and which
// layer supplied it.
type ConfigIntrospection struct {
	ConfigFile string        `json:"config_file"`
	Settings   []SettingInfo `json:"settings"`
}

// GetConfigIntrospection reports every effective setting with its source,
// sorted by key. Runs a Load first if nothing has recorded sources yet.
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	if len(ConfigSources) == 0 {
		if _, err := Load(); err != nil {
			return nil, errors.Wrap(err, "load config for introspection")
		}
	}

	flat := make(map[string]interface{})
	flattenKeys(GetViper().AllSettings(), "", flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	report := &ConfigIntrospection{
		ConfigFile: ActiveConfigFile(),
		Settings:   make([]SettingInfo, 0, len(keys)),
	}
	for _, key := range keys {
		src := resolveSource(key, ConfigSources)
		report.Settings = append(report.Settings, SettingInfo{
			Key:        key,
			Value:      flat[key],
			Source:     src.Source,
			SourcePath: src.Path,
		})
	}
	return report, nil
}

// flattenKeys walks nested viper sections into dotted keys.
func flattenKeys(section map[string]interface{}, prefix string, out map[string]interface{}) {
	for name, value := range section {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if child, ok := value.(map[string]interface{}); ok {
			flattenKeys(child, key, out)
			continue
		}
		out[key] = value
	}
}

// envKeyFor maps a dotted setting key to the environment variable that
// overrides it (tracker.poll_interval_ms -> VIGIL_TRACKER_POLL_INTERVAL_MS).
func envKeyFor(key string) string {
	return "VIGIL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// resolveSource reports which layer supplied key: a set environment variable
// wins, then whatever the load pass recorded, then the built-in default.
func resolveSource(key string, recorded map[string]SourceInfo) SourceInfo {
	if envKey := envKeyFor(key); os.Getenv(envKey) != "" {
		return SourceInfo{Source: SourceEnvironment, Path: envKey}
	}
	if si, ok := recorded[key]; ok {
		return si
	}
	return SourceInfo{Source: SourceDefault, Path: "built-in default"}
}

// GetConfigSummary returns the per-source setting counts shown next to the
// active config path in the dashboard status panel.
func GetConfigSummary() map[string]interface{} {
	summary := map[string]interface{}{
		"config_file": ActiveConfigFile(),
		"sources":     map[string]int{},
	}

	report, err := GetConfigIntrospection()
	if err != nil {
		return summary
	}

	counts := summary["sources"].(map[string]int)
	for _, setting := range report.Settings {
		counts[string(setting.Source)]++
	}
	return summary
}
