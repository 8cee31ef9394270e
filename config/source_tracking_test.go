package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedHome builds a throwaway $HOME whose ~/.vigil holds the given files,
// points HOME and the working directory at it, and resets cached config
// state on both sides of the test.
func seedHome(t *testing.T, files map[string]string) string {
	t.Helper()

	Reset()
	t.Cleanup(Reset)

	home := t.TempDir()
	vigilDir := filepath.Join(home, ".vigil")
	require.NoError(t, os.MkdirAll(vigilDir, DefaultDirPermissions))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(vigilDir, name), []byte(body), DefaultFilePermissions))
	}

	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(home))
	t.Cleanup(func() { os.Chdir(wd) })
	return home
}

// settingByKey pulls a single key out of a fresh introspection report.
func settingByKey(t *testing.T, key string) SettingInfo {
	t.Helper()

	intro, err := GetConfigIntrospection()
	require.NoError(t, err)
	for _, s := range intro.Settings {
		if s.Key == key {
			return s
		}
	}
	t.Fatalf("introspection has no entry for %q", key)
	return SettingInfo{}
}

func TestUserVigilTomlOutranksConfigToml(t *testing.T) {
	seedHome(t, map[string]string{
		"config.toml": `
[database]
path = "legacy.db"

[server]
port = 9301
log_theme = "gruvbox"
`,
		"vigil.toml": `
[database]
path = "primary.db"

[tracker]
poll_interval_ms = 1500
`,
	})

	cfg, err := Load()
	require.NoError(t, err)

	// Overlapping keys resolve to vigil.toml; keys unique to config.toml
	// still land.
	assert.Equal(t, "primary.db", cfg.Database.Path)
	assert.Equal(t, 1500, cfg.Tracker.PollIntervalMS)
	require.NotNil(t, cfg.Server.Port)
	assert.Equal(t, 9301, *cfg.Server.Port)
	assert.Equal(t, "gruvbox", cfg.Server.LogTheme)

	dbPath := settingByKey(t, "database.path")
	assert.Equal(t, SourceUser, dbPath.Source)
	assert.Contains(t, dbPath.SourcePath, "vigil.toml")
	assert.Equal(t, "primary.db", dbPath.Value)

	port := settingByKey(t, "server.port")
	assert.Contains(t, port.SourcePath, "config.toml")
	assert.Equal(t, int64(9301), port.Value) // TOML integers decode as int64

	poll := settingByKey(t, "tracker.poll_interval_ms")
	assert.Contains(t, poll.SourcePath, "vigil.toml")
	assert.Equal(t, int64(1500), poll.Value)

	// The raw source map is what the report is built from.
	assert.Equal(t, SourceUser, ConfigSources["database.path"].Source)
	assert.Contains(t, ConfigSources["server.port"].Path, "config.toml")
}

func TestEnvVarOutranksConfigFiles(t *testing.T) {
	seedHome(t, map[string]string{
		"vigil.toml": `
[database]
path = "disk.db"

[server]
port = 9301
`,
	})
	t.Setenv("VIGIL_DATABASE_PATH", "env-wins.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-wins.db", cfg.Database.Path)

	dbPath := settingByKey(t, "database.path")
	assert.Equal(t, SourceEnvironment, dbPath.Source)
	assert.Equal(t, "VIGIL_DATABASE_PATH", dbPath.SourcePath)
	assert.Equal(t, "env-wins.db", dbPath.Value)
}

func TestProjectConfigOutranksHome(t *testing.T) {
	seedHome(t, map[string]string{
		"vigil.toml": `
[server]
port = 4440
log_theme = "gruvbox"
`,
	})

	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "vigil.toml"), []byte(`
[server]
port = 4441
`), DefaultFilePermissions))
	require.NoError(t, os.Chdir(project))

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Server.Port)
	assert.Equal(t, 4441, *cfg.Server.Port)

	port := settingByKey(t, "server.port")
	assert.Equal(t, SourceProject, port.Source)
	assert.Contains(t, port.SourcePath, "vigil.toml")
	assert.Equal(t, int64(4441), port.Value)

	// Keys the project file does not touch still come from the home config.
	theme := settingByKey(t, "server.log_theme")
	assert.Equal(t, SourceUser, theme.Source)
	assert.Equal(t, "gruvbox", theme.Value)
}

func TestUIWritesOutrankHandEditedConfig(t *testing.T) {
	seedHome(t, map[string]string{
		"vigil.toml": `
[tracker]
poll_interval_ms = 1000
history_retention_days = 14
`,
		"vigil_from_ui.toml": `
[tracker]
history_retention_days = 60

[server]
log_theme = "gruvbox"
`,
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Tracker.HistoryRetentionDays)
	assert.Equal(t, 1000, cfg.Tracker.PollIntervalMS)

	poll := settingByKey(t, "tracker.poll_interval_ms")
	assert.Equal(t, SourceUser, poll.Source)
	assert.Contains(t, poll.SourcePath, "vigil.toml")

	retention := settingByKey(t, "tracker.history_retention_days")
	assert.Equal(t, SourceUserUI, retention.Source)
	assert.Contains(t, retention.SourcePath, "vigil_from_ui.toml")
	assert.Equal(t, int64(60), retention.Value)

	theme := settingByKey(t, "server.log_theme")
	assert.Equal(t, SourceUserUI, theme.Source)
	assert.Equal(t, "gruvbox", theme.Value)
}

func TestDefaultsReportEmptySourcePath(t *testing.T) {
	seedHome(t, nil)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Tracker.PollIntervalMS)

	src, ok := ConfigSources["tracker.poll_interval_ms"]
	require.True(t, ok, "defaults are recorded like any other source")
	assert.Equal(t, SourceDefault, src.Source)
	assert.Equal(t, "", src.Path)

	hardCap := settingByKey(t, "tracker.hard_cap_seconds")
	assert.Equal(t, SourceDefault, hardCap.Source)
	assert.Equal(t, "", hardCap.SourcePath)
	assert.Equal(t, 300, hardCap.Value)
}

func TestIntrospectionMirrorsLoadedConfig(t *testing.T) {
	seedHome(t, map[string]string{
		"vigil.toml": `
[database]
path = "mirror.db"

[tracker]
poll_interval_ms = 250
`,
	})

	cfg, err := Load()
	require.NoError(t, err)

	dbPath := settingByKey(t, "database.path")
	assert.Equal(t, cfg.Database.Path, dbPath.Value)
	assert.Equal(t, SourceUser, dbPath.Source)

	poll := settingByKey(t, "tracker.poll_interval_ms")
	assert.Equal(t, int64(cfg.Tracker.PollIntervalMS), poll.Value)
	assert.Contains(t, poll.SourcePath, "vigil.toml")
}
