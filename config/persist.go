package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/vigil/errors"
)

// backupDepth is how many rotating .backN copies of a config file survive.
const backupDepth = 3

func backupPath(configPath string, n int) string {
	return fmt.Sprintf("%s.back%d", configPath, n)
}

// createBackup shifts the .back1...backN chain down one slot and copies the
// current file into .back1, dropping only the oldest copy. Missing links in
// the chain are skipped, so a partial chain still rotates.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	oldest := backupPath(configPath, backupDepth)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		// A stuck oldest backup must not block the config write itself.
		fmt.Printf("⚠️  Failed to delete old backup %s: %v\n", oldest, err)
	}

	for n := backupDepth - 1; n >= 1; n-- {
		from := backupPath(configPath, n)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, backupPath(configPath, n+1)); err != nil {
			return errors.Wrapf(err, "rotate %s", filepath.Base(from))
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "read config for backup")
	}
	return errors.Wrap(os.WriteFile(backupPath(configPath, 1), content, DefaultFilePermissions), "write backup")
}

// GetUIConfigPath returns ~/.vigil/vigil_from_ui.toml, the file that absorbs
// settings written by `vigil config set` and the dashboard.
func GetUIConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vigil", "vigil_from_ui.toml")
}

// loadOrInitializeUIConfig reads the UI config into a generic map, creating
// the ~/.vigil directory on first use. A missing file is an empty config,
// not an error; an unreadable or unparseable one is an error, since writing
// over it would silently discard the user's settings.
func loadOrInitializeUIConfig() (map[string]interface{}, string, error) {
	configPath := GetUIConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return nil, "", errors.Wrap(err, "create .vigil directory")
	}

	settings := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return settings, configPath, nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "read UI config")
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return nil, "", errors.Wrap(err, "parse UI config")
	}
	return settings, configPath, nil
}

// saveUIConfig backs up and rewrites the UI config file, flagging the write
// so a running daemon's watcher does not reload on it.
func saveUIConfig(settings map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "create backup")
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "marshal UI config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	return errors.Wrap(os.WriteFile(configPath, data, DefaultFilePermissions), "write UI config")
}

// UpdateSetting writes a single dotted-key setting into the UI config file,
// creating intermediate sections as needed. Used by `vigil config set` and
// the dashboard settings panel.
func UpdateSetting(key string, value interface{}) error {
	if key == "" {
		return errors.New("setting key cannot be empty")
	}

	settings, configPath, err := loadOrInitializeUIConfig()
	if err != nil {
		return errors.Wrap(err, "load UI config")
	}

	parts := strings.Split(key, ".")
	node := settings
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value

	return saveUIConfig(settings, configPath)
}

// UpdatePollIntervalMS updates tracker.poll_interval_ms in the UI config.
func UpdatePollIntervalMS(ms int) error {
	return UpdateSetting("tracker.poll_interval_ms", ms)
}

// UpdateHistoryRetentionDays updates tracker.history_retention_days in the UI config.
func UpdateHistoryRetentionDays(days int) error {
	return UpdateSetting("tracker.history_retention_days", days)
}

// UpdateRunnerBaseURL updates runner.base_url in the UI config.
func UpdateRunnerBaseURL(baseURL string) error {
	return UpdateSetting("runner.base_url", baseURL)
}

// UpdateLogTheme updates server.log_theme in the UI config.
func UpdateLogTheme(theme string) error {
	return UpdateSetting("server.log_theme", theme)
}
