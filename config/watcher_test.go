package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBackupFile(t *testing.T) {
	tests := map[string]struct {
		path string
		want bool
	}{
		"config file itself":    {"/home/u/.vigil/vigil_from_ui.toml", false},
		"first backup":          {"/home/u/.vigil/vigil_from_ui.toml.back1", true},
		"oldest backup":         {"/home/u/.vigil/vigil_from_ui.toml.back3", true},
		"beyond rotation depth": {"/home/u/.vigil/vigil_from_ui.toml.back4", false},
		"unrelated file":        {"/home/u/.vigil/state.db", false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBackupFile(tt.path))
		})
	}
}

func TestWatcherDeliversReloadAfterChange(t *testing.T) {
	Reset()
	defer Reset()

	tempDir := t.TempDir()
	originalWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tempDir))
	defer os.Chdir(originalWd)
	t.Setenv("HOME", tempDir)

	configPath := filepath.Join(tempDir, "vigil.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[tracker]\npoll_interval_ms = 2000\n"), 0644))

	watcher, err := NewConfigWatcher(configPath)
	require.NoError(t, err)
	defer watcher.Stop()
	watcher.debouncePeriod = 50 * time.Millisecond

	reloaded := make(chan *Config, 1)
	watcher.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	watcher.Start()

	require.NoError(t, os.WriteFile(configPath, []byte("[tracker]\npoll_interval_ms = 750\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 750, cfg.Tracker.PollIntervalMS)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload delivered within 5s of config write")
	}
}

func TestWatcherIgnoresOwnWrites(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "vigil.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[tracker]\npoll_interval_ms = 2000\n"), 0644))

	watcher, err := NewConfigWatcher(configPath)
	require.NoError(t, err)
	defer watcher.Stop()
	watcher.debouncePeriod = 50 * time.Millisecond

	var reloads atomic.Int32
	watcher.OnReload(func(*Config) error {
		reloads.Add(1)
		return nil
	})
	watcher.Start()

	watcher.MarkOwnWrite()
	require.NoError(t, os.WriteFile(configPath, []byte("[tracker]\npoll_interval_ms = 750\n"), 0644))

	// Well past the debounce period; a reload would have fired by now.
	time.Sleep(600 * time.Millisecond)
	assert.Zero(t, reloads.Load(), "own write should not bounce back as a reload")
}

func TestStopCancelsPendingReload(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "vigil.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[tracker]\npoll_interval_ms = 2000\n"), 0644))

	watcher, err := NewConfigWatcher(configPath)
	require.NoError(t, err)
	watcher.debouncePeriod = 10 * time.Second

	var reloads atomic.Int32
	watcher.OnReload(func(*Config) error {
		reloads.Add(1)
		return nil
	})
	watcher.Start()

	require.NoError(t, os.WriteFile(configPath, []byte("[tracker]\npoll_interval_ms = 750\n"), 0644))

	// Give the event time to reach the debounce timer, then stop before the
	// 10s window elapses.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, watcher.Stop())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, reloads.Load(), "reload pending at Stop should be cancelled")
}
