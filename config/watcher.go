package config

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/logger"
)

// ownWriteWindow is how long after MarkOwnWrite filesystem events are
// treated as echoes of vigil's own config write.
const ownWriteWindow = time.Second

// ReloadCallback receives the freshly loaded config after a watched file
// changes. Errors are logged and do not stop the remaining callbacks.
type ReloadCallback func(*Config) error

// ConfigWatcher reloads configuration when the watched file changes on disk.
// Writes vigil makes itself (config set, dashboard updates) are announced
// through MarkOwnWrite and skipped, so persisting a setting does not bounce
// back as a reload.
type ConfigWatcher struct {
	configPath string
	watcher    *fsnotify.Watcher

	mu        sync.Mutex
	callbacks []ReloadCallback
	debounce  *time.Timer

	debouncePeriod time.Duration

	// UnixNano deadline; events arriving before it are our own write. One
	// logical write can surface as several events (truncate, write, chmod),
	// so suppression is a window, not a one-shot flag.
	ownWriteUntil atomic.Int64
}

var (
	globalWatcher   *ConfigWatcher
	globalWatcherMu sync.Mutex
)

// SetGlobalWatcher publishes the daemon's watcher so config writers can
// flag their own writes.
func SetGlobalWatcher(watcher *ConfigWatcher) {
	globalWatcherMu.Lock()
	defer globalWatcherMu.Unlock()
	globalWatcher = watcher
}

// NewConfigWatcher watches configPath. Call Start to begin delivering
// reloads and Stop to shut the watcher down.
func NewConfigWatcher(configPath string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch config file %s", configPath)
	}

	return &ConfigWatcher{
		configPath:     configPath,
		watcher:        watcher,
		debouncePeriod: 500 * time.Millisecond,
	}, nil
}

// OnReload registers a callback for future reloads.
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// MarkOwnWrite flags the imminent config write as vigil's own.
func (cw *ConfigWatcher) MarkOwnWrite() {
	cw.ownWriteUntil.Store(time.Now().Add(ownWriteWindow).UnixNano())
}

// Start begins watching in a background goroutine.
func (cw *ConfigWatcher) Start() {
	go cw.run()
}

// Stop cancels any pending reload and closes the underlying watcher, which
// also ends the run loop.
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if cw.debounce != nil {
		cw.debounce.Stop()
	}
	cw.mu.Unlock()
	return cw.watcher.Close()
}

func (cw *ConfigWatcher) run() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(event)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", "error", err)
		}
	}
}

func (cw *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}
	if isBackupFile(event.Name) {
		return
	}
	if time.Now().UnixNano() < cw.ownWriteUntil.Load() {
		logger.Debugw("Config watcher ignoring own write", "file", event.Name)
		return
	}

	logger.Infow("Config watcher detected change",
		"file", event.Name,
		"op", event.Op.String(),
	)
	cw.scheduleReload()
}

// scheduleReload coalesces bursts of events (editors often write a file
// several times in quick succession) into one reload per debounce window.
func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounce != nil {
		cw.debounce.Stop()
	}
	cw.debounce = time.AfterFunc(cw.debouncePeriod, func() {
		if err := cw.reload(); err != nil {
			logger.Errorw("Config reload failed", "error", err)
		}
	})
}

// reload re-runs the full load chain and fans the new config out to every
// registered callback.
func (cw *ConfigWatcher) reload() error {
	Reset()
	cfg, err := Load()
	if err != nil {
		return errors.Wrap(err, "reload config")
	}

	logger.Infow("Config reloaded", "path", cw.configPath)

	cw.mu.Lock()
	callbacks := append([]ReloadCallback(nil), cw.callbacks...)
	cw.mu.Unlock()

	for _, callback := range callbacks {
		if err := callback(cfg); err != nil {
			logger.Warnw("Config reload callback error", "error", err)
		}
	}
	return nil
}

// isBackupFile reports whether path is one of the rotating .backN copies
// createBackup maintains next to the config file.
func isBackupFile(path string) bool {
	for n := 1; n <= backupDepth; n++ {
		if strings.HasSuffix(path, fmt.Sprintf(".back%d", n)) {
			return true
		}
	}
	return false
}
