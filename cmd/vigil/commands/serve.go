package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/logger"
	"github.com/teranos/vigil/runner"
	"github.com/teranos/vigil/server"
	"github.com/teranos/vigil/state"
	"github.com/teranos/vigil/sym"
	"github.com/teranos/vigil/track"
)

// controllerShutdownTimeout bounds how long a draining daemon waits for poll
// goroutines to settle before the dashboard surface is torn down.
const controllerShutdownTimeout = 10 * time.Second

// ServeCmd runs the vigil daemon
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   sym.Vigil + " Run the vigil daemon (poll loop + dashboard API)",
	Long: sym.Vigil + ` Run the vigil daemon in foreground mode.

The daemon will:
- Reconcile persisted jobs with the runner before serving traffic
- Poll active jobs on an adaptive schedule with completion heuristics
- Serve the REST + WebSocket dashboard API
- Archive finished jobs and prune history per retention policy
- Run until interrupted (Ctrl+C) with graceful shutdown

Example:
  vigil serve               # Run on the configured port
  vigil serve --port 7720   # Override the listen port`,
	RunE: runServe,
}

var (
	servePort   int
	serveDBPath string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// The daemon defaults to Info so startup and lifecycle events are
	// visible without flags; one-shot commands stay at Warn.
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
		logger.SetVerbosity(verbosity)
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if theme := cfg.GetServerLogTheme(); theme != "" {
		logger.SetTheme(theme)
	}

	port := servePort
	if port == 0 {
		port = config.GetServerPort()
	}

	// Open and migrate database
	database, err := openDatabase(serveDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// Resolve the actual path for the banner (openDatabase resolved it)
	dbPath := serveDBPath
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := state.Open(cfg, database)
	if err != nil {
		return errors.Wrap(err, "failed to open state store")
	}
	defer store.Close()

	history := track.NewHistoryStore(database)

	promReg := prometheus.NewRegistry()
	metrics := track.NewMetrics(promReg)

	runnerClient := runner.NewClient(cfg)

	registry := track.NewRegistry(ctx, track.IntervalsFromConfig(cfg.GetTrackerConfig()), runnerClient, logger.ComponentLogger("track.registry"), metrics)

	ctrl := track.NewController(registry, runnerClient, store, history, nil, metrics, logger.ComponentLogger("track.controller"))

	srv, err := server.NewServer(server.Deps{
		Controller: ctrl,
		History:    history,
		Config:     cfg,
		Gatherer:   promReg,
		Logger:     logger.ComponentLogger("server"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}
	ctrl.SetNotifier(srv)

	// Reconcile persisted state against the runner before accepting traffic,
	// so the first dashboard frame reflects reality rather than a stale
	// snapshot from before the restart.
	if cfg.Tracker.ResumeOnStart {
		logger.WakeInfow("Reconciling persisted jobs with runner")
		if err := ctrl.ReconcileOnResume(ctx); err != nil {
			logger.Warnw("Reconcile on resume incomplete, continuing", "error", err)
		}
	}

	watcher := setupConfigWatcher(registry, runnerClient)
	if watcher != nil {
		defer watcher.Stop()
	}

	printStartupBanner(verbosity, dbPath, runnerClient.BaseURL(), port)

	// Start server in background
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	// Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		// Server failed to start or stopped unexpectedly
		return errors.Wrap(err, "server failed")
	case <-sigChan:
		// First Ctrl+C - graceful shutdown
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		// Pause poll timers and checkpoint state before draining clients, so
		// a restart can reconcile from a fresh snapshot.
		shutdownDone := make(chan error, 1)
		go func() {
			logger.RestInfow("Pausing poll timers and checkpointing state")
			if err := ctrl.Shutdown(controllerShutdownTimeout); err != nil {
				logger.Warnw("Tracker shutdown incomplete", "error", err)
			}
			shutdownDone <- srv.Stop()
		}()

		// Wait for either shutdown completion or second Ctrl+C
		select {
		case err := <-shutdownDone:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Daemon stopped cleanly")
			return nil
		case <-sigChan:
			// Second Ctrl+C - force immediate exit
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// setupConfigWatcher wires config hot-reload into the running components.
// Tracker intervals and the runner endpoint take effect without a restart;
// everything else requires one.
func setupConfigWatcher(registry *track.Registry, runnerClient *runner.Client) *config.ConfigWatcher {
	configPath := config.ActiveConfigFile()
	if configPath == "" {
		logger.Infow("No config file found, using defaults (config watching disabled)")
		return nil
	}

	watcher, err := config.NewConfigWatcher(configPath)
	if err != nil {
		logger.Warnw("Failed to create config watcher, manual restart required for config changes",
			"error", err)
		return nil
	}

	// Set global watcher to prevent reload loops from our own UI-config writes
	config.SetGlobalWatcher(watcher)

	watcher.OnReload(func(newCfg *config.Config) error {
		registry.SetIntervals(track.IntervalsFromConfig(newCfg.GetTrackerConfig()))
		runnerClient.SetBaseURL(newCfg.Runner.BaseURL)
		if theme := newCfg.GetServerLogTheme(); theme != "" {
			logger.SetTheme(theme)
		}

		logger.Infow("Applied reloaded configuration",
			"poll_interval", newCfg.GetTrackerConfig().PollInterval(),
			"runner_url", runnerClient.BaseURL(),
		)
		return nil
	})

	watcher.Start()
	logger.Infow("Config watcher started", "path", configPath)
	return watcher
}
