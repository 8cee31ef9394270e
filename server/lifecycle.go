package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teranos/vigil/errors"
)

// historyCleanupInterval is how often expired terminal records are pruned.
// Retention is measured in days, so a slow cadence is plenty.
const historyCleanupInterval = 6 * time.Hour

// getState reads the lifecycle state without taking a lock.
func (s *VigilServer) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState advances the lifecycle state, logging the transition.
func (s *VigilServer) setState(next ServerState) {
	prev := ServerState(s.state.Swap(int32(next)))
	s.logger.Infow("Server state transition",
		"from", prev.String(),
		"to", next.String(),
	)
}

// startHistoryCleanup periodically prunes terminal job records older than
// the configured retention.
func (s *VigilServer) startHistoryCleanup() {
	if s.cfg == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(historyCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				retention := s.cfg.GetTrackerConfig().HistoryRetention()
				if retention <= 0 {
					continue // Retention disabled: keep records forever
				}

				removed, err := s.ctrl.CleanupHistory(retention)
				if err != nil {
					s.logger.Warnw("History cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					s.logger.Infow("Pruned expired job history",
						"removed", removed,
						"retention", retention,
					)
				}
			}
		}
	}()
}

// Start runs the hub, the background services, and the HTTP listener,
// falling back to nearby ports when the requested one is taken. Blocks
// until the server stops.
func (s *VigilServer) Start(port int) error {
	// Resolve the port before spawning anything, so a hopeless bind does
	// not leave goroutines needing a Stop.
	boundPort, err := pickPort(port)
	if err != nil {
		return errors.Wrap(err, "resolve dashboard port")
	}
	if boundPort != port {
		s.logger.Infow("Requested port taken, falling back",
			"requested_port", port,
			"bound_port", boundPort,
		)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()
	s.startDaemonStatusBroadcaster()
	s.startHistoryCleanup()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", boundPort),
		Handler: s.routes(),
	}

	s.logger.Infow("Dashboard listening",
		"url", fmt.Sprintf("http://localhost:%d", boundPort),
		"port", boundPort,
	)

	err = s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve dashboard")
	}
	return nil
}

// drainClients empties the client set and returns what was registered.
func (s *VigilServer) drainClients() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, client)
	}
	return clients
}

// Stop drains the server: HTTP listener first, then client connections,
// then the background goroutines. The caller shuts the job controller down
// beforehand so in-flight polls settle while the dashboard is still up.
func (s *VigilServer) Stop() error {
	s.setState(ServerStateDraining)

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("HTTP listener shutdown error", "error", err)
		}
	}

	// Closing the websocket conns unblocks every readPump before the
	// context cancel stops the write side, so the pumps exit instead of
	// lingering on a dead read.
	clients := s.drainClients()
	if len(clients) > 0 {
		s.logger.Infow("Closing client connections", "count", len(clients))
		for _, client := range clients {
			client.conn.Close()
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutines still running at shutdown deadline",
			"timeout", ShutdownTimeout,
		)
	}

	s.setState(ServerStateStopped)

	s.logger.Infow("Server stopped",
		"broadcast_drops", s.broadcastDrops.Load(),
	)
	return nil
}
