package server

// This file contains broadcasting functionality for VigilServer. It handles
// real-time updates to WebSocket clients for:
// - Job lifecycle events (job_update / job_completed / job_errored)
// - Daemon status (active job, polling state, system metrics)

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/teranos/vigil/track"
)

// JobUpdated implements track.Notifier. The controller calls it
// synchronously from the poll path, so it must never block.
func (s *VigilServer) JobUpdated(rec *track.JobRecord) {
	s.enqueueBroadcast(JobEventMessage{
		Type:      "job_update",
		Job:       rec,
		Timestamp: time.Now().Unix(),
	})
}

// JobCompleted implements track.Notifier.
func (s *VigilServer) JobCompleted(rec *track.JobRecord) {
	s.enqueueBroadcast(JobEventMessage{
		Type:      "job_completed",
		Job:       rec,
		Timestamp: time.Now().Unix(),
	})
	// A completion flips the polling flag, which dashboards surface
	// immediately rather than on the next status tick.
	s.broadcastDaemonStatus()
}

// JobErrored implements track.Notifier.
func (s *VigilServer) JobErrored(rec *track.JobRecord) {
	s.enqueueBroadcast(JobEventMessage{
		Type:      "job_errored",
		Job:       rec,
		Timestamp: time.Now().Unix(),
	})
	s.broadcastDaemonStatus()
}

// enqueueBroadcast hands a frame to the hub without blocking the caller.
// Dropped frames are counted; job state is re-synced by the next status
// broadcast, so a lost frame degrades freshness, not correctness.
func (s *VigilServer) enqueueBroadcast(msg interface{}) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.broadcastDrops.Add(1)
		s.logger.Warnw("Broadcast queue full, dropping frame")
	}
}

// enqueueDirected hands a single-client frame to the hub without blocking.
func (s *VigilServer) enqueueDirected(client *Client, msg interface{}) {
	select {
	case s.broadcast <- directedMessage{client: client, msg: msg}:
	case <-s.ctx.Done():
	default:
		s.broadcastDrops.Add(1)
		s.logger.Warnw("Broadcast queue full, dropping reply",
			"client_id", client.id,
		)
	}
}

// startDaemonStatusBroadcaster periodically broadcasts daemon status to
// WebSocket clients. Uses adaptive polling: fast updates while a job is
// tracked, slow updates when idle.
func (s *VigilServer) startDaemonStatusBroadcaster() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Start with idle state
		currentState := DaemonIdle
		interval := intervalForActivityState(currentState)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debugw("Daemon status broadcaster stopping due to context cancellation")
				return
			case <-ticker.C:
				// Only send updates if there are connected clients
				if s.ClientCount() == 0 {
					continue
				}

				msg := s.buildDaemonStatus()

				// Adjust polling interval if the activity state changed
				newState := activityStateFor(msg)
				if newState != currentState {
					currentState = newState
					interval = intervalForActivityState(currentState)
					ticker.Reset(interval)

					s.logger.Debugw("Daemon activity state changed, adjusted broadcast interval",
						"state", currentState,
						"interval", interval,
					)
				}

				s.broadcastDaemonStatusFrame(msg)
			}
		}
	}()

	s.logger.Infow("Adaptive daemon status broadcaster started")
}

// broadcastDaemonStatus builds and broadcasts a fresh status frame.
func (s *VigilServer) broadcastDaemonStatus() {
	s.broadcastDaemonStatusFrame(s.buildDaemonStatus())
}

// broadcastDaemonStatusFrame sends a status frame unless nothing meaningful
// changed since the previous one.
func (s *VigilServer) broadcastDaemonStatusFrame(msg DaemonStatusMessage) {
	s.mu.Lock()
	if !s.statusHasChangedLocked(msg) {
		s.mu.Unlock()
		return // Skip broadcast if nothing changed
	}

	// Update cached status (still under lock)
	s.lastStatus = &cachedDaemonStatus{
		polling:     msg.Polling,
		activeJobID: msg.ActiveJobID,
		jobStatus:   msg.JobStatus,
		jobMessage:  msg.JobMessage,
		trackedJobs: msg.TrackedJobs,
		clients:     msg.Clients,
		cpuPercent:  msg.CPUPercent,
		memoryMB:    msg.MemoryMB,
	}
	s.mu.Unlock()

	s.enqueueBroadcast(msg)

	s.logger.Debugw("Broadcasted daemon status",
		"polling", msg.Polling,
		"active_job_id", shortID(msg.ActiveJobID),
		"tracked_jobs", msg.TrackedJobs,
		"clients", msg.Clients,
	)
}

// buildDaemonStatus assembles the daemon status payload shared by the
// periodic broadcast and GET /api/status.
func (s *VigilServer) buildDaemonStatus() DaemonStatusMessage {
	cpuPercent, memoryMB := s.systemMetrics()

	msg := DaemonStatusMessage{
		Type:          "daemon_status",
		Running:       true, // Daemon is running if this function is called
		Polling:       s.ctrl.Polling(),
		TrackedJobs:   len(s.ctrl.Records()),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryMB:      memoryMB,
		Goroutines:    runtime.NumGoroutine(),
		Clients:       s.ClientCount(),
		ServerState:   s.getState().String(),
		Timestamp:     time.Now().Unix(),
	}

	if rec := s.ctrl.Active(); rec != nil {
		msg.ActiveJobID = rec.JobID
		msg.JobStatus = string(rec.Status)
		msg.JobMessage = rec.Message
	}

	return msg
}

// systemMetrics samples host CPU load and daemon RSS. Failures degrade to
// zeros; status frames are advisory.
func (s *VigilServer) systemMetrics() (cpuPercent, memoryMB float64) {
	// Non-blocking sample: percentage since the previous call
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	}

	if s.proc != nil {
		if mi, err := s.proc.MemoryInfo(); err == nil && mi != nil {
			memoryMB = float64(mi.RSS) / (1024 * 1024)
		}
	}
	return cpuPercent, memoryMB
}

// activityStateFor classifies a status frame for the adaptive broadcaster.
func activityStateFor(msg DaemonStatusMessage) DaemonState {
	if !msg.Polling {
		return DaemonIdle
	}
	if msg.CPUPercent > 60 {
		return DaemonBusy
	}
	return DaemonActive
}

// intervalForActivityState returns the broadcast interval for a daemon state
func intervalForActivityState(state DaemonState) time.Duration {
	switch state {
	case DaemonBusy:
		return 1 * time.Second // Fast: job active on a loaded host
	case DaemonActive:
		return 5 * time.Second // Medium: job active
	case DaemonIdle:
		return 30 * time.Second // Slow: nothing happening
	default:
		return 10 * time.Second
	}
}

// statusHasChangedLocked checks if the daemon status has meaningfully
// changed since the last broadcast. Uptime, goroutines, and timestamp are
// excluded: they always change.
// REQUIRES: s.mu must be held by caller.
func (s *VigilServer) statusHasChangedLocked(msg DaemonStatusMessage) bool {
	if s.lastStatus == nil {
		return true // First broadcast always sends
	}

	return s.lastStatus.polling != msg.Polling ||
		s.lastStatus.activeJobID != msg.ActiveJobID ||
		s.lastStatus.jobStatus != msg.JobStatus ||
		s.lastStatus.jobMessage != msg.JobMessage ||
		s.lastStatus.trackedJobs != msg.TrackedJobs ||
		s.lastStatus.clients != msg.Clients ||
		absDiff(s.lastStatus.cpuPercent, msg.CPUPercent) > 5.0 || // 5% tolerance
		absDiff(s.lastStatus.memoryMB, msg.MemoryMB) > 1.0
}

// absDiff returns the absolute difference between two float64 values
func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
