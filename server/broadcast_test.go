package server

import (
	"context"
	"testing"
	"time"

	"github.com/teranos/vigil/runner"
	"github.com/teranos/vigil/track"
)

func TestActivityStateFor(t *testing.T) {
	tests := []struct {
		name string
		msg  DaemonStatusMessage
		want DaemonState
	}{
		{"idle when not polling", DaemonStatusMessage{Polling: false}, DaemonIdle},
		{"idle ignores load without a job", DaemonStatusMessage{Polling: false, CPUPercent: 95}, DaemonIdle},
		{"active while polling", DaemonStatusMessage{Polling: true, CPUPercent: 12}, DaemonActive},
		{"busy while polling under load", DaemonStatusMessage{Polling: true, CPUPercent: 78}, DaemonBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := activityStateFor(tt.msg); got != tt.want {
				t.Errorf("activityStateFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntervalForActivityState(t *testing.T) {
	if got := intervalForActivityState(DaemonBusy); got != 1*time.Second {
		t.Errorf("busy interval = %v, want 1s", got)
	}
	if got := intervalForActivityState(DaemonActive); got != 5*time.Second {
		t.Errorf("active interval = %v, want 5s", got)
	}
	if got := intervalForActivityState(DaemonIdle); got != 30*time.Second {
		t.Errorf("idle interval = %v, want 30s", got)
	}
	if got := intervalForActivityState(DaemonState(99)); got != 10*time.Second {
		t.Errorf("unknown state interval = %v, want 10s", got)
	}
}

func TestStatusChangeDetection(t *testing.T) {
	f := newServerFixture(t)

	base := DaemonStatusMessage{
		Polling:     true,
		ActiveJobID: "run-42",
		JobStatus:   "running",
		JobMessage:  "Navigating to dispensers",
		TrackedJobs: 1,
		Clients:     2,
		CPUPercent:  20,
		MemoryMB:    64,
	}

	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()

	// First frame always counts as a change
	if !f.srv.statusHasChangedLocked(base) {
		t.Error("First status frame should always broadcast")
	}

	f.srv.lastStatus = &cachedDaemonStatus{
		polling:     base.Polling,
		activeJobID: base.ActiveJobID,
		jobStatus:   base.JobStatus,
		jobMessage:  base.JobMessage,
		trackedJobs: base.TrackedJobs,
		clients:     base.Clients,
		cpuPercent:  base.CPUPercent,
		memoryMB:    base.MemoryMB,
	}

	// Identical frame: no change
	if f.srv.statusHasChangedLocked(base) {
		t.Error("Identical frame should be skipped")
	}

	// Uptime, goroutines, and timestamp move every tick and must not count
	ticking := base
	ticking.UptimeSeconds = 999
	ticking.Goroutines = 500
	ticking.Timestamp = time.Now().Unix()
	if f.srv.statusHasChangedLocked(ticking) {
		t.Error("Per-tick counters alone should not trigger a broadcast")
	}

	// Jitter within tolerance: no change
	jitter := base
	jitter.CPUPercent = base.CPUPercent + 3
	jitter.MemoryMB = base.MemoryMB + 0.5
	if f.srv.statusHasChangedLocked(jitter) {
		t.Error("Metric jitter within tolerance should be skipped")
	}

	// Beyond tolerance: change
	load := base
	load.CPUPercent = base.CPUPercent + 20
	if !f.srv.statusHasChangedLocked(load) {
		t.Error("A CPU swing past tolerance should broadcast")
	}

	// Polling flip: change
	flipped := base
	flipped.Polling = false
	if !f.srv.statusHasChangedLocked(flipped) {
		t.Error("A polling flip should broadcast")
	}

	// Message drift: change
	drifted := base
	drifted.JobMessage = "Scraping dispenser 3 of 8"
	if !f.srv.statusHasChangedLocked(drifted) {
		t.Error("A job message change should broadcast")
	}
}

func TestAbsDiff(t *testing.T) {
	if got := absDiff(3.5, 1.5); got != 2.0 {
		t.Errorf("absDiff(3.5, 1.5) = %v, want 2", got)
	}
	if got := absDiff(1.5, 3.5); got != 2.0 {
		t.Errorf("absDiff(1.5, 3.5) = %v, want 2", got)
	}
	if got := absDiff(2.0, 2.0); got != 0.0 {
		t.Errorf("absDiff(2.0, 2.0) = %v, want 0", got)
	}
}

func TestBuildDaemonStatus(t *testing.T) {
	f := newServerFixture(t)

	msg := f.srv.buildDaemonStatus()
	if msg.Type != "daemon_status" {
		t.Errorf("Type = %q, want daemon_status", msg.Type)
	}
	if !msg.Running {
		t.Error("Running should be true on a live server")
	}
	if msg.Polling {
		t.Error("Polling should be false with no job")
	}
	if msg.ServerState != "running" {
		t.Errorf("ServerState = %q, want running", msg.ServerState)
	}
	if msg.Goroutines == 0 {
		t.Error("Goroutine count should be non-zero")
	}

	// With an active job the frame carries its id and last message
	if _, err := f.ctrl.Start(context.Background(), track.JobContext{Target: "https://portal.example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	msg = f.srv.buildDaemonStatus()
	if !msg.Polling {
		t.Error("Polling should be true with an active job")
	}
	if msg.ActiveJobID != "run-42" {
		t.Errorf("ActiveJobID = %q, want run-42", msg.ActiveJobID)
	}
	if msg.TrackedJobs != 1 {
		t.Errorf("TrackedJobs = %d, want 1", msg.TrackedJobs)
	}
}

// Controller mutations must reach registered clients as typed frames.
func TestNotifierFanOut(t *testing.T) {
	f := newServerFixture(t)

	client := newBareClient(f.srv, "notify_client", 256)
	f.srv.register <- client
	time.Sleep(10 * time.Millisecond)
	<-client.sendMsg // drain the replay frame

	rec := &track.JobRecord{JobID: "run-42", Status: runner.StatusRunning, Message: "Scraping dispenser 1 of 8"}
	f.srv.JobUpdated(rec)

	select {
	case msg := <-client.sendMsg:
		event, ok := msg.(JobEventMessage)
		if !ok {
			t.Fatalf("Received %T, want JobEventMessage", msg)
		}
		if event.Type != "job_update" {
			t.Errorf("Type = %q, want job_update", event.Type)
		}
		if event.Job == nil || event.Job.JobID != "run-42" {
			t.Error("Event should carry the mutated record")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Client did not receive job_update")
	}

	// Terminal events also push a fresh status frame so the dashboard's
	// polling badge flips without waiting for the ticker
	done := rec.Clone()
	f.srv.JobCompleted(done)

	var sawCompleted, sawStatus bool
	deadline := time.After(200 * time.Millisecond)
	for !(sawCompleted && sawStatus) {
		select {
		case msg := <-client.sendMsg:
			switch frame := msg.(type) {
			case JobEventMessage:
				if frame.Type == "job_completed" {
					sawCompleted = true
				}
			case DaemonStatusMessage:
				sawStatus = true
			}
		case <-deadline:
			t.Fatalf("Missing frames after completion: completed=%v status=%v", sawCompleted, sawStatus)
		}
	}
}
