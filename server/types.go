package server

import (
	"time"

	"github.com/teranos/vigil/track"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// maxConsecutiveDrops is how many broadcasts a client may miss in a row
	// before it is evicted as unable to keep up
	maxConsecutiveDrops = 8
	// broadcastQueueSize is the size of the hub's shared broadcast queue
	broadcastQueueSize = 256
	// ShutdownTimeout is how long Stop waits for goroutines to finish.
	// Registry pause and pump exits are fast; 30s leaves room for a
	// slow in-flight runner request on the command dispatch path.
	ShutdownTimeout = 30 * time.Second
)

// DaemonState represents the activity level of the daemon for adaptive
// status broadcasting
type DaemonState int

const (
	DaemonIdle   DaemonState = iota // No job tracked
	DaemonActive                    // A job is being polled
	DaemonBusy                      // A job is being polled and the host is under load
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// String returns the name used in status payloads and logs.
func (st ServerState) String() string {
	switch st {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	}
	return "unknown"
}

// cachedDaemonStatus tracks the last broadcast status to detect changes.
// Uptime, goroutine count, and timestamp are deliberately absent: they move
// on every tick and would defeat the skip-identical-frames check.
type cachedDaemonStatus struct {
	polling     bool
	activeJobID string
	jobStatus   string
	jobMessage  string
	trackedJobs int
	clients     int
	cpuPercent  float64
	memoryMB    float64
}

// CommandMessage is a client-to-daemon command frame
type CommandMessage struct {
	Type      string `json:"type"`                 // "start_job", "cancel_job", "ping"
	JobID     string `json:"job_id,omitempty"`     // For cancel_job; empty means the active job
	Target    string `json:"target,omitempty"`     // For start_job: portal URL
	UnitCount int    `json:"unit_count,omitempty"` // For start_job: expected unit total
	Label     string `json:"label,omitempty"`      // For start_job: operator-facing label
}

// JobEventMessage wraps one JobRecord mutation for dashboard clients
type JobEventMessage struct {
	Type      string           `json:"type"` // "job_update", "job_completed", "job_errored"
	Job       *track.JobRecord `json:"job"`
	Timestamp int64            `json:"timestamp"` // Unix timestamp
}

// DaemonStatusMessage is the periodic daemon status frame. The same payload
// is served on GET /api/status.
type DaemonStatusMessage struct {
	Type          string  `json:"type"`                  // "daemon_status"
	Running       bool    `json:"running"`               // Daemon is up
	Polling       bool    `json:"polling"`               // A job is being polled
	ActiveJobID   string  `json:"active_job_id,omitempty"`
	JobStatus     string  `json:"job_status,omitempty"`  // Status of the active job
	JobMessage    string  `json:"job_message,omitempty"` // Last message of the active job
	TrackedJobs   int     `json:"tracked_jobs"`          // Records held in memory
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`  // System CPU load (0-100)
	MemoryMB      float64 `json:"memory_mb"`    // Daemon RSS
	Goroutines    int     `json:"goroutines"`
	Clients       int     `json:"clients"`      // Connected WebSocket clients
	ServerState   string  `json:"server_state"` // "running", "draining", "stopped"
	Timestamp     int64   `json:"timestamp"`    // Unix timestamp
}

// ErrorMessage reports a failed command back to the requesting client
type ErrorMessage struct {
	Type      string   `json:"type"`              // "error"
	Command   string   `json:"command,omitempty"` // Command that failed
	Error     string   `json:"error"`
	Details   []string `json:"details,omitempty"` // Structured error context from errors.GetAllDetails()
	Timestamp int64    `json:"timestamp"`         // Unix timestamp
}

// StartJobRequest is the body of POST /api/jobs/start
type StartJobRequest struct {
	Target    string `json:"target"`
	UnitCount int    `json:"unit_count,omitempty"`
	Label     string `json:"label,omitempty"`
}

// JobListResponse is the body of GET /api/jobs and GET /api/history
type JobListResponse struct {
	Jobs  []*track.JobRecord `json:"jobs"`
	Count int                `json:"count"`
}

// ErrorResponse represents an API error with optional structured details
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"` // Structured error context from errors.GetAllDetails()
}
