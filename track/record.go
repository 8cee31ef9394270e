// Package track owns the lifecycle of remotely executed automation jobs:
// an in-memory registry of poll contexts with their timers, the status
// poller that feeds them, the inactivity heuristics that bound how long a
// job is watched, and the controller facade the server and CLI talk to.
package track

import (
	"time"

	"github.com/teranos/vigil/progress"
	"github.com/teranos/vigil/runner"
)

// timeNow is stubbed in tests so heuristic clocks run deterministically.
var timeNow = time.Now

// CancelledByUser is the terminal message recorded when a user stops a job.
const CancelledByUser = "stopped by user"

// JobContext carries the launch parameters of one automation job. It is
// immutable after creation; the progress extractor reads UnitCount to fill
// in expected totals the runner's messages omit.
type JobContext struct {
	Target    string `json:"target"`
	UnitCount int    `json:"unit_count,omitempty"`
	Label     string `json:"label,omitempty"`
}

// JobRecord is the externally visible state of one tracked job.
type JobRecord struct {
	JobID   string        `json:"job_id"`
	Status  runner.Status `json:"status"`
	Message string        `json:"message"`
	Context JobContext    `json:"context"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Forced marks a completion synthesized by the inactivity heuristics
	// rather than reported by the runner.
	Forced bool `json:"forced,omitempty"`

	// Progress is the structured reading of the latest message, when one of
	// the extractors recognized its shape.
	Progress *progress.StageProgress `json:"progress,omitempty"`

	// Transient flags, recomputed on every update and consumed once by
	// subscribers. Cleared when a record is restored from storage.
	StatusChanged bool `json:"status_changed,omitempty"`
	JustCompleted bool `json:"just_completed,omitempty"`
	JustErrored   bool `json:"just_errored,omitempty"`
}

// NewJobRecord allocates a record in idle, before the runner has been asked
// to start anything.
func NewJobRecord(jobCtx JobContext) *JobRecord {
	return &JobRecord{
		Status:  runner.StatusIdle,
		Context: jobCtx,
	}
}

// MarkRunning records the id issued by the runner and enters running.
func (r *JobRecord) MarkRunning(jobID string) {
	r.ClearTransients()
	r.JobID = jobID
	r.Status = runner.StatusRunning
	r.StartedAt = timeNow()
	r.StatusChanged = true
}

// ApplyStatus folds one successful poll result into the record and reports
// whether the update was applied. Terminal records are immutable and idle is
// never re-entered, so a late tick cannot regress a finished job.
func (r *JobRecord) ApplyStatus(status runner.Status, message string) bool {
	if r.Status.Terminal() {
		return false
	}
	r.ClearTransients()
	changed := false
	if status == runner.StatusRunning && r.Status != runner.StatusRunning {
		r.Status = runner.StatusRunning
		changed = true
	}
	if message != r.Message {
		r.Message = message
		r.refreshProgress()
		changed = true
	}
	r.StatusChanged = changed
	return true
}

// Complete moves the record into completed and stamps EndedAt. An empty
// message keeps the last observed one, which is how heuristic
// force-completion reports "done" without the runner ever saying so.
func (r *JobRecord) Complete(message string, forced bool) bool {
	if r.Status.Terminal() {
		return false
	}
	r.ClearTransients()
	r.Status = runner.StatusCompleted
	if message != "" && message != r.Message {
		r.Message = message
		r.refreshProgress()
	}
	r.Forced = forced
	now := timeNow()
	r.EndedAt = &now
	r.StatusChanged = true
	r.JustCompleted = true
	return true
}

// Fail moves the record into error. Allowed from idle as well as running: a
// start request that never reaches polling fails the record directly.
func (r *JobRecord) Fail(message string) bool {
	if r.Status.Terminal() {
		return false
	}
	r.ClearTransients()
	r.Status = runner.StatusError
	if message != "" {
		r.Message = message
	}
	now := timeNow()
	r.EndedAt = &now
	r.StatusChanged = true
	r.JustErrored = true
	return true
}

// Terminal reports whether the record has reached completed or error.
func (r *JobRecord) Terminal() bool {
	return r.Status.Terminal()
}

// ClearTransients resets the consumed-once subscriber flags. Called on every
// mutation and when records are restored from a persisted snapshot, where
// the flags are meaningless.
func (r *JobRecord) ClearTransients() {
	r.StatusChanged = false
	r.JustCompleted = false
	r.JustErrored = false
}

// Elapsed is the wall-clock runtime of the job so far, or its total runtime
// once terminal.
func (r *JobRecord) Elapsed() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return timeNow().Sub(r.StartedAt)
}

// Clone returns a copy safe to hand across goroutine boundaries. Context is
// immutable and shared; Progress and EndedAt are value-copied.
func (r *JobRecord) Clone() *JobRecord {
	cp := *r
	if r.Progress != nil {
		p := *r.Progress
		cp.Progress = &p
	}
	if r.EndedAt != nil {
		e := *r.EndedAt
		cp.EndedAt = &e
	}
	return &cp
}

func (r *JobRecord) refreshProgress() {
	if p, ok := progress.Extract(r.Message); ok {
		p = p.WithExpectedTotal(r.Context.UnitCount)
		r.Progress = &p
	}
}
