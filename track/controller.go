package track

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/vigil/db"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/runner"
	"github.com/teranos/vigil/state"
)

// persistTimeout bounds each synchronous state write.
const persistTimeout = 5 * time.Second

// Notifier receives record mutations for broadcast to dashboard clients.
// The controller calls it synchronously, so implementations must not block.
type Notifier interface {
	JobUpdated(rec *JobRecord)
	JobCompleted(rec *JobRecord)
	JobErrored(rec *JobRecord)
}

// RunnerClient is the slice of the runner API the controller drives.
type RunnerClient interface {
	StatusFetcher
	Start(ctx context.Context, req runner.StartRequest) (*runner.StartResponse, error)
	Cancel(ctx context.Context, jobID string) error
}

// Controller is the public facade over the tracking subsystem. It owns the
// JobRecord table, persists it as one aggregate after every mutation, and
// drives the registry, runner client, notifier, and history store.
type Controller struct {
	mu sync.Mutex

	registry *Registry
	client   RunnerClient
	store    state.Store   // optional - can be nil for tests
	history  *HistoryStore // optional - can be nil for tests
	notifier Notifier      // optional - can be nil for tests
	metrics  *Metrics      // optional - can be nil for tests
	log      *zap.SugaredLogger

	records map[string]*JobRecord
	order   []string // insertion order, oldest first

	activeJobID      string
	isPolling        bool
	lastStatusUpdate time.Time
	stateVersion     int64
}

// NewController wires the facade. registry and client are required; store,
// history, notifier, and metrics may be nil.
func NewController(registry *Registry, client RunnerClient, store state.Store, history *HistoryStore, notifier Notifier, metrics *Metrics, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{
		registry: registry,
		client:   client,
		store:    store,
		history:  history,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		records:  make(map[string]*JobRecord),
	}
}

// Start asks the runner to begin a job for jobCtx and starts polling it.
// Failure before polling begins fails the record directly under a locally
// generated id and never persists an active job handle.
func (c *Controller) Start(ctx context.Context, jobCtx JobContext) (*JobRecord, error) {
	c.mu.Lock()
	if rec, ok := c.records[c.activeJobID]; ok && !rec.Terminal() {
		id, status := c.activeJobID, rec.Status
		c.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrConflict, "job %s is still %s", id, status)
	}
	c.mu.Unlock()

	rec := NewJobRecord(jobCtx)

	resp, err := c.client.Start(ctx, runner.StartRequest{
		Target:  jobCtx.Target,
		Options: startOptions(jobCtx),
	})
	if err != nil {
		rec.JobID = "local-" + uuid.NewString()
		rec.Fail(err.Error())

		c.mu.Lock()
		c.insertLocked(rec)
		snapshot := rec.Clone()
		c.mu.Unlock()

		c.metrics.RecordOutcome(OutcomeError)
		c.persist()
		c.archive(snapshot)
		c.notifyErrored(snapshot)
		c.log.Errorw("Job start failed",
			"target", jobCtx.Target,
			"error", err,
		)
		return snapshot, err
	}

	rec.MarkRunning(resp.JobID)

	c.mu.Lock()
	c.insertLocked(rec)
	c.activeJobID = resp.JobID
	c.isPolling = true
	c.lastStatusUpdate = timeNow()
	snapshot := rec.Clone()
	c.mu.Unlock()

	c.persist()
	c.notifyUpdated(snapshot)
	c.registry.StartPolling(resp.JobID, c.callbacksFor(resp.JobID), jobCtx)

	c.log.Infow("Job started",
		"job_id", resp.JobID,
		"target", jobCtx.Target,
	)
	return snapshot, nil
}

// Cancel asks the runner to stop jobID and, on success, finalizes the
// record as an error with the stopped-by-user message. A failed cancel
// leaves the record untouched so the caller can retry.
func (c *Controller) Cancel(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.NewInvalidRequestError("job id is required")
	}

	c.mu.Lock()
	rec, ok := c.records[jobID]
	if !ok {
		c.mu.Unlock()
		return nil, errors.NewJobNotFoundError(jobID)
	}
	if rec.Terminal() {
		status := rec.Status
		c.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrConflict, "job %s is already %s", jobID, status)
	}
	c.mu.Unlock()

	if err := c.client.Cancel(ctx, jobID); err != nil {
		return nil, err
	}

	c.registry.StopPolling(jobID)

	c.mu.Lock()
	rec, ok = c.records[jobID]
	if !ok {
		c.mu.Unlock()
		return nil, errors.NewJobNotFoundError(jobID)
	}
	changed := rec.Fail(CancelledByUser)
	if c.activeJobID == jobID {
		c.activeJobID = ""
		c.isPolling = false
	}
	c.lastStatusUpdate = timeNow()
	snapshot := rec.Clone()
	c.mu.Unlock()

	// changed is false when a terminal tick beat the cancellation; the
	// record keeps whichever outcome landed first.
	if changed {
		c.metrics.RecordOutcome(OutcomeCancelled)
		c.persist()
		c.archive(snapshot)
		c.notifyErrored(snapshot)
		c.log.Infow("Job cancelled", "job_id", jobID)
	}
	return snapshot, nil
}

// ReconcileOnResume restores persisted state at daemon start. When an
// outstanding job is recorded, the runner is re-queried once before any
// timer restarts: a terminal answer finalizes the record locally, a live
// answer resumes polling, and a transport failure resumes polling anyway
// since the poller tolerates transient errors.
func (c *Controller) ReconcileOnResume(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	var persisted TrackerState
	version, found, err := state.LoadSnapshot(ctx, c.store, state.TrackerStateKey, &persisted)
	if err != nil {
		return errors.Wrap(err, "failed to load tracker state")
	}
	if !found {
		return nil
	}

	c.mu.Lock()
	c.stateVersion = version
	for _, rec := range persisted.JobRecords {
		// Persisted transient flags are meaningless; they were consumed by
		// the previous process's subscribers.
		rec.ClearTransients()
		c.insertLocked(rec)
	}
	c.activeJobID = persisted.ActiveJobID
	c.isPolling = persisted.IsPolling
	c.lastStatusUpdate = persisted.LastStatusUpdate

	jobID := c.activeJobID
	resume := jobID != "" && c.isPolling
	var jobCtx JobContext
	if rec, ok := c.records[jobID]; ok {
		jobCtx = rec.Context
		if rec.Terminal() {
			resume = false
		}
	} else if resume {
		// Active handle without its record: rebuild a minimal one so the
		// poller has something to update.
		rebuilt := NewJobRecord(JobContext{})
		rebuilt.MarkRunning(jobID)
		rebuilt.ClearTransients()
		c.insertLocked(rebuilt)
	}
	c.mu.Unlock()

	if !resume {
		return nil
	}

	st, err := c.client.Status(ctx, jobID)
	if err != nil {
		c.log.Warnw("Reconcile status check failed, resuming polling anyway",
			"job_id", jobID,
			"error", err,
		)
		c.registry.StartPolling(jobID, c.callbacksFor(jobID), jobCtx)
		return nil
	}

	switch st.Status {
	case runner.StatusCompleted:
		c.finalizeComplete(jobID, st.Message, false)
	case runner.StatusError:
		c.finalizeError(jobID, st.Message)
	default:
		c.applyUpdate(jobID, *st)
		c.registry.StartPolling(jobID, c.callbacksFor(jobID), jobCtx)
	}
	return nil
}

// Record returns a copy of the record for jobID.
func (c *Controller) Record(jobID string) (*JobRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[jobID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Records returns copies of every record, oldest first.
func (c *Controller) Records() []*JobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*JobRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id].Clone())
	}
	return out
}

// Active returns a copy of the currently active record, or nil when no job
// is outstanding.
func (c *Controller) Active() *JobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[c.activeJobID]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// Polling reports whether an outstanding job is being polled.
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPolling
}

// LastUpdate returns the time of the last successful status observation.
func (c *Controller) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatusUpdate
}

// CleanupHistory prunes terminal records that ended before the retention
// window, from the in-memory table and the archive. Returns the number of
// archived rows removed (in-memory prunes when no history store is
// attached). olderThan <= 0 disables pruning.
func (c *Controller) CleanupHistory(olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := timeNow().Add(-olderThan)

	c.mu.Lock()
	memRemoved := 0
	keep := make([]string, 0, len(c.order))
	for _, id := range c.order {
		rec := c.records[id]
		if rec.Terminal() && rec.EndedAt != nil && rec.EndedAt.Before(cutoff) {
			delete(c.records, id)
			memRemoved++
			continue
		}
		keep = append(keep, id)
	}
	c.order = keep
	c.mu.Unlock()

	if memRemoved > 0 {
		c.persist()
		c.log.Infow("Pruned job records", "removed", memRemoved, "older_than", olderThan)
	}

	if c.history == nil {
		return memRemoved, nil
	}
	return c.history.Cleanup(olderThan)
}

// Flush persists the aggregate once. Used by the daemon before exit.
func (c *Controller) Flush() {
	c.persist()
}

// Shutdown pauses every poll context, flushes state, and tears the registry
// down. Pausing rather than stopping keeps the persisted polling flag true
// for outstanding jobs, so the next run reconciles and resumes them.
func (c *Controller) Shutdown(timeout time.Duration) error {
	c.registry.PauseAll()
	c.persist()
	return c.registry.Shutdown(timeout)
}

// callbacksFor binds the registry's poll events for jobID back into record
// mutations on this controller.
func (c *Controller) callbacksFor(jobID string) Callbacks {
	return Callbacks{
		OnUpdate: func(st runner.JobStatus) {
			c.applyUpdate(jobID, st)
		},
		OnComplete: func(lastMessage string, forced bool) {
			c.finalizeComplete(jobID, lastMessage, forced)
		},
		OnError: func(message string) {
			c.finalizeError(jobID, message)
		},
	}
}

func (c *Controller) applyUpdate(jobID string, st runner.JobStatus) {
	c.mu.Lock()
	rec, ok := c.records[jobID]
	if !ok || rec.Terminal() {
		c.mu.Unlock()
		return
	}
	rec.ApplyStatus(st.Status, st.Message)
	c.lastStatusUpdate = timeNow()
	snapshot := rec.Clone()
	c.mu.Unlock()

	c.persist()
	c.notifyUpdated(snapshot)
}

func (c *Controller) finalizeComplete(jobID, lastMessage string, forced bool) {
	c.mu.Lock()
	rec, ok := c.records[jobID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if !rec.Complete(lastMessage, forced) {
		c.mu.Unlock()
		return
	}
	if c.activeJobID == jobID {
		c.activeJobID = ""
		c.isPolling = false
	}
	c.lastStatusUpdate = timeNow()
	snapshot := rec.Clone()
	c.mu.Unlock()

	if forced {
		c.metrics.RecordOutcome(OutcomeForced)
	} else {
		c.metrics.RecordOutcome(OutcomeCompleted)
	}
	c.persist()
	c.archive(snapshot)
	c.notifyCompleted(snapshot)
	c.log.Infow("Job completed",
		"job_id", jobID,
		"forced", forced,
		"message", snapshot.Message,
	)
}

func (c *Controller) finalizeError(jobID, message string) {
	c.mu.Lock()
	rec, ok := c.records[jobID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if !rec.Fail(message) {
		c.mu.Unlock()
		return
	}
	if c.activeJobID == jobID {
		c.activeJobID = ""
		c.isPolling = false
	}
	c.lastStatusUpdate = timeNow()
	snapshot := rec.Clone()
	c.mu.Unlock()

	c.metrics.RecordOutcome(OutcomeError)
	c.persist()
	c.archive(snapshot)
	c.notifyErrored(snapshot)
	c.log.Warnw("Job errored",
		"job_id", jobID,
		"message", message,
	)
}

// insertLocked adds rec to the table, keyed by its id. Requires c.mu.
func (c *Controller) insertLocked(rec *JobRecord) {
	if _, exists := c.records[rec.JobID]; !exists {
		c.order = append(c.order, rec.JobID)
	}
	c.records[rec.JobID] = rec
}

// persist writes the aggregate snapshot under the tracker state key.
// Persistence failures are logged and swallowed: in-memory state stays
// authoritative for this process, and the next successful write catches up.
func (c *Controller) persist() {
	if c.store == nil {
		return
	}

	c.mu.Lock()
	c.stateVersion++
	version := c.stateVersion
	snap := TrackerState{
		ActiveJobID:      c.activeJobID,
		IsPolling:        c.isPolling,
		JobRecords:       make([]*JobRecord, 0, len(c.order)),
		LastStatusUpdate: c.lastStatusUpdate,
	}
	for _, id := range c.order {
		snap.JobRecords = append(snap.JobRecords, c.records[id].Clone())
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := state.SaveSnapshot(ctx, c.store, state.TrackerStateKey, version, snap); err != nil {
		if db.IsClosed(err) {
			// A poll tick can race daemon shutdown, where the handle closes
			// before tickers drain. Flush captured this state on the way out,
			// so the lost write is noise.
			c.log.Debugw("Skipped persist, database closed", "version", version)
			return
		}
		c.log.Errorw("Failed to persist tracker state",
			"version", version,
			"error", err,
		)
	}
}

func (c *Controller) archive(rec *JobRecord) {
	if c.history == nil {
		return
	}
	if err := c.history.Archive(rec); err != nil {
		if db.IsClosed(err) {
			c.log.Debugw("Skipped archive, database closed", "job_id", rec.JobID)
			return
		}
		c.log.Errorw("Failed to archive job record",
			"job_id", rec.JobID,
			"error", err,
		)
	}
}

// SetNotifier binds the dashboard notifier after construction. The server
// needs the controller to exist before it can be built, so wiring happens
// in two steps; call this before any job starts.
func (c *Controller) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

func (c *Controller) currentNotifier() Notifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifier
}

func (c *Controller) notifyUpdated(rec *JobRecord) {
	if n := c.currentNotifier(); n != nil {
		n.JobUpdated(rec)
	}
}

func (c *Controller) notifyCompleted(rec *JobRecord) {
	if n := c.currentNotifier(); n != nil {
		n.JobCompleted(rec)
	}
}

func (c *Controller) notifyErrored(rec *JobRecord) {
	if n := c.currentNotifier(); n != nil {
		n.JobErrored(rec)
	}
}

func startOptions(jobCtx JobContext) map[string]interface{} {
	opts := map[string]interface{}{}
	if jobCtx.UnitCount > 0 {
		opts["dispenser_count"] = jobCtx.UnitCount
	}
	if jobCtx.Label != "" {
		opts["label"] = jobCtx.Label
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
