package track

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/progress"
	"github.com/teranos/vigil/runner"
)

// StatusFetcher is the slice of the runner client the poller needs.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*runner.JobStatus, error)
}

// Callbacks bind a poll context to its subscriber. All three may be nil.
type Callbacks struct {
	// OnUpdate fires on every successful non-terminal poll tick, even when
	// nothing changed, so subscribers can refresh elapsed-time displays.
	OnUpdate func(st runner.JobStatus)
	// OnComplete fires exactly once when the job finishes, whether the
	// runner reported completed or the inactivity heuristics forced it.
	OnComplete func(lastMessage string, forced bool)
	// OnError fires exactly once when the runner reports a terminal error.
	OnError func(message string)
}

// Intervals is the resolved timing schedule for poll contexts. Config
// carries these as whole seconds; tests build them directly so heuristic
// runs take milliseconds.
type Intervals struct {
	Poll           time.Duration // main status poll cadence
	EarlyCheck     time.Duration // one-shot informational look
	ActivityCheck  time.Duration // arms at this delay, then recurs at it
	ActivityWindow time.Duration // message change this recent counts as activity
	ForceAfter     time.Duration // silence threshold for force-completion
	HardCap        time.Duration // absolute ceiling per job
}

// IntervalsFromConfig resolves the tracker configuration into a schedule.
func IntervalsFromConfig(tc config.TrackerConfig) Intervals {
	return Intervals{
		Poll:           tc.PollInterval(),
		EarlyCheck:     tc.EarlyCheckDelay(),
		ActivityCheck:  tc.ActivityCheckInterval(),
		ActivityWindow: tc.ActivityWindow(),
		ForceAfter:     tc.ForceCompleteAfter(),
		HardCap:        tc.HardCap(),
	}
}

func (iv Intervals) withDefaults() Intervals {
	if iv.Poll <= 0 {
		iv.Poll = 2 * time.Second
	}
	if iv.EarlyCheck <= 0 {
		iv.EarlyCheck = 15 * time.Second
	}
	if iv.ActivityCheck <= 0 {
		iv.ActivityCheck = 30 * time.Second
	}
	if iv.ActivityWindow <= 0 {
		iv.ActivityWindow = 45 * time.Second
	}
	if iv.ForceAfter <= 0 {
		iv.ForceAfter = 120 * time.Second
	}
	if iv.HardCap <= 0 {
		iv.HardCap = 300 * time.Second
	}
	return iv
}

// pollContext is the private runtime state for one tracked job. The
// schedule is frozen at creation; interval reconfiguration applies to
// contexts created afterwards.
type pollContext struct {
	jobID     string
	callbacks Callbacks
	jobCtx    JobContext
	iv        Intervals

	poll          *time.Ticker
	earlyTimer    *time.Timer
	activityTimer *time.Timer
	hardCapTimer  *time.Timer

	// Channel rotation state owned by the run loop. A drained one-shot is
	// set to nil so its case blocks forever.
	earlyC       <-chan time.Time
	activityArmC <-chan time.Time
	hardCapC     <-chan time.Time

	activityTicker *time.Ticker
	activityC      <-chan time.Time

	startedAt         time.Time
	lastMessage       string
	lastMessageChange time.Time
	lastStatusUpdate  time.Time
	isPaused          bool
	resumedAt         time.Time

	done chan struct{}
}

// PollState is a read-only view of one poll context, for diagnostics, the
// dashboard, and tests.
type PollState struct {
	JobID             string    `json:"job_id"`
	Paused            bool      `json:"paused"`
	StartedAt         time.Time `json:"started_at"`
	LastMessage       string    `json:"last_message"`
	LastMessageChange time.Time `json:"last_message_change"`
	LastStatusUpdate  time.Time `json:"last_status_update"`
}

// Registry owns every active poll context and its timers. All table and
// context-field mutations are serialized under one mutex; remote status
// calls happen outside it so a slow runner never blocks other jobs.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	client  StatusFetcher
	log     *zap.SugaredLogger
	metrics *Metrics // optional - can be nil for tests

	iv   Intervals
	ctxs map[string]*pollContext
}

// NewRegistry builds a registry whose poll loops run until ctx is cancelled
// or Shutdown is called. metrics may be nil; a nil log falls back to a nop
// logger.
func NewRegistry(ctx context.Context, iv Intervals, client StatusFetcher, log *zap.SugaredLogger, metrics *Metrics) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	rctx, cancel := context.WithCancel(ctx)
	return &Registry{
		ctx:     rctx,
		cancel:  cancel,
		client:  client,
		log:     log,
		metrics: metrics,
		iv:      iv.withDefaults(),
		ctxs:    make(map[string]*pollContext),
	}
}

// SetIntervals swaps the schedule used for poll contexts created from now
// on. Running contexts keep the schedule they were born with.
func (r *Registry) SetIntervals(iv Intervals) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iv = iv.withDefaults()
}

// StartPolling ensures jobID has exactly one poll context.
//
// Three cases:
//   - no context: create one, start the poll loop and the staged heuristic
//     timers, all scheduled relative to now;
//   - paused context: unpause, re-attach callbacks and job context, restart
//     only the main poll ticker — the pause never touched the heuristic
//     timers, so their schedule is preserved;
//   - active context: no-op.
func (r *Registry) StartPolling(jobID string, cb Callbacks, jobCtx JobContext) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pc, ok := r.ctxs[jobID]; ok {
		if !pc.isPaused {
			return
		}
		pc.isPaused = false
		pc.resumedAt = timeNow()
		pc.callbacks = cb
		pc.jobCtx = jobCtx
		pc.poll.Reset(pc.iv.Poll)
		r.log.Infow("Resumed polling", "job_id", jobID)
		return
	}

	now := timeNow()
	pc := &pollContext{
		jobID:     jobID,
		callbacks: cb,
		jobCtx:    jobCtx,
		iv:        r.iv,
		startedAt: now,
		// Job start is the inactivity baseline, so a runner that never
		// answers still gets the full silence window before force-completion.
		lastMessageChange: now,
		done:              make(chan struct{}),
	}
	pc.poll = time.NewTicker(pc.iv.Poll)
	pc.earlyTimer = time.NewTimer(pc.iv.EarlyCheck)
	pc.earlyC = pc.earlyTimer.C
	pc.activityTimer = time.NewTimer(pc.iv.ActivityCheck)
	pc.activityArmC = pc.activityTimer.C
	pc.hardCapTimer = time.NewTimer(pc.iv.HardCap)
	pc.hardCapC = pc.hardCapTimer.C

	r.ctxs[jobID] = pc
	r.metrics.PollStarted()

	r.wg.Add(1)
	go r.run(pc)

	r.log.Infow("Started polling",
		"job_id", jobID,
		"target", jobCtx.Target,
		"poll_interval", pc.iv.Poll,
	)
}

// PausePolling stops the main poll ticker for jobID but keeps the context
// and every other field intact. Used at process teardown; not a terminal
// state for the job.
func (r *Registry) PausePolling(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, ok := r.ctxs[jobID]
	if !ok || pc.isPaused {
		return false
	}
	pc.poll.Stop()
	pc.isPaused = true
	r.log.Infow("Paused polling", "job_id", jobID)
	return true
}

// StopPolling tears down the context for jobID and reports whether this
// call removed it. The entry leaves the table before any timer is touched,
// so of two racing callers exactly one observes the removal — that ordering
// is what makes terminal callbacks fire exactly once.
func (r *Registry) StopPolling(jobID string) bool {
	r.mu.Lock()
	pc, ok := r.ctxs[jobID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.ctxs, jobID)
	r.mu.Unlock()

	// The run loop stops every timer on its way out.
	close(pc.done)
	r.metrics.PollStopped()
	r.log.Infow("Stopped polling", "job_id", jobID)
	return true
}

// StopAll removes every tracked context. Used at daemon shutdown.
func (r *Registry) StopAll() {
	for _, id := range r.Tracked() {
		r.StopPolling(id)
	}
}

// PauseAll pauses every tracked context. Used at process teardown when the
// jobs should survive into the next run.
func (r *Registry) PauseAll() {
	for _, id := range r.Tracked() {
		r.PausePolling(id)
	}
}

// Shutdown stops every context, cancels in-flight status requests, and
// waits up to timeout for the poll loops to exit.
func (r *Registry) Shutdown(timeout time.Duration) error {
	r.StopAll()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("registry shutdown timed out after %s", timeout)
	}
}

// Tracked returns the ids of every context in the table.
func (r *Registry) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.ctxs))
	for id := range r.ctxs {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of tracked contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ctxs)
}

// Peek returns a read-only view of jobID's poll context.
func (r *Registry) Peek(jobID string) (PollState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, ok := r.ctxs[jobID]
	if !ok {
		return PollState{}, false
	}
	return PollState{
		JobID:             pc.jobID,
		Paused:            pc.isPaused,
		StartedAt:         pc.startedAt,
		LastMessage:       pc.lastMessage,
		LastMessageChange: pc.lastMessageChange,
		LastStatusUpdate:  pc.lastStatusUpdate,
	}, true
}

// run is the per-job loop: one goroutine serializes the poll ticks and
// heuristic checks for its context. Drained one-shot channels rotate to nil
// so their cases block forever.
func (r *Registry) run(pc *pollContext) {
	defer r.wg.Done()
	defer func() {
		pc.poll.Stop()
		pc.earlyTimer.Stop()
		pc.activityTimer.Stop()
		pc.hardCapTimer.Stop()
		if pc.activityTicker != nil {
			pc.activityTicker.Stop()
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-pc.done:
			return
		case <-pc.poll.C:
			r.pollOnce(pc)
		case <-pc.earlyC:
			pc.earlyC = nil
			r.earlyReport(pc)
		case <-pc.activityArmC:
			pc.activityArmC = nil
			pc.activityTicker = time.NewTicker(pc.iv.ActivityCheck)
			pc.activityC = pc.activityTicker.C
			r.checkActivity(pc, RuleInactivity)
		case <-pc.activityC:
			r.checkActivity(pc, RuleInactivity)
		case <-pc.hardCapC:
			pc.hardCapC = nil
			r.checkActivity(pc, RuleHardCap)
		}
	}
}

// pollOnce issues one status request and folds the result into the context.
func (r *Registry) pollOnce(pc *pollContext) {
	st, err := r.client.Status(r.ctx, pc.jobID)
	if err != nil {
		// Transport failures are transient: log, skip the tick, leave the
		// inactivity clocks untouched. Only message content counts toward
		// activity, not poll success.
		r.metrics.RecordTick(TickTransportError)
		r.log.Warnw("Status poll failed",
			"job_id", pc.jobID,
			"error", err,
		)
		return
	}

	r.mu.Lock()
	if _, ok := r.ctxs[pc.jobID]; !ok {
		// Stopped while the request was in flight.
		r.mu.Unlock()
		return
	}
	now := timeNow()
	if st.Message != pc.lastMessage {
		pc.lastMessage = st.Message
		pc.lastMessageChange = now
	}
	pc.lastStatusUpdate = now
	cb := pc.callbacks
	r.mu.Unlock()

	if st.Status.Terminal() {
		r.metrics.RecordTick(TickTerminal)
		// Remove the context before invoking terminal callbacks. Removal is
		// the tie-break against a concurrent heuristic force-completion.
		if !r.StopPolling(pc.jobID) {
			return
		}
		switch st.Status {
		case runner.StatusCompleted:
			if cb.OnComplete != nil {
				cb.OnComplete(st.Message, false)
			}
		case runner.StatusError:
			if cb.OnError != nil {
				cb.OnError(st.Message)
			}
		}
		return
	}

	r.metrics.RecordTick(TickOK)
	if cb.OnUpdate != nil {
		cb.OnUpdate(*st)
	}
}

// earlyReport logs the job's current message once, shortly after start.
// Diagnostics only; takes no corrective action.
func (r *Registry) earlyReport(pc *pollContext) {
	r.mu.Lock()
	if _, ok := r.ctxs[pc.jobID]; !ok {
		r.mu.Unlock()
		return
	}
	msg := pc.lastMessage
	elapsed := timeNow().Sub(pc.startedAt)
	r.mu.Unlock()

	r.log.Infow("Job still running",
		"job_id", pc.jobID,
		"elapsed", elapsed,
		"message", msg,
	)
}

// checkActivity runs one heuristic inspection. Under RuleInactivity the job
// is force-completed only after ForceAfter of silence with no activity
// marker; under RuleHardCap any job that fails the activity signal is
// force-completed outright.
func (r *Registry) checkActivity(pc *pollContext, rule string) {
	r.mu.Lock()
	if _, ok := r.ctxs[pc.jobID]; !ok {
		r.mu.Unlock()
		return
	}
	if pc.isPaused {
		// No polls arrive while paused, so the silence clocks are frozen
		// and would always read inactive.
		r.mu.Unlock()
		return
	}
	msg := pc.lastMessage
	sinceChange := timeNow().Sub(pc.lastMessageChange)
	cb := pc.callbacks
	r.mu.Unlock()

	active := progress.Activity(msg) || sinceChange <= pc.iv.ActivityWindow

	switch rule {
	case RuleHardCap:
		if active {
			r.log.Warnw("Job passed hard cap but still shows activity",
				"job_id", pc.jobID,
				"message", msg,
			)
			return
		}
	default:
		if active || sinceChange <= pc.iv.ForceAfter {
			return
		}
	}

	// Force-complete: synthesize success from the last observed message.
	// The runner never confirmed anything — a stuck job and a finished one
	// look identical from here.
	if !r.StopPolling(pc.jobID) {
		return
	}
	r.metrics.RecordForceCompletion(rule)
	r.log.Infow("Force-completing job after inactivity",
		"job_id", pc.jobID,
		"rule", rule,
		"silent_for", sinceChange,
		"message", msg,
	)
	if cb.OnComplete != nil {
		cb.OnComplete(msg, true)
	}
}
