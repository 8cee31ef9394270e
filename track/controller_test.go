package track

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teranos/vigil/errors"
	vigiltest "github.com/teranos/vigil/internal/testing"
	"github.com/teranos/vigil/runner"
	"github.com/teranos/vigil/state"
)

// fakePortalRunner plays the runner side of the portal API. Every method is
// scriptable and counted.
type fakePortalRunner struct {
	mu          sync.Mutex
	statusCalls int
	startCalls  int
	cancelCalls int
	lastStart   runner.StartRequest
	status      runner.JobStatus
	statusErr   error
	startResp   runner.StartResponse
	startErr    error
	cancelErr   error
}

func newFakePortalRunner() *fakePortalRunner {
	return &fakePortalRunner{
		status:    runner.JobStatus{Status: runner.StatusRunning, Message: "Navigating to dispensers"},
		startResp: runner.StartResponse{Success: true, Message: "Job started", JobID: "run-42"},
	}
}

func (f *fakePortalRunner) Status(ctx context.Context, jobID string) (*runner.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st := f.status
	return &st, nil
}

func (f *fakePortalRunner) Start(ctx context.Context, req runner.StartRequest) (*runner.StartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.lastStart = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	resp := f.startResp
	return &resp, nil
}

func (f *fakePortalRunner) Cancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakePortalRunner) serve(status runner.Status, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = runner.JobStatus{Status: status, Message: message}
	f.statusErr = nil
}

func (f *fakePortalRunner) failStatus(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr = err
}

func (f *fakePortalRunner) failStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakePortalRunner) failCancel(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelErr = err
}

func (f *fakePortalRunner) statusCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func (f *fakePortalRunner) startRequest() runner.StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastStart
}

// recordingNotifier captures broadcast snapshots for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	updated   []*JobRecord
	completed []*JobRecord
	errored   []*JobRecord
}

func (n *recordingNotifier) JobUpdated(rec *JobRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, rec)
}

func (n *recordingNotifier) JobCompleted(rec *JobRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, rec)
}

func (n *recordingNotifier) JobErrored(rec *JobRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errored = append(n.errored, rec)
}

func (n *recordingNotifier) updatedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.updated)
}

func (n *recordingNotifier) completedSnapshots() []*JobRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*JobRecord(nil), n.completed...)
}

func (n *recordingNotifier) erroredSnapshots() []*JobRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*JobRecord(nil), n.errored...)
}

type controllerFixture struct {
	db       *sql.DB
	fake     *fakePortalRunner
	store    state.Store
	history  *HistoryStore
	notifier *recordingNotifier
	reg      *Registry
	ctrl     *Controller
}

func newControllerFixture(t *testing.T, iv Intervals) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		db:       vigiltest.CreateTestDB(t),
		fake:     newFakePortalRunner(),
		notifier: &recordingNotifier{},
	}
	f.store = state.NewSQLiteStore(f.db)
	f.history = NewHistoryStore(f.db)
	f.reg = newTestRegistry(t, iv, f.fake)
	f.ctrl = NewController(f.reg, f.fake, f.store, f.history, f.notifier, nil, createTestLogger())
	return f
}

// snapshot loads the persisted aggregate straight from the store.
func (f *controllerFixture) snapshot(t *testing.T) (TrackerState, bool) {
	t.Helper()
	var persisted TrackerState
	_, found, err := state.LoadSnapshot(context.Background(), f.store, state.TrackerStateKey, &persisted)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return persisted, found
}

func TestController_StartHappyPath(t *testing.T) {
	f := newControllerFixture(t, testIntervals())

	rec, err := f.ctrl.Start(context.Background(), JobContext{
		Target:    "https://portal.example.com",
		UnitCount: 3,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.JobID != "run-42" {
		t.Errorf("job id = %q, want the runner-issued run-42", rec.JobID)
	}
	if rec.Status != runner.StatusRunning {
		t.Errorf("status = %v, want running", rec.Status)
	}

	if req := f.fake.startRequest(); req.Target != "https://portal.example.com" {
		t.Errorf("start request target = %q", req.Target)
	} else if got, ok := req.Options["dispenser_count"]; !ok || got != 3 {
		t.Errorf("start options = %v, want dispenser_count 3", req.Options)
	}

	if active := f.ctrl.Active(); active == nil || active.JobID != "run-42" {
		t.Error("active record not set after start")
	}
	if !f.ctrl.Polling() {
		t.Error("controller not marked polling after start")
	}
	if f.reg.Len() != 1 {
		t.Errorf("registry contexts = %d, want 1", f.reg.Len())
	}

	persisted, found := f.snapshot(t)
	if !found {
		t.Fatal("no aggregate persisted after start")
	}
	if persisted.ActiveJobID != "run-42" || !persisted.IsPolling {
		t.Errorf("persisted handle = %q/%v, want run-42/true", persisted.ActiveJobID, persisted.IsPolling)
	}
	if persisted.Record("run-42") == nil {
		t.Error("persisted aggregate missing the job record")
	}
}

func TestController_StartWhileActiveConflicts(t *testing.T) {
	f := newControllerFixture(t, testIntervals())

	if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"}); err != nil {
		t.Fatalf("first start: %v", err)
	}

	_, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"})
	if !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("second start error = %v, want ErrConflict", err)
	}
	if f.fake.startCalls != 1 {
		t.Errorf("runner start calls = %d, want 1", f.fake.startCalls)
	}
}

func TestController_StartFailureRecordsError(t *testing.T) {
	t.Log("A start the runner rejects becomes an errored record under a local id")

	f := newControllerFixture(t, testIntervals())
	f.fake.failStart(errors.New("portal unreachable"))

	rec, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"})
	if err == nil {
		t.Fatal("start succeeded against a failing runner")
	}
	if rec == nil {
		t.Fatal("failed start returned no record")
	}
	if !strings.HasPrefix(rec.JobID, "local-") {
		t.Errorf("job id = %q, want a local- prefix", rec.JobID)
	}
	if rec.Status != runner.StatusError || rec.Message != "portal unreachable" {
		t.Errorf("record = %v %q, want error/portal unreachable", rec.Status, rec.Message)
	}

	if f.ctrl.Active() != nil {
		t.Error("failed start left an active handle")
	}
	if f.ctrl.Polling() {
		t.Error("failed start left the polling flag set")
	}
	if f.reg.Len() != 0 {
		t.Error("failed start registered a poll context")
	}

	if got := f.notifier.erroredSnapshots(); len(got) != 1 {
		t.Errorf("errored notifications = %d, want 1", len(got))
	}
	if n, err := f.history.Count(); err != nil || n != 1 {
		t.Errorf("archived rows = %d (%v), want 1", n, err)
	}

	// The failed record must not block the next attempt.
	f.fake.failStart(nil)
	if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"}); err != nil {
		t.Fatalf("retry after failed start: %v", err)
	}
}

func TestController_CancelHappyPath(t *testing.T) {
	f := newControllerFixture(t, testIntervals())

	if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return f.notifier.updatedCount() >= 1 },
		"no update before cancel")

	rec, err := f.ctrl.Cancel(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.Status != runner.StatusError || rec.Message != CancelledByUser {
		t.Errorf("cancelled record = %v %q, want error %q", rec.Status, rec.Message, CancelledByUser)
	}

	if f.ctrl.Active() != nil {
		t.Error("cancel left an active handle")
	}
	if f.ctrl.Polling() {
		t.Error("cancel left the polling flag set")
	}
	if f.reg.Len() != 0 {
		t.Error("cancel left a poll context")
	}
	if n, err := f.history.Count(); err != nil || n != 1 {
		t.Errorf("archived rows = %d (%v), want 1", n, err)
	}

	// A second cancel finds the record already terminal.
	if _, err := f.ctrl.Cancel(context.Background(), "run-42"); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("second cancel error = %v, want ErrConflict", err)
	}
}

func TestController_CancelValidation(t *testing.T) {
	f := newControllerFixture(t, testIntervals())

	if _, err := f.ctrl.Cancel(context.Background(), ""); !errors.IsInvalidRequestError(err) {
		t.Errorf("empty id error = %v, want invalid-request", err)
	}
	if _, err := f.ctrl.Cancel(context.Background(), "run-99"); !errors.Is(err, errors.ErrJobNotFound) {
		t.Errorf("unknown id error = %v, want ErrJobNotFound", err)
	}
	if f.fake.cancelCalls != 0 {
		t.Error("validation failures still reached the runner")
	}
}

func TestController_CancelFailureLeavesRecord(t *testing.T) {
	t.Log("A cancel the runner refuses leaves the job running so the caller can retry")

	f := newControllerFixture(t, testIntervals())
	if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.fake.failCancel(errors.New("portal session expired"))
	if _, err := f.ctrl.Cancel(context.Background(), "run-42"); err == nil {
		t.Fatal("cancel succeeded against a refusing runner")
	}

	rec, ok := f.ctrl.Record("run-42")
	if !ok || rec.Terminal() {
		t.Fatal("failed cancel mutated the record")
	}
	if !f.ctrl.Polling() || f.reg.Len() != 1 {
		t.Error("failed cancel stopped polling")
	}

	f.fake.failCancel(nil)
	rec, err := f.ctrl.Cancel(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("retry cancel: %v", err)
	}
	if rec.Message != CancelledByUser {
		t.Errorf("retried cancel message = %q", rec.Message)
	}
}

func TestController_PollUpdatesFlowThroughRecord(t *testing.T) {
	f := newControllerFixture(t, testIntervals())
	f.fake.serve(runner.StatusRunning, "Processing Regular (1/3)")

	if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com", UnitCount: 3}); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitUntil(t, time.Second, func() bool {
		rec, ok := f.ctrl.Record("run-42")
		return ok && rec.Message == "Processing Regular (1/3)"
	}, "polled message never reached the record")

	rec, _ := f.ctrl.Record("run-42")
	if rec.Progress == nil {
		t.Fatal("structured progress not extracted from the message")
	}
	if rec.Progress.Current != 1 || rec.Progress.Total != 3 {
		t.Errorf("progress = %d/%d, want 1/3", rec.Progress.Current, rec.Progress.Total)
	}

	f.fake.serve(runner.StatusCompleted, "Done")
	waitUntil(t, time.Second, func() bool { return len(f.notifier.completedSnapshots()) == 1 },
		"completion never broadcast")

	final := f.notifier.completedSnapshots()[0]
	if final.Message != "Done" || final.Forced {
		t.Errorf("completion snapshot = %q forced=%v, want Done/false", final.Message, final.Forced)
	}
	if !final.JustCompleted {
		t.Error("completion snapshot lost its transient flag")
	}
	if f.ctrl.Active() != nil || f.ctrl.Polling() {
		t.Error("completion left the active handle in place")
	}
	if f.reg.Len() != 0 {
		t.Error("completion left a poll context")
	}
	if n, err := f.history.Count(); err != nil || n != 1 {
		t.Errorf("archived rows = %d (%v), want 1", n, err)
	}
}

func TestController_ForcedCompletionFinalizesRecord(t *testing.T) {
	t.Log("A silent job is force-completed and archived as a forced success")

	iv := Intervals{
		Poll:           5 * time.Millisecond,
		EarlyCheck:     10 * time.Millisecond,
		ActivityCheck:  25 * time.Millisecond,
		ActivityWindow: 40 * time.Millisecond,
		ForceAfter:     100 * time.Millisecond,
		HardCap:        10 * time.Second,
	}
	f := newControllerFixture(t, iv)
	f.fake.serve(runner.StatusRunning, "Waiting for operator approval")

	if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return len(f.notifier.completedSnapshots()) == 1 },
		"silent job never force-completed")

	final := f.notifier.completedSnapshots()[0]
	if !final.Forced {
		t.Error("forced completion not flagged on the record")
	}
	if final.Status != runner.StatusCompleted {
		t.Errorf("status = %v, want completed", final.Status)
	}
	if final.Message != "Waiting for operator approval" {
		t.Errorf("message = %q, want the last observed string", final.Message)
	}

	persisted, _ := f.snapshot(t)
	if got := persisted.Record("run-42"); got == nil || !got.Forced {
		t.Error("forced flag not persisted")
	}
}

func TestController_ReconcileResumesActiveJob(t *testing.T) {
	iv := testIntervals()

	// seed runs a job to mid-flight and shuts the daemon down, leaving the
	// persisted handle behind for the next fixture.
	seed := func(t *testing.T) *controllerFixture {
		t.Helper()
		f := newControllerFixture(t, iv)
		if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"}); err != nil {
			t.Fatalf("seed start: %v", err)
		}
		waitUntil(t, time.Second, func() bool { return f.notifier.updatedCount() >= 1 },
			"seed job never polled")
		if err := f.ctrl.Shutdown(2 * time.Second); err != nil {
			t.Fatalf("seed shutdown: %v", err)
		}

		persisted, found := f.snapshot(t)
		if !found || persisted.ActiveJobID != "run-42" || !persisted.IsPolling {
			t.Fatalf("shutdown persisted %q/%v, want run-42/true", persisted.ActiveJobID, persisted.IsPolling)
		}
		return f
	}

	// revive builds a second controller over the same database, the way a
	// daemon restart does.
	revive := func(t *testing.T, f *controllerFixture) *controllerFixture {
		t.Helper()
		g := &controllerFixture{
			db:       f.db,
			fake:     newFakePortalRunner(),
			store:    f.store,
			notifier: &recordingNotifier{},
		}
		g.history = NewHistoryStore(g.db)
		g.reg = newTestRegistry(t, iv, g.fake)
		g.ctrl = NewController(g.reg, g.fake, g.store, g.history, g.notifier, nil, createTestLogger())
		return g
	}

	t.Run("still running resumes polling", func(t *testing.T) {
		g := revive(t, seed(t))
		g.fake.serve(runner.StatusRunning, "Processing Premium (2/3)")

		if err := g.ctrl.ReconcileOnResume(context.Background()); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if g.fake.statusCount() < 1 {
			t.Error("reconcile never asked the runner for status")
		}
		if active := g.ctrl.Active(); active == nil || active.JobID != "run-42" {
			t.Fatal("active record not restored")
		}
		if !g.ctrl.Polling() || g.reg.Len() != 1 {
			t.Error("reconcile did not resume polling")
		}

		waitUntil(t, time.Second, func() bool {
			rec, ok := g.ctrl.Record("run-42")
			return ok && rec.Message == "Processing Premium (2/3)"
		}, "resumed poll loop never updated the record")
	})

	t.Run("terminal during downtime finalizes locally", func(t *testing.T) {
		g := revive(t, seed(t))
		g.fake.serve(runner.StatusCompleted, "Done")

		if err := g.ctrl.ReconcileOnResume(context.Background()); err != nil {
			t.Fatalf("reconcile: %v", err)
		}

		rec, ok := g.ctrl.Record("run-42")
		if !ok || rec.Status != runner.StatusCompleted {
			t.Fatal("downtime completion not applied to the record")
		}
		if g.ctrl.Active() != nil || g.ctrl.Polling() {
			t.Error("finalized job still holds the active handle")
		}
		if g.reg.Len() != 0 {
			t.Error("finalized job still has a poll context")
		}
		if got := g.notifier.completedSnapshots(); len(got) != 1 {
			t.Errorf("completed notifications = %d, want 1", len(got))
		}
	})

	t.Run("status check failure resumes anyway", func(t *testing.T) {
		g := revive(t, seed(t))
		g.fake.failStatus(errors.New("connection refused"))

		if err := g.ctrl.ReconcileOnResume(context.Background()); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if !g.ctrl.Polling() || g.reg.Len() != 1 {
			t.Error("transport failure during reconcile stopped the resume")
		}

		// The poller picks the job back up once the runner heals.
		g.fake.serve(runner.StatusRunning, "Closing ticket #88 (2/2)")
		waitUntil(t, time.Second, func() bool {
			rec, ok := g.ctrl.Record("run-42")
			return ok && rec.Message == "Closing ticket #88 (2/2)"
		}, "resumed poll loop never recovered")
	})
}

func TestController_ReconcileNoPersistedState(t *testing.T) {
	f := newControllerFixture(t, testIntervals())

	if err := f.ctrl.ReconcileOnResume(context.Background()); err != nil {
		t.Fatalf("reconcile on empty store: %v", err)
	}
	if f.ctrl.Active() != nil || f.ctrl.Polling() || f.reg.Len() != 0 {
		t.Error("reconcile invented state from an empty store")
	}
}

func TestController_RecordsKeepInsertionOrder(t *testing.T) {
	f := newControllerFixture(t, testIntervals())
	f.fake.serve(runner.StatusCompleted, "Done")

	ids := []string{"run-1", "run-2", "run-3"}
	for _, id := range ids {
		f.fake.mu.Lock()
		f.fake.startResp.JobID = id
		f.fake.mu.Unlock()

		if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"}); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
		waitUntil(t, time.Second, func() bool {
			rec, ok := f.ctrl.Record(id)
			return ok && rec.Terminal()
		}, "job never completed")
	}

	recs := f.ctrl.Records()
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.JobID != ids[i] {
			t.Errorf("records[%d] = %s, want %s", i, rec.JobID, ids[i])
		}
	}
}

func TestController_CleanupHistory(t *testing.T) {
	f := newControllerFixture(t, testIntervals())
	f.fake.serve(runner.StatusCompleted, "Done")

	if _, err := f.ctrl.Start(context.Background(), JobContext{Target: "https://portal.example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, time.Second, func() bool {
		rec, ok := f.ctrl.Record("run-42")
		return ok && rec.Terminal()
	}, "job never completed")

	// Zero disables pruning outright.
	if removed, err := f.ctrl.CleanupHistory(0); err != nil || removed != 0 {
		t.Errorf("CleanupHistory(0) = %d, %v", removed, err)
	}
	if len(f.ctrl.Records()) != 1 {
		t.Fatal("disabled cleanup still pruned the table")
	}

	// Everything older than the job's end time goes, in memory and on disk.
	time.Sleep(30 * time.Millisecond)
	if _, err := f.ctrl.CleanupHistory(10 * time.Millisecond); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(f.ctrl.Records()) != 0 {
		t.Error("terminal record survived cleanup")
	}

	persisted, _ := f.snapshot(t)
	if len(persisted.JobRecords) != 0 {
		t.Error("pruned record still in the persisted aggregate")
	}
}
