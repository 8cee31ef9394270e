package track

import "github.com/prometheus/client_golang/prometheus"

// Poll tick results.
const (
	TickOK             = "ok"
	TickTransportError = "transport_error"
	TickTerminal       = "terminal"
)

// Force-completion rules.
const (
	RuleInactivity = "inactivity"
	RuleHardCap    = "hard_cap"
)

// Terminal job outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeForced    = "forced"
)

// Metrics exposes Prometheus instrumentation for the tracking subsystem.
// All recording methods are safe on a nil receiver, so components can run
// without metrics in tests.
type Metrics struct {
	pollTicks        *prometheus.CounterVec
	forceCompletions *prometheus.CounterVec
	jobs             *prometheus.CounterVec
	activePolls      prometheus.Gauge
}

// NewMetrics builds and registers the tracker metrics on reg. The daemon
// passes prometheus.DefaultRegisterer so they surface on /metrics; tests
// pass an isolated prometheus.NewRegistry() to avoid duplicate-registration
// panics across cases.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_poll_ticks_total",
			Help: "Status poll ticks by result (ok, transport_error, terminal).",
		}, []string{"result"}),
		forceCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_force_completions_total",
			Help: "Jobs force-completed by heuristic rule (inactivity, hard_cap).",
		}, []string{"rule"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_jobs_total",
			Help: "Tracked jobs by terminal outcome (completed, error, cancelled, forced).",
		}, []string{"outcome"}),
		activePolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_active_polls",
			Help: "Number of jobs currently being polled.",
		}),
	}

	reg.MustRegister(m.pollTicks, m.forceCompletions, m.jobs, m.activePolls)
	return m
}

// RecordTick counts one poll tick by result.
func (m *Metrics) RecordTick(result string) {
	if m == nil {
		return
	}
	m.pollTicks.WithLabelValues(result).Inc()
}

// RecordForceCompletion counts a heuristic force-completion by rule.
func (m *Metrics) RecordForceCompletion(rule string) {
	if m == nil {
		return
	}
	m.forceCompletions.WithLabelValues(rule).Inc()
}

// RecordOutcome counts a job reaching a terminal outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

// PollStarted bumps the active-poll gauge when a poll context is created.
func (m *Metrics) PollStarted() {
	if m == nil {
		return
	}
	m.activePolls.Inc()
}

// PollStopped drops the active-poll gauge when a poll context is removed.
func (m *Metrics) PollStopped() {
	if m == nil {
		return
	}
	m.activePolls.Dec()
}
