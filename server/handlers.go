package server

// This file contains HTTP handler methods for VigilServer.
// It provides HTTP endpoints for:
// - WebSocket connections (HandleWebSocket)
// - Job API (HandleJobs, HandleJob, HandleStartJob, HandleCancelJob)
// - Daemon status and liveness (HandleStatus, HandleHealthz)
// - Job history (HandleHistory)
// - Configuration API (HandleConfig, GET/POST)

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/track"
	"github.com/teranos/vigil/version"
)

// routes assembles the daemon's HTTP surface on its own mux so tests can
// serve it without touching process-global state.
func (s *VigilServer) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Method checks live inside the handlers rather than in mux patterns so
	// OPTIONS preflight requests still reach corsMiddleware.
	mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket))
	mux.HandleFunc("/healthz", s.corsMiddleware(s.HandleHealthz))
	mux.Handle("/metrics", s.metricsHandler())
	mux.HandleFunc("/api/status", s.corsMiddleware(s.HandleStatus))
	mux.HandleFunc("/api/jobs", s.corsMiddleware(s.HandleJobs))
	mux.HandleFunc("/api/jobs/start", s.corsMiddleware(s.HandleStartJob))
	mux.HandleFunc("/api/jobs/{id}", s.corsMiddleware(s.HandleJob))
	mux.HandleFunc("/api/jobs/{id}/cancel", s.corsMiddleware(s.HandleCancelJob))
	mux.HandleFunc("/api/history", s.corsMiddleware(s.HandleHistory))
	mux.HandleFunc("/api/config", s.corsMiddleware(s.HandleConfig))

	return mux
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed
// origins. Uses the same origin validation as WebSocket connections
// (server.allowed_origins config).
func (s *VigilServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// If origin is present and allowed by config, set CORS headers
		if origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *VigilServer) metricsHandler() http.Handler {
	if s.gatherer != nil {
		return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (s *VigilServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error; origin rejections land here too
		s.logger.Warnw("WebSocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		return
	}

	client := &Client{
		server:  s,
		conn:    conn,
		sendMsg: make(chan interface{}, MaxClientMessageQueueSize),
		id:      fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
	}

	// Send version info BEFORE starting writePump (avoid concurrent writes)
	versionInfo := version.Get()
	versionMsg := map[string]interface{}{
		"type":       "version",
		"version":    versionInfo.Version,
		"commit":     versionInfo.Short(),
		"build_time": versionInfo.BuildTime,
	}
	if err := conn.WriteJSON(versionMsg); err != nil {
		s.logger.Debugw("Failed to send version info",
			"client_id", client.id,
			"error", err,
		)
	}

	s.register <- client

	// Start goroutines for reading and writing
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
}

// HandleHealthz serves the liveness endpoint.
func (s *VigilServer) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	versionInfo := version.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    versionInfo.Version,
		"commit":     versionInfo.Short(),
		"build_time": versionInfo.BuildTime,
		"state":      s.getState().String(),
		"clients":    s.ClientCount(),
	})
}

// HandleStatus serves the same daemon status payload that the WebSocket
// broadcaster pushes, for clients that prefer plain polling.
func (s *VigilServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, s.buildDaemonStatus())
}

// HandleJobs lists every tracked JobRecord.
func (s *VigilServer) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	jobs := s.ctrl.Records()
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// HandleJob serves a single JobRecord by ID.
func (s *VigilServer) HandleJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := r.PathValue("id")
	rec, ok := s.ctrl.Record(jobID)
	if !ok {
		writeDomainError(w, s.logger, errors.NewJobNotFoundError(jobID), "job lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// HandleStartJob starts a job on the remote runner and begins tracking it.
func (s *VigilServer) HandleStartJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req StartJobRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	rec, err := s.ctrl.Start(r.Context(), track.JobContext{
		Target:    req.Target,
		UnitCount: req.UnitCount,
		Label:     req.Label,
	})
	if err != nil {
		writeDomainError(w, s.logger, err, "failed to start job")
		return
	}

	s.logger.Infow("Job started via REST API",
		"job_id", shortID(rec.JobID),
		"target", req.Target,
		"client", r.RemoteAddr,
	)

	writeJSON(w, http.StatusCreated, rec)
}

// HandleCancelJob cancels a tracked job on the remote runner.
func (s *VigilServer) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	jobID := r.PathValue("id")
	rec, err := s.ctrl.Cancel(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, s.logger, err, "failed to cancel job")
		return
	}

	s.logger.Infow("Job cancelled via REST API",
		"job_id", shortID(jobID),
		"client", r.RemoteAddr,
	)

	writeJSON(w, http.StatusOK, rec)
}

// HandleHistory lists archived JobRecords, newest first.
func (s *VigilServer) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", raw))
			return
		}
		limit = parsed
	}

	// History is optional wiring; without it the endpoint stays empty
	if s.history == nil {
		writeJSON(w, http.StatusOK, JobListResponse{Jobs: []*track.JobRecord{}, Count: 0})
		return
	}

	jobs, err := s.history.Recent(limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to load job history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// HandleConfig serves daemon configuration (GET) and applies runtime
// updates (POST).
func (s *VigilServer) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodPost {
		s.handleUpdateConfig(w, r)
		return
	}

	// Check if introspection is requested
	if r.URL.Query().Get("introspection") == "true" {
		introspection, err := config.GetConfigIntrospection()
		if err != nil {
			writeWrappedError(w, s.logger, err, "failed to get config introspection", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, introspection)
		return
	}

	writeJSON(w, http.StatusOK, config.GetConfigSummary())
}

// configUpdateEntry maps a config key to its typed update function.
type configUpdateEntry struct {
	typ      string // "int" or "string"
	updateFn interface{}
}

// configUpdateRegistry defines supported config keys and their update functions.
var configUpdateRegistry = map[string]configUpdateEntry{
	"tracker.poll_interval_ms":       {typ: "int", updateFn: config.UpdatePollIntervalMS},
	"tracker.history_retention_days": {typ: "int", updateFn: config.UpdateHistoryRetentionDays},
	"runner.base_url":                {typ: "string", updateFn: config.UpdateRunnerBaseURL},
	"server.log_theme":               {typ: "string", updateFn: config.UpdateLogTheme},
}

// applyConfigKeyUpdate validates the value type and applies a single config key update.
// Returns true if the update was applied, false if a response was already written.
func applyConfigKeyUpdate(w http.ResponseWriter, log *zap.SugaredLogger, key string, value interface{}, clientAddr string) bool {
	entry, ok := configUpdateRegistry[key]
	if !ok {
		log.Warnw("Unsupported config key in updates", "key", key, "client", clientAddr)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported config key: %s", key))
		return false
	}

	switch entry.typ {
	case "int":
		// JSON numbers decode as float64
		f, ok := value.(float64)
		if !ok || f != float64(int(f)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid value type for %s: expected integer", key))
			return false
		}
		if err := entry.updateFn.(func(int) error)(int(f)); err != nil {
			writeWrappedError(w, log, err, fmt.Sprintf("failed to update %s", key), http.StatusInternalServerError)
			return false
		}
		log.Infow("Config updated via REST API", "key", key, "value", int(f), "client", clientAddr)

	case "string":
		v, ok := value.(string)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid value type for %s: expected string", key))
			return false
		}
		if err := entry.updateFn.(func(string) error)(v); err != nil {
			writeWrappedError(w, log, err, fmt.Sprintf("failed to update %s", key), http.StatusInternalServerError)
			return false
		}
		log.Infow("Config updated via REST API", "key", key, "value", v, "client", clientAddr)
	}

	return true
}

// handleUpdateConfig applies runtime-tunable configuration updates.
func (s *VigilServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates map[string]interface{} `json:"updates"`
	}

	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "no updates provided")
		return
	}

	for key, value := range req.Updates {
		if !applyConfigKeyUpdate(w, s.logger, key, value, r.RemoteAddr) {
			return
		}
	}

	// Return updated config
	writeJSON(w, http.StatusOK, config.GetConfigSummary())
}
