// Package server is the vigil daemon's dashboard surface: a WebSocket hub
// pushing job and daemon status frames to connected clients, plus a JSON
// HTTP API over the same tracking controller. All client channel sends and
// closes happen on the hub goroutine, which is what makes bounded per-client
// queues and slow-client eviction safe without a lock around every send.
package server

import (
	"context"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/track"
)

// VigilServer fans job lifecycle events out to WebSocket dashboard clients
// and serves the JSON API. It implements track.Notifier, so the controller
// pushes every record mutation through it.
type VigilServer struct {
	ctrl    *track.Controller
	history *track.HistoryStore // optional - /api/history answers empty without it
	cfg     *config.Config      // optional - origin checks fall back to localhost

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan interface{}
	mu         sync.RWMutex

	lastStatus *cachedDaemonStatus // Cache last daemon status for change detection

	gatherer prometheus.Gatherer // optional - /metrics falls back to the default gatherer
	proc     *process.Process    // daemon process handle for RSS sampling

	httpServer *http.Server
	logger     *zap.SugaredLogger
	startedAt  time.Time

	// Lifecycle management
	ctx            context.Context    // Cancellation context for graceful shutdown
	cancel         context.CancelFunc // Cancels all goroutines
	wg             sync.WaitGroup     // Tracks active goroutines for clean shutdown
	broadcastDrops atomic.Int64       // Tracks dropped frames for monitoring
	state          atomic.Int32       // Server state (Running/Draining/Stopped)
}

// Deps carries the collaborators for NewServer. Controller is required;
// everything else may be nil.
type Deps struct {
	Controller *track.Controller
	History    *track.HistoryStore
	Config     *config.Config
	Gatherer   prometheus.Gatherer
	Logger     *zap.SugaredLogger
}

// NewServer wires a dashboard server over the tracking controller.
func NewServer(deps Deps) (*VigilServer, error) {
	if deps.Controller == nil {
		return nil, errors.New("tracking controller cannot be nil")
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &VigilServer{
		ctrl:       deps.Controller,
		history:    deps.History,
		cfg:        deps.Config,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan interface{}, broadcastQueueSize),
		gatherer:   deps.Gatherer,
		logger:     log,
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.state.Store(int32(ServerStateRunning))

	// Best effort: status frames carry zero RSS when the handle is unavailable
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = proc
	}

	return s, nil
}

// Run is the hub event loop. It is the only goroutine that sends on or
// closes client channels; register, unregister, and broadcast all funnel
// through it.
func (s *VigilServer) Run() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		case msg := <-s.broadcast:
			s.fanOut(msg)
		}
	}
}

// handleClientRegister handles a new client connection
func (s *VigilServer) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}
	s.clients[client] = true
	totalClients := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", totalClients,
	)

	// New clients get the current daemon picture immediately instead of
	// waiting out the status broadcast ticker.
	select {
	case client.sendMsg <- s.buildDaemonStatus():
	default:
	}
}

// handleClientUnregister handles a client disconnection
func (s *VigilServer) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	totalClients := len(s.clients)
	s.mu.Unlock()

	client.close()

	s.logger.Infow("Client disconnected",
		"client_id", client.id,
		"total_clients", totalClients,
	)
}

// directedMessage routes a frame to one client through the hub loop.
type directedMessage struct {
	client *Client
	msg    interface{}
}

// fanOut delivers one frame to every client with a non-blocking send.
// Clients that miss maxConsecutiveDrops frames in a row are evicted: their
// queue has been full for the whole run and the connection is presumed dead
// or hopelessly behind.
func (s *VigilServer) fanOut(msg interface{}) {
	if d, ok := msg.(directedMessage); ok {
		s.deliverDirected(d)
		return
	}

	s.mu.Lock()
	for client := range s.clients {
		select {
		case client.sendMsg <- msg:
			client.drops = 0
		default:
			client.drops++
			s.broadcastDrops.Add(1)
			if client.drops >= maxConsecutiveDrops {
				s.evictSlowClientLocked(client)
			}
		}
	}
	s.mu.Unlock()
}

// deliverDirected sends a frame to a single client if it is still
// registered. Replies that lose the race against a disconnect are dropped
// rather than sent on a closed channel.
func (s *VigilServer) deliverDirected(d directedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clients[d.client] {
		return
	}
	select {
	case d.client.sendMsg <- d.msg:
	default:
		s.broadcastDrops.Add(1)
	}
}

// evictSlowClientLocked removes a client that can't keep up with broadcasts.
// Requires s.mu; only called from the hub goroutine, so closing the channel
// directly is safe.
func (s *VigilServer) evictSlowClientLocked(client *Client) {
	delete(s.clients, client)
	client.close()

	s.logger.Warnw("Client send channel full, removing client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load(),
	)
}

// ClientCount returns the number of connected WebSocket clients.
func (s *VigilServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
