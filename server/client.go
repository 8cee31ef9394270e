package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/track"
)

const (
	// writeWait bounds a single frame write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long a silent peer stays connected; every pong
	// pushes the read deadline out again.
	pongWait = 60 * time.Second

	// pingPeriod must undercut pongWait so a ping is always in flight
	// before the deadline lands.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames; command frames are tiny.
	maxMessageSize = 8 * 1024
)

// Client is one dashboard WebSocket connection: a read pump that turns
// frames into commands, and a write pump fed by the hub through sendMsg.
type Client struct {
	server    *VigilServer
	conn      *websocket.Conn
	sendMsg   chan interface{} // Outbound frame queue, owned by the hub
	id        string
	closeOnce sync.Once // close() is reachable from rejection, unregister, and eviction
	drops     int       // Consecutive missed broadcasts; hub goroutine only
}

// readPump consumes inbound frames until the connection dies, then hands
// the client back to the hub for unregistration.
func (c *Client) readPump() {
	defer func() {
		// The hub may already be gone during shutdown; don't block on it
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("Client read failed",
					"error", err.Error(),
					"client_id", c.id,
				)
			}
			return
		}

		var msg CommandMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.server.logger.Warnw("Malformed command frame",
				"error", err.Error(),
				"client_id", c.id,
			)
			continue
		}

		c.dispatch(&msg)
	}
}

// dispatch maps a decoded command frame onto its handler.
func (c *Client) dispatch(msg *CommandMessage) {
	switch msg.Type {
	case "start_job":
		c.handleStartJob(*msg)
	case "cancel_job":
		c.handleCancelJob(*msg)
	case "ping":
		// Liveness probe; the read itself is the answer
	default:
		c.server.logger.Debugw("Unrecognized command frame",
			"type", msg.Type,
			"client_id", c.id,
		)
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings. Exits on shutdown, queue close, or the first
// failed write.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case msg, ok := <-c.sendMsg:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Warnw("Client write failed",
					"error", err.Error(),
					"client_id", c.id,
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleStartJob launches an automation job from a start_job frame. The
// runner round-trip runs off the read pump so a slow runner cannot stall
// this client's command stream.
func (c *Client) handleStartJob(msg CommandMessage) {
	if msg.Target == "" {
		c.sendJSON(commandError("start_job", errors.NewInvalidRequestError("target is required")))
		return
	}

	c.server.logger.Infow("Start job request",
		"target", msg.Target,
		"client_id", c.id,
	)

	c.server.wg.Add(1)
	go func() {
		defer c.server.wg.Done()

		jobCtx := track.JobContext{
			Target:    msg.Target,
			UnitCount: msg.UnitCount,
			Label:     msg.Label,
		}
		if _, err := c.server.ctrl.Start(c.server.ctx, jobCtx); err != nil {
			// Success needs no ack; the job_update broadcast carries the
			// started record to every client including this one.
			c.sendJSON(commandError("start_job", err))
		}
	}()
}

// handleCancelJob stops a job from a cancel_job frame. An empty job_id
// targets the active job.
func (c *Client) handleCancelJob(msg CommandMessage) {
	jobID := msg.JobID
	if jobID == "" {
		if rec := c.server.ctrl.Active(); rec != nil {
			jobID = rec.JobID
		}
	}
	if jobID == "" {
		c.sendJSON(commandError("cancel_job", errors.ErrNoActiveJob))
		return
	}

	c.server.logger.Infow("Cancel job request",
		"job_id", jobID,
		"client_id", c.id,
	)

	c.server.wg.Add(1)
	go func() {
		defer c.server.wg.Done()

		if _, err := c.server.ctrl.Cancel(c.server.ctx, jobID); err != nil {
			c.sendJSON(commandError("cancel_job", err))
		}
	}()
}

// sendJSON queues a frame for this client via the hub. Command dispatch
// goroutines can outlive the connection, so the hub re-checks membership
// before touching the channel; a reply racing a disconnect is dropped.
func (c *Client) sendJSON(data interface{}) {
	c.server.enqueueDirected(c, data)
}

// commandError builds the error frame for a failed client command
func commandError(command string, err error) ErrorMessage {
	return ErrorMessage{
		Type:      "error",
		Command:   command,
		Error:     err.Error(),
		Details:   errors.GetAllDetails(err),
		Timestamp: time.Now().Unix(),
	}
}

// close shuts the send queue exactly once, whichever of rejection,
// unregistration, or eviction gets here first.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.sendMsg)
	})
}
