package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/vigil/track"
)

// dialWS connects a test client to the fixture's /ws endpoint.
func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrameOfType reads frames until one matches wantType. Status frames
// and job updates interleave freely, so tests pick out what they assert on.
func readFrameOfType(t *testing.T, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("Reading for %q frame: %v", wantType, err)
		}
		if frame["type"] == wantType {
			return frame
		}
	}
}

func TestWebSocketHello(t *testing.T) {
	f := newHTTPFixture(t)
	conn := dialWS(t, f.ts)

	// The first frame identifies the daemon build
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello map[string]interface{}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello["type"] != "version" {
		t.Errorf("first frame type = %v, want version", hello["type"])
	}

	// A status frame follows so dashboards render without waiting a tick
	status := readFrameOfType(t, conn, "daemon_status")
	if status["running"] != true {
		t.Error("status frame should report the daemon running")
	}

	// And the hub counts the connection
	time.Sleep(20 * time.Millisecond)
	if f.srv.ClientCount() != 1 {
		t.Errorf("Client count = %d, want 1", f.srv.ClientCount())
	}
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	f := newHTTPFixture(t)
	conn := dialWS(t, f.ts)

	time.Sleep(50 * time.Millisecond)
	if f.srv.ClientCount() != 1 {
		t.Fatalf("Client count = %d, want 1", f.srv.ClientCount())
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond)

	if f.srv.ClientCount() != 0 {
		t.Errorf("Client count after disconnect = %d, want 0", f.srv.ClientCount())
	}
}

func TestWebSocketStartJobCommand(t *testing.T) {
	f := newHTTPFixture(t)
	conn := dialWS(t, f.ts)

	cmd := CommandMessage{Type: "start_job", Target: "https://portal.example.com", UnitCount: 8}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("send start_job: %v", err)
	}

	// The started record reaches every client as a job_update broadcast
	frame := readFrameOfType(t, conn, "job_update")
	job, ok := frame["job"].(map[string]interface{})
	if !ok {
		t.Fatalf("job_update payload = %v, want a job object", frame["job"])
	}
	if job["job_id"] != "run-42" {
		t.Errorf("job_id = %v, want run-42", job["job_id"])
	}

	if active := f.ctrl.Active(); active == nil || active.JobID != "run-42" {
		t.Error("controller has no active record after WebSocket start")
	}
}

func TestWebSocketStartJobMissingTarget(t *testing.T) {
	f := newHTTPFixture(t)
	conn := dialWS(t, f.ts)

	if err := conn.WriteJSON(CommandMessage{Type: "start_job"}); err != nil {
		t.Fatalf("send start_job: %v", err)
	}

	frame := readFrameOfType(t, conn, "error")
	if frame["command"] != "start_job" {
		t.Errorf("error command = %v, want start_job", frame["command"])
	}
	if frame["error"] == "" {
		t.Error("error frame missing message")
	}
}

func TestWebSocketCancelActiveJob(t *testing.T) {
	f := newHTTPFixture(t)

	if _, err := f.ctrl.Start(context.Background(), track.JobContext{Target: "https://portal.example.com"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := dialWS(t, f.ts)

	// No job_id targets whatever job is active
	if err := conn.WriteJSON(CommandMessage{Type: "cancel_job"}); err != nil {
		t.Fatalf("send cancel_job: %v", err)
	}

	frame := readFrameOfType(t, conn, "job_errored")
	job, ok := frame["job"].(map[string]interface{})
	if !ok {
		t.Fatalf("job_errored payload = %v, want a job object", frame["job"])
	}
	if job["message"] != track.CancelledByUser {
		t.Errorf("message = %v, want %q", job["message"], track.CancelledByUser)
	}

	time.Sleep(20 * time.Millisecond)
	if f.ctrl.Active() != nil {
		t.Error("active record should clear after cancel")
	}
}

func TestWebSocketCancelWithoutActiveJob(t *testing.T) {
	f := newHTTPFixture(t)
	conn := dialWS(t, f.ts)

	if err := conn.WriteJSON(CommandMessage{Type: "cancel_job"}); err != nil {
		t.Fatalf("send cancel_job: %v", err)
	}

	frame := readFrameOfType(t, conn, "error")
	if frame["command"] != "cancel_job" {
		t.Errorf("error command = %v, want cancel_job", frame["command"])
	}
}

func TestWebSocketUnknownCommandIgnored(t *testing.T) {
	f := newHTTPFixture(t)
	conn := dialWS(t, f.ts)

	if err := conn.WriteJSON(map[string]string{"type": "reticulate_splines"}); err != nil {
		t.Fatalf("send unknown command: %v", err)
	}

	// Unknown types are logged and skipped; the connection survives
	time.Sleep(50 * time.Millisecond)
	if f.srv.ClientCount() != 1 {
		t.Errorf("Client count = %d, want 1 after unknown command", f.srv.ClientCount())
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	f := newHTTPFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	header := map[string][]string{"Origin": {"http://evil.example.com"}}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.Close()
		t.Fatal("Dial should fail for a foreign origin")
	}
	if resp != nil && resp.StatusCode != 403 {
		t.Errorf("handshake status = %d, want 403", resp.StatusCode)
	}
}
