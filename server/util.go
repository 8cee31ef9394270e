package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
)

const wsBufferSize = 2048

// upgrader creates a WebSocket upgrader with origin checking from config
func (s *VigilServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin:     s.originAllowed,
	}
}

// originAllowed validates a request origin against the configured allowed
// origins. Prefix matching keeps any port number acceptable. Requests with
// no Origin header (CLI clients, tests) are always allowed.
func (s *VigilServer) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := []string{"http://localhost", "https://localhost"}
	if s.cfg != nil {
		allowed = s.cfg.GetServerAllowedOrigins()
	}

	for _, prefix := range allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// portFree reports whether a TCP listener can bind the port right now. The
// answer can go stale before the real bind, so callers still handle bind
// errors.
func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// pickPort returns the first bindable port among the requested one, the
// default daemon port, and the ten ports above the default.
func pickPort(requested int) (int, error) {
	candidates := []int{requested}
	if config.DefaultServerPort != requested {
		candidates = append(candidates, config.DefaultServerPort)
	}
	for p := config.DefaultServerPort + 1; p <= config.DefaultServerPort+10; p++ {
		candidates = append(candidates, p)
	}

	for _, port := range candidates {
		if portFree(port) {
			return port, nil
		}
	}
	return 0, errors.Newf("no free port among %d, %d, and %d-%d",
		requested, config.DefaultServerPort, config.DefaultServerPort+1, config.DefaultServerPort+10)
}
