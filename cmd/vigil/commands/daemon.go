package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/server"
)

// daemonBaseURL resolves the address job commands talk to. Live job state
// lives in the daemon's memory, so these commands go through its API rather
// than reading the database directly. VIGIL_DAEMON_URL overrides for a
// daemon on another host or port.
func daemonBaseURL() string {
	if url := os.Getenv("VIGIL_DAEMON_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	return fmt.Sprintf("http://localhost:%d", config.GetServerPort())
}

// daemonHTTPClient bounds CLI round-trips; a hung daemon should fail the
// command, not hang the terminal. Start requests include a runner round
// trip inside the daemon, so this sits above the runner timeout.
var daemonHTTPClient = &http.Client{Timeout: 15 * time.Second}

// daemonGet fetches JSON from the daemon API.
func daemonGet(path string, out interface{}) error {
	resp, err := daemonHTTPClient.Get(daemonBaseURL() + path)
	if err != nil {
		return daemonUnreachable(err)
	}
	defer resp.Body.Close()

	return decodeDaemonResponse(resp, out)
}

// daemonPost sends JSON to the daemon API and decodes the reply into out.
func daemonPost(path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	resp, err := daemonHTTPClient.Post(daemonBaseURL()+path, "application/json", reader)
	if err != nil {
		return daemonUnreachable(err)
	}
	defer resp.Body.Close()

	return decodeDaemonResponse(resp, out)
}

func decodeDaemonResponse(resp *http.Response, out interface{}) error {
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read daemon response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr server.ErrorResponse
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return errors.Newf("daemon refused request: %s", apiErr.Error)
		}
		return errors.Newf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrap(err, "failed to decode daemon response")
	}
	return nil
}

func daemonUnreachable(err error) error {
	return errors.Wrapf(err, "cannot reach the vigil daemon at %s (is it running? start it with 'vigil serve')", daemonBaseURL())
}
