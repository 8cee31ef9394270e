// Package runner is the HTTP client for the remote automation service: start
// a job, poll its status, request cancellation. The transport is SSRF-guarded
// by default; deployments pointing vigil at a runner on localhost or the LAN
// disable private-IP blocking through config (the default, since that is
// where runners usually live).
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/internal/httpclient"
)

const (
	// DefaultBaseURL is the fallback runner endpoint when none is configured
	// Should match the default in config/defaults.go for consistency
	DefaultBaseURL = "http://localhost:4444"

	defaultPollRate  = 5.0
	defaultPollBurst = 5
)

// JobStatus is the remote runner's view of one job.
type JobStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// StartRequest asks the runner to begin an automation task against a target.
type StartRequest struct {
	Target  string                 `json:"target"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// StartResponse is the runner's answer to a start request.
type StartResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// CancelRequest asks the runner to stop a job.
type CancelRequest struct {
	JobID string `json:"job_id"`
}

// CancelResponse is the runner's answer to a cancel request.
type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client talks to the remote runner's job API.
type Client struct {
	mu          sync.RWMutex
	baseURL     string
	httpClient  *httpclient.SaferClient
	pollLimiter *rate.Limiter
}

// NewClient creates a runner client from configuration.
func NewClient(cfg *config.Config) *Client {
	baseURL := cfg.Runner.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	blockPrivateIP := !cfg.Runner.AllowPrivate
	saferClient := httpclient.NewSaferClientWithOptions(cfg.RunnerTimeout(), httpclient.SaferClientOptions{
		BlockPrivateIP: &blockPrivateIP,
	})

	pollRate := cfg.Runner.PollRatePerSecond
	if pollRate <= 0 {
		pollRate = defaultPollRate
	}
	pollBurst := cfg.Runner.PollBurst
	if pollBurst <= 0 {
		pollBurst = defaultPollBurst
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  saferClient,
		pollLimiter: rate.NewLimiter(rate.Limit(pollRate), pollBurst),
	}
}

// BaseURL returns the endpoint this client targets.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL repoints the client at a different runner endpoint. Used by
// config hot-reload; requests already in flight finish against the old
// endpoint.
func (c *Client) SetBaseURL(baseURL string) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

// Status fetches the remote view of one job. All status polls share the
// client's rate limiter, so a misconfigured poll interval cannot hammer the
// runner.
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	if jobID == "" {
		return nil, errors.NewInvalidRequestError("job id is required")
	}

	if err := c.pollLimiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "status poll aborted while rate limited")
	}

	endpoint := c.BaseURL() + "/api/run/status?job_id=" + url.QueryEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create status request")
	}

	var status JobStatus
	if err := c.doJSON(req, &status); err != nil {
		return nil, err
	}

	if !IsValidStatus(string(status.Status)) {
		return nil, errors.Newf("runner returned unknown status %q", status.Status)
	}

	return &status, nil
}

// Start asks the runner to begin an automation task. A success=false answer
// from the runner is surfaced as an error carrying the runner's message.
func (c *Client) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if req.Target == "" {
		return nil, errors.NewInvalidRequestError("start target is required")
	}

	var out StartResponse
	if err := c.postJSON(ctx, "/api/run/start", req, &out); err != nil {
		return nil, err
	}

	if !out.Success {
		return nil, errors.Wrapf(errors.ErrStartFailed, "runner refused start: %s", out.Message)
	}
	if out.JobID == "" {
		return nil, errors.Wrap(errors.ErrStartFailed, "runner reported success without a job id")
	}

	return &out, nil
}

// Cancel asks the runner to stop a job. Cooperative: a successful answer
// means the runner accepted the request, not that the remote work halted.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.NewInvalidRequestError("job id is required")
	}

	var out CancelResponse
	if err := c.postJSON(ctx, "/api/run/cancel", CancelRequest{JobID: jobID}, &out); err != nil {
		return err
	}

	if !out.Success {
		return errors.Wrapf(errors.ErrCancelFailed, "runner refused cancel: %s", out.Message)
	}

	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL()+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures are marked so callers can distinguish an
		// unreachable runner from a runner that answered with a refusal.
		err = errors.Mark(errors.Wrap(err, "failed to send request"), errors.ErrRunnerUnavailable)
		return errors.WithDetailf(err, "%s %s", req.Method, req.URL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		// The response body rides along as a detail: error messages stay
		// one line while the dashboard still gets the runner's full answer.
		err := errors.Newf("runner request failed with status %d", resp.StatusCode)
		if body := strings.TrimSpace(string(respBody)); body != "" {
			err = errors.WithDetail(err, body)
		}
		return errors.WithDetailf(err, "%s %s", req.Method, req.URL.Path)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "failed to unmarshal response")
	}

	return nil
}

// SetHTTPClient allows overriding the HTTP client for testing
// ⚠️ WARNING: Only use this in tests. Production code should use the default SSRF-safer client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
