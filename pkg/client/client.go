// Package client is a typed HTTP client for the perfscope API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/http2"
)

// Client is a thin HTTP wrapper for the perfscope API.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithHTTP2 switches to an h2c transport for servers that speak
// cleartext HTTP/2.
func WithHTTP2() Option {
	return func(c *Client) {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		c.HTTPClient = &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					return dialer.DialContext(ctx, network, addr)
				},
				ReadIdleTimeout: 30 * time.Second,
				PingTimeout:     10 * time.Second,
			},
		}
	}
}

// New creates a new perfscope client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		URL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run mirrors a stored detection run.
type Run struct {
	ID           string    `json:"id"`
	TestName     string    `json:"test_name"`
	Platform     string    `json:"platform"`
	Branch       string    `json:"branch"`
	BaseRevision string    `json:"base_revision"`
	NewRevision  string    `json:"new_revision"`
	Depth        int       `json:"depth"`
	CreatedAt    time.Time `json:"created_at"`
	Changes      []Change  `json:"changes,omitempty"`
}

// Change mirrors one detected metric change.
type Change struct {
	ID         string  `json:"id"`
	RunID      string  `json:"run_id"`
	Revision   string  `json:"revision"`
	Pageload   string  `json:"pageload"`
	Metric     string  `json:"metric"`
	Diff       float64 `json:"diff"`
	PValue     float64 `json:"pvalue"`
	EffectSize float64 `json:"effect_size"`
}

// Alert is one alert summary/suite pair.
type Alert struct {
	SummaryID string `json:"summary_id"`
	Suite     string `json:"suite"`
}

// MinimizeResult mirrors the minimal test set response.
type MinimizeResult struct {
	Tests         []string `json:"tests"`
	RejectedTests []string `json:"rejected_tests"`
	CaughtPct     float64  `json:"total_caught"`
	TestsLeftPct  float64  `json:"total_tests_left"`
	AlertCount    int      `json:"alert_count"`
	SuiteCount    int      `json:"suite_count"`
}

// SuiteStat mirrors the per-suite alert breakdown.
type SuiteStat struct {
	Suite  string `json:"suite"`
	Caught int    `json:"caught"`
	Unique int    `json:"unique"`
}

// Snapshot mirrors a stored summary snapshot.
type Snapshot struct {
	ID        string          `json:"id"`
	Platform  string          `json:"platform"`
	App       string          `json:"app"`
	Variant   string          `json:"variant"`
	Pageload  string          `json:"pageload"`
	Series    json.RawMessage `json:"series"`
	CreatedAt time.Time       `json:"created_at"`
}

// SaveRun stores a detection run with its changes.
func (c *Client) SaveRun(ctx context.Context, run *Run) (*Run, error) {
	var created Run
	if err := c.do(ctx, "POST", "/api/v1/runs", run, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetRun fetches one run with its changes.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, "GET", "/api/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns fetches stored runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	path := "/api/v1/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// DeleteRun removes a run and its changes.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/api/v1/runs/"+url.PathEscape(id), nil, nil)
}

// InsertAlerts loads alert history, returning how many records were new.
func (c *Client) InsertAlerts(ctx context.Context, alerts []Alert) (int, error) {
	var resp struct {
		Inserted int `json:"inserted"`
	}
	body := map[string]interface{}{"alerts": alerts}
	if err := c.do(ctx, "POST", "/api/v1/alerts", body, &resp); err != nil {
		return 0, err
	}
	return resp.Inserted, nil
}

// Minimize asks the server for the minimal suite set covering the
// stored alert history. Iterations and seed 0 use server defaults.
func (c *Client) Minimize(ctx context.Context, iterations int, seed int64) (*MinimizeResult, error) {
	q := url.Values{}
	if iterations > 0 {
		q.Set("iterations", strconv.Itoa(iterations))
	}
	if seed != 0 {
		q.Set("seed", strconv.FormatInt(seed, 10))
	}
	path := "/api/v1/alerts/minimize"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var result MinimizeResult
	if err := c.do(ctx, "POST", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Breakdown fetches per-suite alert statistics.
func (c *Client) Breakdown(ctx context.Context) ([]SuiteStat, error) {
	var resp struct {
		Suites []SuiteStat `json:"suites"`
	}
	if err := c.do(ctx, "GET", "/api/v1/alerts/breakdown", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Suites, nil
}

// SaveSnapshot stores a summary snapshot.
func (c *Client) SaveSnapshot(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	var created Snapshot
	if err := c.do(ctx, "POST", "/api/v1/snapshots", snap, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListSnapshots fetches snapshots, optionally filtered by platform.
func (c *Client) ListSnapshots(ctx context.Context, platform string, limit int) ([]Snapshot, error) {
	q := url.Values{}
	if platform != "" {
		q.Set("platform", platform)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/snapshots"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Snapshots []Snapshot `json:"snapshots"`
	}
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		json.Unmarshal(data, &apiErr)
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Error)
	}

	if result != nil {
		return json.Unmarshal(data, result)
	}
	return nil
}
