// Package ci holds the outbound clients for every external service the
// toolkit reads: the hg pushlog, the Taskcluster queue/index REST and
// GraphQL APIs, and the telemetry warehouse query endpoints. All fetches
// go through one Client so retry, politeness rate limiting, tracing and
// response caching behave the same everywhere.
package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/perfscope/perfscope/internal/cache"
)

const defaultRetries = 5

// Client issues JSON requests against CI services.
type Client struct {
	http      *http.Client
	cache     cache.Store
	limiter   *hostLimiter
	retries   int
	tracer    trace.Tracer
	queueBase string
	indexBase string
	branches  map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithCache attaches a persistent response cache. Cached responses are
// served without touching the network; CI payloads for a resolved
// revision never change.
func WithCache(s cache.Store) Option {
	return func(c *Client) { c.cache = s }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRetries sets the attempt count for failed requests.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithRateLimit caps sustained requests/sec per target host.
func WithRateLimit(rps, burst float64) Option {
	return func(c *Client) { c.limiter = newHostLimiter(rps, burst) }
}

// WithTaskclusterBase overrides the queue and index API roots. Used by
// tests and self-hosted Taskcluster deployments.
func WithTaskclusterBase(queue, index string) Option {
	return func(c *Client) {
		c.queueBase = queue
		c.indexBase = index
	}
}

// WithBranchURL overrides or adds a pushlog root for a branch.
func WithBranchURL(branch, base string) Option {
	return func(c *Client) { c.branches[branch] = base }
}

// New creates a CI client.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 60 * time.Second},
		retries:   defaultRetries,
		tracer:    otel.Tracer("perfscope/ci"),
		queueBase: tcQueuePrefix,
		indexBase: tcIndexPrefix,
		branches:  map[string]string{},
	}
	for branch, base := range branchURLs {
		c.branches[branch] = base
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = newHostLimiter(10, 20)
	}
	return c
}

// GetJSON fetches a JSON document and decodes it into out. When cacheKey
// is non-empty and a cache is attached, the response is served from and
// written through the cache.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, cacheKey string, out any) error {
	if params != nil {
		rawURL += "?" + params.Encode()
	}

	if cacheKey != "" && c.cache != nil {
		if raw, _, ok, err := c.cache.Get(cacheKey); err == nil && ok {
			slog.Debug("cache hit", "key", cacheKey)
			return json.Unmarshal(raw, out)
		}
	}

	raw, err := c.fetch(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	if cacheKey != "" && c.cache != nil {
		if err := c.cache.Put(cacheKey, raw, time.Now()); err != nil {
			slog.Warn("cache write failed", "key", cacheKey, "error", err)
		}
	}
	return json.Unmarshal(raw, out)
}

// PostJSON posts body as JSON and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, out any) error {
	enc, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	raw, err := c.fetch(ctx, http.MethodPost, rawURL, enc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Download streams a URL to w, retrying whole transfers on failure.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) error {
	ctx, span := c.tracer.Start(ctx, "ci.download",
		trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := c.wait(ctx, rawURL); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("build download request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			_, err = io.Copy(w, resp.Body)
			resp.Body.Close()
			if err == nil {
				return nil
			}
			lastErr = fmt.Errorf("stream %s: %w", rawURL, err)
		} else if err != nil {
			lastErr = fmt.Errorf("download %s: %w", rawURL, err)
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
		}
		slog.Warn("download attempt failed", "url", rawURL, "attempt", attempt, "error", lastErr)
		if attempt < c.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return lastErr
}

func (c *Client) fetch(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "ci.fetch",
		trace.WithAttributes(
			attribute.String("method", method),
			attribute.String("url", rawURL),
		))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := c.wait(ctx, rawURL); err != nil {
			return nil, err
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s %s: %w", method, rawURL, err)
		} else {
			raw, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("read response from %s: %w", rawURL, readErr)
			case resp.StatusCode != http.StatusOK:
				lastErr = fmt.Errorf("%s %s: unexpected status %d", method, rawURL, resp.StatusCode)
			default:
				return raw, nil
			}
		}
		slog.Warn("request attempt failed", "url", rawURL, "attempt", attempt, "error", lastErr)
		if attempt < c.retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
	}
	return nil, lastErr
}

func (c *Client) wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %s: %w", rawURL, err)
	}
	return c.limiter.wait(ctx, u.Host)
}
