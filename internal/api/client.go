// Package api is the REST collaborator for the task server. It handles
// bearer authentication, JSON encoding, client-side rate limiting, retry on
// HTTP 429, and maps failures onto the client error taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TokenSource supplies the bearer credential for each request.
// *auth.Session satisfies it.
type TokenSource interface {
	Bearer() (string, error)
}

// Client is a thin HTTP client for the task server REST API.
type Client struct {
	baseURL     string
	tokens      TokenSource
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	backoffUnit time.Duration
	log         *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit sets the client-side token bucket. A non-positive rate
// disables limiting.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithMaxRetries sets how many times a 429 response is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates a new API client. baseURL is the server root (e.g.
// http://localhost:5000); every path is resolved under /api.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api",
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:     rate.NewLimiter(rate.Limit(10), 20),
		maxRetries:  3,
		backoffUnit: time.Second,
		log:         zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request describes one API call.
type request struct {
	method      string
	path        string
	query       url.Values
	body        interface{}
	raw         []byte
	contentType string
	public      bool
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result interface{}) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, query: query}, result)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, result interface{}) error {
	return c.do(ctx, request{method: method, path: path, body: body}, result)
}

// do builds the request, attaches the credential, applies rate limiting
// and 429 backoff, and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, r request, result interface{}) error {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var token string
	if !r.public {
		if c.tokens == nil {
			return &AuthError{Message: "no credential configured"}
		}
		var err error
		token, err = c.tokens.Bearer()
		if err != nil {
			return &AuthError{Message: err.Error(), Err: err}
		}
	}

	payload := r.raw
	contentType := r.contentType
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
		contentType = "application/json"
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return &TransientError{Message: "waiting for rate limiter", Err: err}
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, r.method, target, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &TransientError{
				Message: fmt.Sprintf("executing request %s %s", r.method, r.path),
				Err:     err,
			}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return &TransientError{Message: "reading response body", Err: readErr}
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := c.retryAfterDuration(resp, attempt)
			lastErr = classify(r.method, r.path, resp.StatusCode, respBody)
			c.log.Debugw("rate limited", "method", r.method, "path", r.path, "attempt", attempt, "wait", wait)

			if attempt == c.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return &TransientError{Message: "waiting to retry", Err: ctx.Err()}
			case <-time.After(wait):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := classify(r.method, r.path, resp.StatusCode, respBody)
			c.log.Debugw("request failed", "method", r.method, "path", r.path, "status", resp.StatusCode, "error", err)
			return err
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", r.method, r.path, err)
		}

		return nil
	}

	var tErr *TransientError
	if errors.As(lastErr, &tErr) {
		tErr.Message = fmt.Sprintf("max retries (%d) exceeded: %s", c.maxRetries, tErr.Message)
		return tErr
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func (c *Client) retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * c.backoffUnit
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
