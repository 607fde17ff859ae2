// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
)

// Configuration constants for the backend API.
const (
	// DefaultBaseURL is the backend address used when none is configured.
	DefaultBaseURL = "http://localhost:8000"

	// APIPrefix is prepended to every endpoint path.
	APIPrefix = "/api"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	userAgent = "agentchat/0.1.0"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	// sharedStreamingClient is used for invoke streams (no timeout, context-controlled).
	sharedStreamingClient = &http.Client{Transport: sharedTransport}
)

// =============================================================================
// CLIENT
// =============================================================================

// Option configures a Client.
type Option func(*Client)

// Client talks to the agent chat backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	streamer   *http.Client
	maxRetries int
	logger     *log.Logger
}

// WithHTTPClient overrides the client used for non-streaming requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithStreamingClient overrides the client used for invoke streams. It should
// not carry a Timeout.
func WithStreamingClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.streamer = hc
		}
	}
}

// WithBearerToken sends an Authorization header on every request.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout sets the timeout for non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Transport: c.httpClient.Transport, Timeout: d}
		}
	}
}

// WithMaxRetries sets how many times idempotent reads are retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithLogger sets the logger for request logging.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid URL %q", ErrNotConfigured, baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, APIPrefix),
		httpClient: &http.Client{Transport: sharedTransport, Timeout: DefaultTimeout},
		streamer:   sharedStreamingClient,
		maxRetries: DefaultMaxRetries,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

func (c *Client) endpoint(path string, segments ...string) string {
	var sb strings.Builder
	sb.WriteString(c.baseURL)
	sb.WriteString(APIPrefix)
	sb.WriteString(path)
	for _, s := range segments {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(s))
	}
	return sb.String()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do performs one request and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return backoff.Permanent(err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := readResponse(resp)
	c.logger.Debug("backend request", "method", method, "url", endpoint, "status", resp.StatusCode, "duration", time.Since(start))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := newHTTPError(resp.StatusCode, data)
		if httpErr.Temporary() {
			return httpErr
		}
		return backoff.Permanent(httpErr)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

// doOnce performs a non-idempotent request without retrying.
func (c *Client) doOnce(ctx context.Context, method, endpoint string, body, out any) error {
	err := c.do(ctx, method, endpoint, body, out)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// doWithRetry retries do with exponential backoff.
// RELIABILITY: Only idempotent requests go through here; 4xx and context
// cancellation stop immediately.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBaseDelay
	policy.MaxInterval = retryMaxDelay
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(policy, uint64(c.maxRetries))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return c.do(ctx, method, endpoint, nil, out)
	}, b, func(err error, wait time.Duration) {
		c.logger.Warn("backend request failed, retrying", "url", endpoint, "attempt", attempt, "wait", wait, "err", err)
	})
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize))
	}
	return body, nil
}

// IsRetryable reports whether an error returned by the client is transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
