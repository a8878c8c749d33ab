// Package upstream implements the HTTP Upstream Client of §4.8: a single
// JSON-RPC POST with retry/backoff and pooled keep-alive connections. The
// teacher's proxy.Handler used a bare *http.Client with no retry and no
// shared transport; this generalizes it with cenkalti/backoff/v5 (already
// used for exponential retry elsewhere in the pack, e.g.
// controlplane/telemetry/pkg/epoch/finder.go) and an explicit
// process-wide http.Transport pool keyed by upstream origin.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rpcguard/rpcguard/internal/jsonrpc"
)


// Descriptor is the Upstream Descriptor of §3.
type Descriptor struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// Priority distinguishes primary (lower) from fallback (higher) for
	// metrics only (§3).
	Priority int
}

// Result is what the upstream client returns on a completed HTTP
// round-trip, successful or carrying a JSON-RPC protocol error.
type Result struct {
	StatusCode int
	Body       jsonrpc.Response
}

// retryableStatus reports whether an HTTP status code is retried per §4.8:
// 5xx and 429.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// StatusError is returned when an upstream answers with a retryable HTTP
// status. Distinguishing it from a generic transport error lets the
// pipeline apply §4.2's breaker-failure classification correctly: a 429 is
// retried here but must NOT trip the circuit breaker, only a transport
// error or a >=500 status may.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// IsBreakerFailure reports whether err should count against a circuit
// breaker's consecutive-failure count per §4.2: true for transport errors
// and for a StatusError with Code >= 500, false for a 429 StatusError.
func IsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// Client performs JSON-RPC POSTs against upstream descriptors. One Client
// is shared process-wide; its transport pools keep-alive connections across
// all networks (§5 Shared resources).
type Client struct {
	http *http.Client
}

// Config configures the shared connection pool (§4.8).
type Config struct {
	// MaxConnsPerOrigin bounds keep-alive sockets per upstream origin.
	MaxConnsPerOrigin int
	// IdleConnTimeout reaps idle connections after this long.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns the defaults named in §4.8.
func DefaultConfig() Config {
	return Config{MaxConnsPerOrigin: 50, IdleConnTimeout: 30 * time.Second}
}

// NewClient builds a Client with a pooled transport.
func NewClient(cfg Config) *Client {
	if cfg.MaxConnsPerOrigin <= 0 {
		cfg = DefaultConfig()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: cfg.MaxConnsPerOrigin,
		MaxConnsPerHost:     cfg.MaxConnsPerOrigin,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	return &Client{http: &http.Client{Transport: transport}}
}

// Call performs req against desc, retrying transport errors, 5xx, and 429
// with exponential backoff starting at desc.RetryDelay, up to desc.MaxRetries
// additional attempts. A JSON-RPC response carrying an `error` field is a
// valid protocol reply and is never retried (§4.8).
func (c *Client) Call(ctx context.Context, desc Descriptor, req jsonrpc.Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	if desc.RetryDelay > 0 {
		bo.InitialInterval = desc.RetryDelay
	}

	maxTries := uint(desc.MaxRetries) + 1
	if maxTries < 1 {
		maxTries = 1
	}

	operation := func() (*Result, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(desc.Timeout))
		defer cancel()

		httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, desc.URL, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build upstream request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			// Transport error: retryable.
			return nil, fmt.Errorf("upstream transport error: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read upstream response: %w", err)
		}

		if retryableStatus(resp.StatusCode) {
			return nil, &StatusError{Code: resp.StatusCode}
		}

		var parsed jsonrpc.Response
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode upstream response: %w", err))
		}

		return &Result{StatusCode: resp.StatusCode, Body: parsed}, nil
	}

	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(maxTries))
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
