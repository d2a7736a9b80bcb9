// Package transport issues HTTP requests with a bounded number of attempts.
//
// Statuses in a fixed transient set (rate limiting, overload, server error)
// and request timeouts are retried after a wait chosen by a WaitPolicy. Any
// other non-2xx status is fatal and returned without further attempts.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/justapithecus/darkroom/iox"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
)

// DefaultTimeout aborts a single in-flight attempt.
const DefaultTimeout = 120 * time.Second

// DefaultMaxAttempts is the attempt budget used by callers that do not choose one.
const DefaultMaxAttempts = 3

// DefaultBaseDelay is the base of the default linear wait policy.
const DefaultBaseDelay = 3 * time.Second

// maxErrorBody bounds the body excerpt carried by FatalHTTPError.
const maxErrorBody = 512

// transientStatuses are retried; everything else non-2xx is fatal.
var transientStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsTransientStatus reports whether status is in the transient set.
func IsTransientStatus(status int) bool {
	return transientStatuses[status]
}

// WaitPolicy decides how long to wait before an attempt.
type WaitPolicy interface {
	// Before returns the wait before 1-based attempt n. It is never
	// consulted for attempt 1.
	Before(attempt int) time.Duration
}

// LinearBackoff waits (n-1)*Base before attempt n: with Base 3s the
// waits are 3s, 6s, 9s for attempts 2, 3, 4.
type LinearBackoff struct {
	Base time.Duration
}

// Before implements WaitPolicy.
func (p LinearBackoff) Before(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(attempt-1) * p.Base
}

// ExponentialBackoff waits Base*2^(n-2) before attempt n: with Base
// 500ms the waits are 500ms, 1s, 2s for attempts 2, 3, 4.
type ExponentialBackoff struct {
	Base time.Duration
}

// Before implements WaitPolicy.
func (p ExponentialBackoff) Before(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(1<<uint(attempt-2)) * p.Base
}

// RequestSpec describes one logical request. The body is replayed on every
// attempt, so it is held as bytes rather than a reader.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a successful (2xx) response with its body fully read.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Attempts int
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config configures a Client.
type Config struct {
	// HTTPClient defaults to a client with no timeout of its own.
	HTTPClient *http.Client
	// Timeout is the per-attempt timeout (default 120s).
	Timeout time.Duration
	// Limiter paces attempts client-side. Nil disables pacing.
	Limiter *rate.Limiter
	// Logger receives one warn event per retry. Nil discards.
	Logger *log.Logger
	// Collector counts attempts and retry causes. Nil is allowed.
	Collector *metrics.Collector
	// Sleep replaces the wait implementation (tests).
	Sleep SleepFunc
}

// Client is a retrying HTTP client. It holds no per-request state and is
// safe for concurrent use.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *log.Logger
	collector *metrics.Collector
	sleep     SleepFunc
}

// New creates a Client from cfg, applying defaults.
func New(cfg Config) *Client {
	c := &Client{
		http:      cfg.HTTPClient,
		timeout:   cfg.Timeout,
		limiter:   cfg.Limiter,
		logger:    cfg.Logger,
		collector: cfg.Collector,
		sleep:     cfg.Sleep,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// Send issues spec up to maxAttempts times.
//
// It returns the first 2xx response. A non-transient status returns a
// *FatalHTTPError immediately. When every attempt is transient it returns
// *ExhaustedRetriesError. Context cancellation is honored between and
// during attempts and returned as-is.
func (c *Client) Send(ctx context.Context, spec RequestSpec, maxAttempts int, policy WaitPolicy) (*Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if policy == nil {
		policy = LinearBackoff{Base: DefaultBaseDelay}
	}

	var lastCause string
	var lastStatus int

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := policy.Before(attempt)
			c.collector.IncHTTPRetry(lastCause)
			c.logger.Warn("retrying request", map[string]any{
				"attempt":      attempt,
				"max_attempts": maxAttempts,
				"cause":        lastCause,
				"wait":         wait.String(),
			})
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		resp, err := c.do(ctx, spec)
		c.collector.IncHTTPAttempt()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				c.collector.IncHTTPTimeout()
				lastCause, lastStatus = "timeout", 0
				continue
			}
			return nil, err
		}

		if resp.Status >= 200 && resp.Status < 300 {
			resp.Attempts = attempt
			return resp, nil
		}
		if !IsTransientStatus(resp.Status) {
			c.collector.IncHTTPFatal()
			return nil, &FatalHTTPError{Status: resp.Status, Body: excerpt(resp.Body)}
		}
		lastCause, lastStatus = "status_"+strconv.Itoa(resp.Status), resp.Status
	}

	c.collector.IncHTTPExhausted()
	return nil, &ExhaustedRetriesError{
		Attempts:   maxAttempts,
		LastCause:  lastCause,
		LastStatus: lastStatus,
	}
}

// do performs a single attempt under the per-attempt timeout.
func (c *Client) do(ctx context.Context, spec RequestSpec) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range spec.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyErr(ctx, err)
	}
	defer iox.DiscardClose(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyErr(ctx, fmt.Errorf("read body: %w", err))
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// classifyErr maps a transport error to ErrTimeout when the attempt's own
// deadline fired, and otherwise to the parent context error or the error
// itself.
func classifyErr(parent context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("request failed: %w", err)
}

func excerpt(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
