// Package webhook publishes batch completion events as an HTTP POST.
//
// Delivery goes through the retrying transport: transient statuses are
// retried with exponential backoff and any other non-2xx fails at once.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/justapithecus/darkroom/adapter"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/transport"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultBackoff is the wait before the first retry; it doubles after.
const DefaultBackoff = 500 * time.Millisecond

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Logger receives retry warnings. Nil discards.
	Logger *log.Logger
	// Sleep replaces the backoff wait (tests).
	Sleep transport.SleepFunc
}

// Adapter publishes batch completion events via HTTP POST.
type Adapter struct {
	config Config
	http   *http.Client
	client *transport.Client
}

// New creates a webhook adapter from the given config.
// Returns an error if the URL is empty.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	httpClient := &http.Client{}
	return &Adapter{
		config: cfg,
		http:   httpClient,
		client: transport.New(transport.Config{
			HTTPClient: httpClient,
			Timeout:    cfg.Timeout,
			Logger:     cfg.Logger,
			Sleep:      cfg.Sleep,
		}),
	}, nil
}

// Publish sends the event as a JSON POST request.
func (a *Adapter) Publish(ctx context.Context, event *adapter.BatchCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		header.Set(k, v)
	}

	// attempts = 1 initial + retries
	attempts := 1 + a.config.Retries
	_, err = a.client.Send(ctx, transport.RequestSpec{
		Method: http.MethodPost,
		URL:    a.config.URL,
		Header: header,
		Body:   body,
	}, attempts, transport.ExponentialBackoff{Base: DefaultBackoff})

	switch {
	case err == nil:
		return nil
	case transport.IsFatal(err):
		return fmt.Errorf("webhook: non-retriable error: %w", err)
	case transport.IsExhausted(err):
		return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, err)
	case ctx.Err() != nil:
		return fmt.Errorf("webhook: context canceled: %w", err)
	default:
		return fmt.Errorf("webhook: %w", err)
	}
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	a.http.CloseIdleConnections()
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
