// Package redis publishes batch completion events to Redis.
//
// Every event is PUBLISHed as JSON on a channel. When a history key is
// configured the same payload is also pushed onto a capped list in the
// same transaction, so late subscribers can read recent runs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/darkroom/adapter"
	"github.com/justapithecus/darkroom/transport"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "darkroom:batch_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultHistoryCap bounds the history list when HistoryKey is set.
const DefaultHistoryCap = 100

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: darkroom:batch_completed).
	Channel string
	// HistoryKey, when set, names a list that keeps the latest events.
	HistoryKey string
	// HistoryCap is the list length kept under HistoryKey (default 100).
	HistoryCap int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Sleep replaces the backoff wait (tests).
	Sleep transport.SleepFunc
}

// Adapter publishes batch completion events via Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event, retrying with exponential backoff on failure.
func (a *Adapter) Publish(ctx context.Context, event *adapter.BatchCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	policy := transport.ExponentialBackoff{Base: 500 * time.Millisecond}
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + a.config.Retries

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}
		if attempt > 1 {
			if err := a.config.Sleep(ctx, policy.Before(attempt)); err != nil {
				return fmt.Errorf("redis: context canceled during backoff: %w", err)
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.send(publishCtx, body)
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

func (a *Adapter) send(ctx context.Context, body []byte) error {
	if a.config.HistoryKey == "" {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, a.config.HistoryKey, body)
		pipe.LTrim(ctx, a.config.HistoryKey, 0, a.config.HistoryCap-1)
		pipe.Publish(ctx, a.config.Channel, body)
		return nil
	})
	return err
}

// History returns up to n of the most recent events, newest first.
func (a *Adapter) History(ctx context.Context, n int64) ([]adapter.BatchCompletedEvent, error) {
	if a.config.HistoryKey == "" {
		return nil, errors.New("redis: history key not configured")
	}
	if n <= 0 {
		n = a.config.HistoryCap
	}
	raw, err := a.client.LRange(ctx, a.config.HistoryKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history: %w", err)
	}
	events := make([]adapter.BatchCompletedEvent, 0, len(raw))
	for _, r := range raw {
		var ev adapter.BatchCompletedEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
