// Package gemini is the wire codec for generateContent calls.
//
// It builds request bodies from domain requests, sends them through the
// retrying transport, parses candidates and meters usage into a cost ledger.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/transport"
	"github.com/justapithecus/darkroom/types"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Default model identifiers.
const (
	DefaultImageModel  = "gemini-3-pro-image-preview"
	DefaultVerifyModel = "gemini-2.0-flash"
)

// apiKeyHeader carries the caller-supplied credential on every call.
const apiKeyHeader = "x-goog-api-key"

var (
	// ErrNoArtifact is returned when a 2xx generation response has no image part.
	ErrNoArtifact = errors.New("no artifact produced")
	// ErrNoCredential is returned when no API key is configured.
	ErrNoCredential = errors.New("no credential configured")
)

// Options configures a Client.
type Options struct {
	APIKey  string
	BaseURL string
	// Transport performs the retried round-trips (required).
	Transport *transport.Client
	// MaxAttempts is the transient retry budget per call (default 3).
	MaxAttempts int
	// Wait is the transient wait policy (default linear 3s).
	Wait transport.WaitPolicy
	// Meter receives metered units. Nil disables metering.
	Meter cost.Meter
	// Collector counts calls. Nil is allowed.
	Collector *metrics.Collector
	Logger    *log.Logger
}

// Client sends generateContent calls.
type Client struct {
	apiKey      string
	baseURL     string
	transport   *transport.Client
	maxAttempts int
	wait        transport.WaitPolicy
	meter       cost.Meter
	collector   *metrics.Collector
	logger      *log.Logger
}

// NewClient constructs a Client with defaults applied.
func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("gemini client requires a transport")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = transport.DefaultMaxAttempts
	}
	wait := opts.Wait
	if wait == nil {
		wait = transport.LinearBackoff{Base: transport.DefaultBaseDelay}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		transport:   opts.Transport,
		maxAttempts: maxAttempts,
		wait:        wait,
		meter:       opts.Meter,
		collector:   opts.Collector,
		logger:      logger,
	}, nil
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return c.apiKey != ""
}

// Collector returns the metrics collector, possibly nil.
func (c *Client) Collector() *metrics.Collector {
	return c.collector
}

// CallOptions override the client's transient budget for one call.
type CallOptions struct {
	MaxAttempts int
	Wait        transport.WaitPolicy
	// EstimatedInputUnits is metered when the response has no usage metadata.
	EstimatedInputUnits float64
}

// GenerateContent posts body to the model and decodes the response.
// Usage is metered from usageMetadata when present, otherwise from the
// estimate in opts.
func (c *Client) GenerateContent(ctx context.Context, model string, body *GenerateContentRequest, opts CallOptions) (*GenerateContentResponse, error) {
	if !c.HasCredential() {
		return nil, ErrNoCredential
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.maxAttempts
	}
	wait := opts.Wait
	if wait == nil {
		wait = c.wait
	}

	spec := transport.RequestSpec{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model)),
		Header: http.Header{
			"Content-Type": []string{"application/json"},
			apiKeyHeader:   []string{c.apiKey},
		},
		Body: payload,
	}

	start := time.Now()
	resp, err := c.transport.Send(ctx, spec, maxAttempts, wait)
	if err != nil {
		return nil, err
	}

	var out GenerateContentResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.meterUsage(out.UsageMetadata, opts.EstimatedInputUnits)
	c.logger.Debug("generateContent completed", map[string]any{
		"model":       model,
		"attempts":    resp.Attempts,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return &out, nil
}

func (c *Client) meterUsage(usage *UsageMetadata, estimate float64) {
	if c.meter == nil {
		return
	}
	if usage == nil {
		c.meter.Record(types.TextInputUnits, estimate)
		return
	}
	c.meter.Record(types.TextInputUnits, float64(usage.PromptTokenCount))
	c.meter.Record(types.TextOutputUnits, float64(usage.CandidatesTokenCount))
}

// InlinePart encodes an image as an inline data part.
func InlinePart(img types.Image) Part {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return Part{InlineData: &InlineData{
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	}}
}

// DecodeInline decodes an inline data part into an image.
func DecodeInline(d *InlineData) (types.Image, error) {
	data, err := base64.StdEncoding.DecodeString(d.Data)
	if err != nil {
		return types.Image{}, fmt.Errorf("decode inline data: %w", err)
	}
	return types.Image{MIMEType: d.MimeType, Data: data}, nil
}
