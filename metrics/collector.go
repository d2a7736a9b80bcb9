// Package metrics provides per-run counters of raw external calls and outcomes.
//
// The Collector is a leaf package with no internal dependencies. It records
// what actually happened on the wire (attempts, retries, verifications,
// uploads, evictions), independently of how cost is estimated.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Transport
	HTTPAttempts   int64            `json:"http_attempts"`
	HTTPRetries    int64            `json:"http_retries"`
	HTTPFatal      int64            `json:"http_fatal"`
	HTTPExhausted  int64            `json:"http_exhausted"`
	HTTPTimeouts   int64            `json:"http_timeouts"`
	RetriesByCause map[string]int64 `json:"retries_by_cause,omitempty"`

	// Pipeline
	GenerationCalls   int64 `json:"generation_calls"`
	VerificationCalls int64 `json:"verification_calls"`
	QCFailOpen        int64 `json:"qc_fail_open"`
	CorrectiveRetries int64 `json:"corrective_retries"`

	// Items
	ItemsSucceeded int64 `json:"items_succeeded"`
	ItemsWarned    int64 `json:"items_warned"`
	ItemsFailed    int64 `json:"items_failed"`
	ItemsCancelled int64 `json:"items_cancelled"`

	// Storage
	UploadSuccess int64 `json:"upload_success"`
	UploadFailure int64 `json:"upload_failure"`
	Evictions     int64 `json:"evictions"`
	EvictedBytes  int64 `json:"evicted_bytes"`

	// Dimensions (informational, set at construction)
	RunID          string `json:"run_id"`
	Mode           string `json:"mode"`
	StorageBackend string `json:"storage_backend"`
}

// Collector accumulates counters during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	httpAttempts   int64
	httpRetries    int64
	httpFatal      int64
	httpExhausted  int64
	httpTimeouts   int64
	retriesByCause map[string]int64

	generationCalls   int64
	verificationCalls int64
	qcFailOpen        int64
	correctiveRetries int64

	itemsSucceeded int64
	itemsWarned    int64
	itemsFailed    int64
	itemsCancelled int64

	uploadSuccess int64
	uploadFailure int64
	evictions     int64
	evictedBytes  int64

	runID          string
	mode           string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(runID, mode, storageBackend string) *Collector {
	return &Collector{
		retriesByCause: make(map[string]int64),
		runID:          runID,
		mode:           mode,
		storageBackend: storageBackend,
	}
}

// --- Transport ---

// IncHTTPAttempt records one network round-trip.
func (c *Collector) IncHTTPAttempt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.httpAttempts++
	c.mu.Unlock()
}

// IncHTTPRetry records a transient failure that led to another attempt.
func (c *Collector) IncHTTPRetry(cause string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.httpRetries++
	c.retriesByCause[cause]++
	c.mu.Unlock()
}

// IncHTTPFatal records a non-transient status.
func (c *Collector) IncHTTPFatal() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.httpFatal++
	c.mu.Unlock()
}

// IncHTTPExhausted records a call that ran out of attempts.
func (c *Collector) IncHTTPExhausted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.httpExhausted++
	c.mu.Unlock()
}

// IncHTTPTimeout records a request-level timeout.
func (c *Collector) IncHTTPTimeout() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.httpTimeouts++
	c.mu.Unlock()
}

// --- Pipeline ---

// IncGenerationCall records one generation call (successful or not).
func (c *Collector) IncGenerationCall() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generationCalls++
	c.mu.Unlock()
}

// IncVerificationCall records one quality gate invocation.
func (c *Collector) IncVerificationCall() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.verificationCalls++
	c.mu.Unlock()
}

// IncQCFailOpen records a verdict that passed because verification was unavailable.
func (c *Collector) IncQCFailOpen() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.qcFailOpen++
	c.mu.Unlock()
}

// IncCorrectiveRetry records a generation re-issued with a correction clause.
func (c *Collector) IncCorrectiveRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.correctiveRetries++
	c.mu.Unlock()
}

// --- Items ---

// IncItemSucceeded records an item ending in success.
func (c *Collector) IncItemSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsSucceeded++
	c.mu.Unlock()
}

// IncItemWarned records an item ending in warning.
func (c *Collector) IncItemWarned() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsWarned++
	c.mu.Unlock()
}

// IncItemFailed records an item ending in error.
func (c *Collector) IncItemFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsFailed++
	c.mu.Unlock()
}

// IncItemCancelled records an item skipped by cancellation.
func (c *Collector) IncItemCancelled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsCancelled++
	c.mu.Unlock()
}

// --- Storage ---
// Upload counters are per-object. Eviction counters are per deleted object.

// IncUploadSuccess records a successful artifact upload.
func (c *Collector) IncUploadSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadSuccess++
	c.mu.Unlock()
}

// IncUploadFailure records a failed artifact upload.
func (c *Collector) IncUploadFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadFailure++
	c.mu.Unlock()
}

// AddEviction records one evicted object of the given size.
func (c *Collector) AddEviction(sizeBytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.evictions++
	c.evictedBytes += sizeBytes
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byCause := make(map[string]int64, len(c.retriesByCause))
	for k, v := range c.retriesByCause {
		byCause[k] = v
	}

	return Snapshot{
		HTTPAttempts:   c.httpAttempts,
		HTTPRetries:    c.httpRetries,
		HTTPFatal:      c.httpFatal,
		HTTPExhausted:  c.httpExhausted,
		HTTPTimeouts:   c.httpTimeouts,
		RetriesByCause: byCause,

		GenerationCalls:   c.generationCalls,
		VerificationCalls: c.verificationCalls,
		QCFailOpen:        c.qcFailOpen,
		CorrectiveRetries: c.correctiveRetries,

		ItemsSucceeded: c.itemsSucceeded,
		ItemsWarned:    c.itemsWarned,
		ItemsFailed:    c.itemsFailed,
		ItemsCancelled: c.itemsCancelled,

		UploadSuccess: c.uploadSuccess,
		UploadFailure: c.uploadFailure,
		Evictions:     c.evictions,
		EvictedBytes:  c.evictedBytes,

		RunID:          c.runID,
		Mode:           c.mode,
		StorageBackend: c.storageBackend,
	}
}
