// Package cost meters external usage and prices it.
//
// The Ledger is an append-only running sum per CostKind. Totals are a dot
// product of the sums with a Pricing table; nothing is persisted beyond the
// process lifetime.
package cost

import (
	"sync"

	"github.com/justapithecus/darkroom/types"
)

// Pricing maps a unit kind to its price per unit.
type Pricing map[types.CostKind]float64

// DefaultPricing is the image-model price list in USD.
// Text units are priced per token.
func DefaultPricing() Pricing {
	return Pricing{
		types.TextInputUnits:  2.00 / 1_000_000,
		types.TextOutputUnits: 12.00 / 1_000_000,
		types.ImageUnits:      0.134,
	}
}

// Estimated units recorded when a response carries no usage metadata.
const (
	EstimatedGenerationInputUnits   = 2000
	EstimatedVerificationInputUnits = 800
)

// Meter is the write side of the ledger, handed to components that make
// metered calls.
type Meter interface {
	Record(kind types.CostKind, amount float64)
}

// Ledger accumulates metered units.
// Safe for concurrent use so a UI can read totals while a run progresses.
type Ledger struct {
	mu     sync.Mutex
	sums   map[types.CostKind]float64
	events int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{sums: make(map[types.CostKind]float64)}
}

// Record appends an amount. Non-positive amounts are ignored so the running
// sums can never go negative. Nil-receiver safe.
func (l *Ledger) Record(kind types.CostKind, amount float64) {
	if l == nil || amount <= 0 {
		return
	}
	l.mu.Lock()
	l.sums[kind] += amount
	l.events++
	l.mu.Unlock()
}

// RecordEvent appends a CostEvent.
func (l *Ledger) RecordEvent(e types.CostEvent) {
	l.Record(e.Kind, e.Amount)
}

// Sum returns the running sum for one kind.
func (l *Ledger) Sum(kind types.CostKind) float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sums[kind]
}

// Total prices the running sums. Kinds missing from pricing contribute zero.
func (l *Ledger) Total(pricing Pricing) float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for kind, sum := range l.sums {
		total += sum * pricing[kind]
	}
	return total
}

// Reset zeroes the ledger. This is the only way sums decrease.
func (l *Ledger) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.sums = make(map[types.CostKind]float64)
	l.events = 0
	l.mu.Unlock()
}

// Snapshot is a point-in-time view of the ledger.
type Snapshot struct {
	TextInputUnits  float64 `json:"text_input_units"`
	TextOutputUnits float64 `json:"text_output_units"`
	ImageUnits      float64 `json:"image_units"`
	Events          int64   `json:"events"`
	TotalUSD        float64 `json:"total_usd"`
}

// Snapshot returns the sums and their price under pricing.
func (l *Ledger) Snapshot(pricing Pricing) Snapshot {
	if l == nil {
		return Snapshot{}
	}
	total := l.Total(pricing)

	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		TextInputUnits:  l.sums[types.TextInputUnits],
		TextOutputUnits: l.sums[types.TextOutputUnits],
		ImageUnits:      l.sums[types.ImageUnits],
		Events:          l.events,
		TotalUSD:        total,
	}
}

// Verify Ledger implements Meter.
var _ Meter = (*Ledger)(nil)
