// Package adapter defines the boundary for batch completion notifications.
//
// Adapters publish one event per finished run to a downstream system.
// A failed publish is reported to the caller and never changes the run.
package adapter

import (
	"context"
	"time"

	"github.com/justapithecus/darkroom/types"
)

// EventTypeBatchCompleted is the event_type of every published event.
const EventTypeBatchCompleted = "batch_completed"

// BatchCompletedEvent is the payload published when a run finishes.
type BatchCompletedEvent struct {
	ContractVersion string  `json:"contract_version"`
	EventType       string  `json:"event_type"` // always "batch_completed"
	RunID           string  `json:"run_id"`
	Mode            string  `json:"mode"`
	Source          string  `json:"source"`
	Day             string  `json:"day"`
	Total           int     `json:"total"`
	Success         int     `json:"success"`
	Warning         int     `json:"warning"`
	Error           int     `json:"error"`
	Cancelled       int     `json:"cancelled"`
	CostUSD         float64 `json:"cost_usd"`
	ArchivePath     string  `json:"archive_path,omitempty"`
	Timestamp       string  `json:"timestamp"` // ISO 8601
	DurationMs      int64   `json:"duration_ms"`
}

// NewBatchCompletedEvent builds the event for a finished run.
func NewBatchCompletedEvent(run *types.BatchRun, source string, costUSD float64, archivePath string) *BatchCompletedEvent {
	summary := run.Summary()
	return &BatchCompletedEvent{
		ContractVersion: types.Version,
		EventType:       EventTypeBatchCompleted,
		RunID:           run.ID,
		Mode:            run.Mode,
		Source:          source,
		Day:             run.StartedAt.UTC().Format("2006-01-02"),
		Total:           summary.Total,
		Success:         summary.Success,
		Warning:         summary.Warning,
		Error:           summary.Error,
		Cancelled:       summary.Cancelled,
		CostUSD:         costUSD,
		ArchivePath:     archivePath,
		Timestamp:       run.CompletedAt.UTC().Format(time.RFC3339),
		DurationMs:      run.CompletedAt.Sub(run.StartedAt).Milliseconds(),
	}
}

// Adapter publishes batch completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *BatchCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
