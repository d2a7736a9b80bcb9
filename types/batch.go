package types

import "time"

// ItemStatus is the lifecycle status of a batch item.
type ItemStatus string

const (
	// ItemPending means the item was admitted but not started.
	ItemPending ItemStatus = "pending"
	// ItemRunning means the item is being processed.
	ItemRunning ItemStatus = "running"
	// ItemSuccess means a result was produced and accepted by QC (or QC was off).
	ItemSuccess ItemStatus = "success"
	// ItemWarning means a result was produced but never passed QC.
	ItemWarning ItemStatus = "warning"
	// ItemError means no result was produced at all.
	ItemError ItemStatus = "error"
	// ItemCancelled means the run was cancelled before the item started.
	ItemCancelled ItemStatus = "cancelled"
)

// IsTerminal returns true for statuses an item never leaves.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemSuccess, ItemWarning, ItemError, ItemCancelled:
		return true
	default:
		return false
	}
}

// CallCounts are the raw external calls made for one item.
type CallCounts struct {
	Generation   int `json:"generation"`
	Verification int `json:"verification"`
}

// Add returns the element-wise sum.
func (c CallCounts) Add(o CallCounts) CallCounts {
	return CallCounts{
		Generation:   c.Generation + o.Generation,
		Verification: c.Verification + o.Verification,
	}
}

// BatchItem is the permanent audit record of one work item within a run.
type BatchItem struct {
	ID          string            `json:"id"`
	SourceRef   string            `json:"source_ref"`
	Status      ItemStatus        `json:"status"`
	Attempts    []RetryAttempt    `json:"attempts,omitempty"`
	FinalResult *GenerationResult `json:"final_result,omitempty"`
	Message     string            `json:"message"`
	Calls       CallCounts        `json:"calls"`
	// ArtifactKey is the object-store key of the persisted result, if uploaded.
	ArtifactKey string `json:"artifact_key,omitempty"`
	// ArtifactURL is the public URL of the persisted result, if uploaded.
	ArtifactURL string `json:"artifact_url,omitempty"`
	// OutputPath is the local file the result was written to, if any.
	OutputPath string `json:"output_path,omitempty"`
}

// BatchRun is the ledger of one orchestrator invocation.
type BatchRun struct {
	ID             string      `json:"id"`
	Mode           string      `json:"mode"`
	Items          []BatchItem `json:"items"`
	StartedAt      time.Time   `json:"started_at"`
	CompletedAt    time.Time   `json:"completed_at"`
	CompletedCount int         `json:"completed_count"`
	TotalCount     int         `json:"total_count"`
}

// Done reports whether every item reached a terminal status.
func (r *BatchRun) Done() bool {
	return r.CompletedCount == r.TotalCount
}

// RunSummary is a count of items per terminal status.
type RunSummary struct {
	Total     int        `json:"total"`
	Success   int        `json:"success"`
	Warning   int        `json:"warning"`
	Error     int        `json:"error"`
	Cancelled int        `json:"cancelled"`
	Calls     CallCounts `json:"calls"`
}

// Summary scans the items; the run itself keeps no aggregate counters.
func (r *BatchRun) Summary() RunSummary {
	s := RunSummary{Total: len(r.Items)}
	for i := range r.Items {
		item := &r.Items[i]
		s.Calls = s.Calls.Add(item.Calls)
		switch item.Status {
		case ItemSuccess:
			s.Success++
		case ItemWarning:
			s.Warning++
		case ItemError:
			s.Error++
		case ItemCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Progress is emitted after every item reaches a terminal status.
type Progress struct {
	Current int `json:"current" msgpack:"current"`
	Total   int `json:"total" msgpack:"total"`
}
