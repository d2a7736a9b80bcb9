// Package archive persists run ledgers to a Lode dataset.
//
// Every run is written as one snapshot: one run record (summary, cost,
// metrics) plus one item record per work item. Records are partitioned
// source/day/run_id/record_kind and encoded as JSONL.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/storage"
	"github.com/justapithecus/darkroom/types"
)

// DefaultDataset is the Lode dataset ID for run ledgers.
const DefaultDataset = "darkroom"

// Record kinds.
const (
	RecordKindRun  = "run"
	RecordKindItem = "item"
)

var partitionKeys = []string{"source", "day", "run_id", "record_kind"}

// DeriveDay computes the partition day from run start time (YYYY-MM-DD UTC).
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// RunRecord is the per-run row.
type RunRecord struct {
	RecordKind  string           `json:"record_kind"`
	Source      string           `json:"source"`
	Day         string           `json:"day"`
	RunID       string           `json:"run_id"`
	Mode        string           `json:"mode"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Summary     types.RunSummary `json:"summary"`
	Cost        cost.Snapshot    `json:"cost"`
	Metrics     metrics.Snapshot `json:"metrics"`
}

// ItemRecord is the per-item row. Image bytes are never archived.
type ItemRecord struct {
	RecordKind string `json:"record_kind"`
	Source     string `json:"source"`
	Day        string `json:"day"`
	RunID      string `json:"run_id"`
	Index      int    `json:"index"`
	types.BatchItem
}

// Ledger is a run record with its items, as read back from the dataset.
type Ledger struct {
	Run   RunRecord
	Items []ItemRecord
}

// Archive writes run ledgers.
type Archive struct {
	dataset lode.Dataset
	source  string
}

// NewDataset opens the dataset with the archive's layout and codec.
// The read path must use the same layout as the write path.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, storage.Wrap("init", dataset, err)
	}
	return ds, nil
}

// FSFactory returns a filesystem store factory rooted at root.
func FSFactory(root string) lode.StoreFactory {
	return lode.NewFSFactory(root)
}

// S3Factory returns a store factory over the S3 bucket described by cfg,
// using the default AWS credential chain.
func S3Factory(ctx context.Context, cfg storage.S3Config) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, storage.Wrap("init", cfg.Bucket, err)
	}
	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		})
	}, nil
}

// New creates an archive writing to ds, tagging records with source.
func New(ds lode.Dataset, source string) *Archive {
	if source == "" {
		source = "local"
	}
	return &Archive{dataset: ds, source: source}
}

// WriteRun writes the run and its items as a single snapshot.
func (a *Archive) WriteRun(ctx context.Context, run *types.BatchRun, costs cost.Snapshot, snap metrics.Snapshot) error {
	if run == nil {
		return fmt.Errorf("archive: nil run")
	}
	day := DeriveDay(run.StartedAt)

	records := make([]any, 0, len(run.Items)+1)
	runRec, err := toRecordMap(RunRecord{
		RecordKind:  RecordKindRun,
		Source:      a.source,
		Day:         day,
		RunID:       run.ID,
		Mode:        run.Mode,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Summary:     run.Summary(),
		Cost:        costs,
		Metrics:     snap,
	})
	if err != nil {
		return err
	}
	records = append(records, runRec)

	for i, item := range run.Items {
		rec, err := toRecordMap(ItemRecord{
			RecordKind: RecordKindItem,
			Source:     a.source,
			Day:        day,
			RunID:      run.ID,
			Index:      i,
			BatchItem:  item,
		})
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	if _, err := a.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return storage.Wrap("write", "run_id="+run.ID, err)
	}
	return nil
}

// toRecordMap flattens a record through its JSON form so partition keys
// are visible to the layout.
func toRecordMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("archive: encode record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("archive: encode record: %w", err)
	}
	return m, nil
}

func fromRecordMap(m map[string]any, v any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
