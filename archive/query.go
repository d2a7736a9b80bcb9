package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/darkroom/storage"
)

// ErrNoRunFound is returned when no run record matches.
var ErrNoRunFound = errors.New("no run records found")

// QueryLatestRun returns the most recent run ledger, optionally filtered
// by runID. Snapshots are scanned latest first.
func QueryLatestRun(ctx context.Context, ds lode.Dataset, runID string) (*Ledger, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, storage.Wrap("read", "snapshots", err)
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHasKind(snap, RecordKindRun) {
			continue
		}
		if runID != "" && !snapshotMatches(snap, "run_id", runID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, storage.Wrap("read", fmt.Sprintf("snapshot/%s", snap.ID), err)
		}

		ledger, ok, err := ledgerFrom(data, runID)
		if err != nil {
			return nil, err
		}
		if ok {
			return ledger, nil
		}
	}
	return nil, ErrNoRunFound
}

// ledgerFrom assembles the ledger from one snapshot's records. Record
// fields are authoritative; manifest paths are only a pre-filter. When a
// snapshot carries several runs, the most recently completed one wins.
func ledgerFrom(data []any, runID string) (*Ledger, bool, error) {
	var ledger Ledger
	var items []ItemRecord
	found := false
	for _, item := range data {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if runID != "" && toString(record["run_id"]) != runID {
			continue
		}
		switch toString(record["record_kind"]) {
		case RecordKindRun:
			var rec RunRecord
			if err := fromRecordMap(record, &rec); err != nil {
				return nil, false, fmt.Errorf("archive: decode run record: %w", err)
			}
			if !found || !rec.CompletedAt.Before(ledger.Run.CompletedAt) {
				ledger.Run = rec
			}
			found = true
		case RecordKindItem:
			var rec ItemRecord
			if err := fromRecordMap(record, &rec); err != nil {
				return nil, false, fmt.Errorf("archive: decode item record: %w", err)
			}
			items = append(items, rec)
		}
	}
	if !found {
		return nil, false, nil
	}
	for _, it := range items {
		if it.RunID == ledger.Run.RunID {
			ledger.Items = append(ledger.Items, it)
		}
	}
	sort.Slice(ledger.Items, func(i, j int) bool {
		return ledger.Items[i].Index < ledger.Items[j].Index
	})
	return &ledger, true, nil
}

func snapshotHasKind(snap *lode.DatasetSnapshot, kind string) bool {
	return snapshotMatches(snap, "record_kind", kind)
}

// snapshotMatches checks for an exact key=value path segment, so
// run_id=run-1 never matches run_id=run-10.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
