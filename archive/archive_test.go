package archive

import (
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/types"
)

// sharedFactory lets write and read datasets share one in-memory store.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func testRun(id string, started time.Time) *types.BatchRun {
	return &types.BatchRun{
		ID:          id,
		Mode:        "composite",
		StartedAt:   started,
		CompletedAt: started.Add(time.Minute),
		Items: []types.BatchItem{
			{
				ID:        "item-a",
				SourceRef: "a.jpg",
				Status:    types.ItemSuccess,
				Calls:     types.CallCounts{Generation: 1, Verification: 1},
				Attempts: []types.RetryAttempt{{
					Number:      1,
					Instruction: "replace background",
					Result:      &types.GenerationResult{Image: types.Image{MIMEType: "image/png", Data: []byte("png-bytes")}},
					Verdict:     &types.QCVerdict{Pass: true, Score: 9},
				}},
				ArtifactKey: "generated/" + id + "/a_item-a.png",
			},
			{
				ID:        "item-b",
				SourceRef: "b.jpg",
				Status:    types.ItemError,
				Message:   "request failed",
				Calls:     types.CallCounts{Generation: 1},
			},
		},
		CompletedCount: 2,
		TotalCount:     2,
	}
}

func TestArchive_WriteAndQuery(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	ds, err := NewDataset("", factory)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	run := testRun("run-001", started)
	costs := cost.Snapshot{TextInputUnits: 2800, ImageUnits: 1, Events: 3, TotalUSD: 0.1396}
	snap := metrics.Snapshot{GenerationCalls: 2, VerificationCalls: 1, RunID: "run-001", Mode: "composite"}

	if err := New(ds, "studio").WriteRun(t.Context(), run, costs, snap); err != nil {
		t.Fatalf("WriteRun failed: %v", err)
	}

	ledger, err := QueryLatestRun(t.Context(), ds, "")
	if err != nil {
		t.Fatalf("QueryLatestRun failed: %v", err)
	}

	if ledger.Run.RunID != "run-001" || ledger.Run.Source != "studio" || ledger.Run.Day != "2026-03-04" {
		t.Errorf("unexpected run record: %+v", ledger.Run)
	}
	if ledger.Run.Summary.Success != 1 || ledger.Run.Summary.Error != 1 {
		t.Errorf("summary = %+v", ledger.Run.Summary)
	}
	if ledger.Run.Cost.ImageUnits != 1 || ledger.Run.Metrics.GenerationCalls != 2 {
		t.Errorf("cost=%+v metrics=%+v", ledger.Run.Cost, ledger.Run.Metrics)
	}
	if !ledger.Run.StartedAt.Equal(started) {
		t.Errorf("started_at = %v", ledger.Run.StartedAt)
	}

	if len(ledger.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(ledger.Items))
	}
	first := ledger.Items[0]
	if first.Index != 0 || first.ID != "item-a" || first.Status != types.ItemSuccess {
		t.Errorf("unexpected first item: %+v", first)
	}
	if len(first.Attempts) != 1 || first.Attempts[0].Verdict == nil || first.Attempts[0].Verdict.Score != 9 {
		t.Errorf("attempts not preserved: %+v", first.Attempts)
	}
	if first.Attempts[0].Result == nil || len(first.Attempts[0].Result.Image.Data) != 0 {
		t.Errorf("image bytes must not be archived: %+v", first.Attempts[0].Result)
	}
	if ledger.Items[1].Message != "request failed" {
		t.Errorf("second item message = %q", ledger.Items[1].Message)
	}
}

func TestQueryLatestRun_LatestAndFilter(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	ds, err := NewDataset("", factory)
	if err != nil {
		t.Fatal(err)
	}
	a := New(ds, "")

	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-10"} {
		run := testRun(id, started.Add(time.Duration(i)*time.Hour))
		if err := a.WriteRun(t.Context(), run, cost.Snapshot{}, metrics.Snapshot{}); err != nil {
			t.Fatalf("WriteRun(%s) failed: %v", id, err)
		}
	}

	latest, err := QueryLatestRun(t.Context(), ds, "")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Run.RunID != "run-10" {
		t.Errorf("latest run = %s, want run-10", latest.Run.RunID)
	}
	for _, it := range latest.Items {
		if it.RunID != "run-10" {
			t.Errorf("item from another run leaked: %+v", it)
		}
	}

	first, err := QueryLatestRun(t.Context(), ds, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Run.RunID != "run-1" || first.Run.Source != "local" {
		t.Errorf("filtered run = %+v", first.Run)
	}
}

func TestQueryLatestRun_Empty(t *testing.T) {
	ds, err := NewDataset("", sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := QueryLatestRun(t.Context(), ds, ""); !errors.Is(err, ErrNoRunFound) {
		t.Errorf("expected ErrNoRunFound, got %v", err)
	}
}

func TestWriteRun_NilRun(t *testing.T) {
	ds, err := NewDataset("", sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatal(err)
	}
	if err := New(ds, "").WriteRun(t.Context(), nil, cost.Snapshot{}, metrics.Snapshot{}); err == nil {
		t.Error("expected error for nil run")
	}
}

func TestDeriveDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	got := DeriveDay(time.Date(2026, 3, 5, 2, 0, 0, 0, loc))
	if got != "2026-03-04" {
		t.Errorf("DeriveDay = %s, want 2026-03-04", got)
	}
}
