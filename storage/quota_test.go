package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/justapithecus/darkroom/metrics"
)

const mb = int64(1024 * 1024)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// seedUniform fills store with n objects of size bytes, one minute apart.
func seedUniform(store *MemoryStore, n int, size int64) {
	for i := range n {
		store.Seed(fmt.Sprintf("photo_%03d.jpg", i), size, epoch.Add(time.Duration(i)*time.Minute))
	}
}

func newQuota(store *MemoryStore) (*QuotaManager, *metrics.Collector) {
	collector := metrics.NewCollector("run-1", "test", "memory")
	q := NewQuotaManager(store, QuotaConfig{
		HardLimitBytes:  900 * mb,
		TargetFraction:  0.8,
		ProtectedPrefix: DefaultProtectedPrefix,
	}, nil, collector)
	return q, collector
}

func TestBeforeUpload_BelowLimitIsNoop(t *testing.T) {
	store := NewMemoryStore()
	seedUniform(store, 10, 50*mb)
	q, _ := newQuota(store)

	report, err := q.BeforeUpload(t.Context(), 1*mb)
	if err != nil {
		t.Fatalf("BeforeUpload failed: %v", err)
	}
	if report.Triggered || len(report.Evicted) != 0 {
		t.Errorf("expected no-op, got %+v", report)
	}
}

func TestBeforeUpload_Watermark(t *testing.T) {
	store := NewMemoryStore()
	seedUniform(store, 19, 50*mb) // 950MB
	q, collector := newQuota(store)

	report, err := q.BeforeUpload(t.Context(), 0)
	if err != nil {
		t.Fatalf("BeforeUpload failed: %v", err)
	}
	if !report.Triggered {
		t.Fatal("expected eviction to trigger")
	}

	usage, err := q.Usage(t.Context())
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage.TotalBytes > 720*mb {
		t.Errorf("usage %dMB exceeds 720MB watermark", usage.TotalBytes/mb)
	}
	// 950 -> 700 takes exactly five 50MB objects.
	if len(report.Evicted) != 5 || report.FreedBytes != 250*mb {
		t.Errorf("evicted %d objects (%d bytes), want 5 (250MB)", len(report.Evicted), report.FreedBytes)
	}
	if report.AfterBytes != usage.TotalBytes {
		t.Errorf("AfterBytes = %d, listed usage = %d", report.AfterBytes, usage.TotalBytes)
	}
	if report.OverBudget {
		t.Error("should not be over budget")
	}
	snap := collector.Snapshot()
	if snap.Evictions != 5 || snap.EvictedBytes != 250*mb {
		t.Errorf("unexpected eviction metrics: %+v", snap)
	}
}

func TestBeforeUpload_IncludesCandidate(t *testing.T) {
	store := NewMemoryStore()
	seedUniform(store, 17, 50*mb) // 850MB, below the limit on its own
	q, _ := newQuota(store)

	report, err := q.BeforeUpload(t.Context(), 60*mb)
	if err != nil {
		t.Fatalf("BeforeUpload failed: %v", err)
	}
	if !report.Triggered {
		t.Fatal("projected usage 910MB should trigger eviction")
	}
	if report.AfterBytes+report.CandidateBytes > q.TargetBytes() {
		t.Errorf("projected %d exceeds target %d", report.AfterBytes+report.CandidateBytes, q.TargetBytes())
	}
}

func TestBeforeUpload_OldestFirst(t *testing.T) {
	store := NewMemoryStore()
	// Insert out of creation order to make sure ordering is by time, not key.
	store.Seed("c.jpg", 650*mb, epoch.Add(3*time.Hour))
	store.Seed("a.jpg", 150*mb, epoch.Add(2*time.Hour))
	store.Seed("b.jpg", 150*mb, epoch.Add(1*time.Hour))
	q, _ := newQuota(store)

	report, err := q.BeforeUpload(t.Context(), 0)
	if err != nil {
		t.Fatalf("BeforeUpload failed: %v", err)
	}

	remaining, _ := store.List(t.Context(), "")
	for _, ev := range report.Evicted {
		for _, kept := range remaining {
			if ev.CreatedAt.After(kept.CreatedAt) {
				t.Errorf("evicted %s (created %v) is newer than kept %s (created %v)",
					ev.Key, ev.CreatedAt, kept.Key, kept.CreatedAt)
			}
		}
	}
	if len(report.Evicted) != 2 || report.Evicted[0].Key != "b.jpg" || report.Evicted[1].Key != "a.jpg" {
		t.Errorf("unexpected eviction order: %+v", report.Evicted)
	}
}

func TestBeforeUpload_ProtectedPrefix(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("_templates/config.json", 600*mb, epoch)
	store.Seed("_templates/thumb_a.jpg", 350*mb, epoch.Add(time.Minute))
	store.Seed("photo.jpg", 200*mb, epoch.Add(time.Hour))
	q, _ := newQuota(store)

	report, err := q.BeforeUpload(t.Context(), 0)
	if err != nil {
		t.Fatalf("BeforeUpload failed: %v", err)
	}
	for _, ev := range report.Evicted {
		if ev.Key != "photo.jpg" {
			t.Errorf("protected object evicted: %s", ev.Key)
		}
	}
	if _, ok := store.Get("_templates/config.json"); !ok {
		t.Error("protected config removed")
	}
	if !report.OverBudget {
		t.Error("expected over-budget warning when only protected objects remain")
	}

	usage, _ := q.Usage(t.Context())
	if usage.ProtectedBytes != 950*mb {
		t.Errorf("ProtectedBytes = %d, want 950MB", usage.ProtectedBytes)
	}
}

func TestBeforeUpload_OversizedSingleObject(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("huge.jpg", 1000*mb, epoch)
	q, _ := newQuota(store)

	report, err := q.BeforeUpload(t.Context(), 0)
	if err != nil {
		t.Fatalf("BeforeUpload failed: %v", err)
	}
	if len(report.Evicted) != 1 || report.AfterBytes != 0 {
		t.Errorf("expected the oversized object to be evicted, got %+v", report)
	}
}

func TestBeforeUpload_DeleteFailureSkipped(t *testing.T) {
	store := NewMemoryStore()
	seedUniform(store, 19, 50*mb)
	store.FailDelete("photo_000.jpg")
	q, _ := newQuota(store)

	report, err := q.BeforeUpload(t.Context(), 0)
	if err != nil {
		t.Fatalf("BeforeUpload failed: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Key != "photo_000.jpg" {
		t.Errorf("expected one recorded failure, got %+v", report.Failed)
	}
	if report.AfterBytes > 720*mb {
		t.Errorf("AfterBytes %d exceeds watermark", report.AfterBytes)
	}
	if _, ok := store.Get("photo_000.jpg"); !ok {
		t.Error("failed object should remain")
	}
}

func TestCleanup_Force(t *testing.T) {
	store := NewMemoryStore()
	seedUniform(store, 16, 50*mb) // 800MB, above the 720MB watermark but below the limit
	q, _ := newQuota(store)

	report, err := q.Cleanup(t.Context(), false)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if report.Triggered {
		t.Error("unforced cleanup below the limit should be a no-op")
	}

	report, err = q.Cleanup(t.Context(), true)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if report.AfterBytes > 720*mb || len(report.Evicted) != 2 {
		t.Errorf("unexpected forced cleanup report: %+v", report)
	}
}

func TestNewQuotaManager_Defaults(t *testing.T) {
	q := NewQuotaManager(NewMemoryStore(), QuotaConfig{}, nil, nil)
	cfg := q.Config()
	if cfg.HardLimitBytes != DefaultHardLimitBytes || cfg.TargetFraction != DefaultTargetFraction {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if q.TargetBytes() != 720*mb {
		t.Errorf("TargetBytes = %d, want 720MB", q.TargetBytes())
	}
}

func TestObjects_EvictionOrder(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("new.jpg", mb, epoch.Add(2*time.Hour))
	store.Seed("_templates/frame.png", mb, epoch)
	store.Seed("old.jpg", mb, epoch.Add(time.Hour))
	q, _ := newQuota(store)

	objects, err := q.Objects(t.Context())
	if err != nil {
		t.Fatalf("Objects failed: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 evictable objects, got %d", len(objects))
	}
	if objects[0].Key != "old.jpg" || objects[1].Key != "new.jpg" {
		t.Errorf("unexpected order: %s, %s", objects[0].Key, objects[1].Key)
	}
}
