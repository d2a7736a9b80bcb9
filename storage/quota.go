package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/types"
)

// Quota defaults.
const (
	DefaultHardLimitBytes int64 = 900 * 1024 * 1024
	DefaultTargetFraction       = 0.8
)

// QuotaConfig configures a QuotaManager.
type QuotaConfig struct {
	// HardLimitBytes triggers eviction when reached.
	HardLimitBytes int64
	// TargetFraction of the hard limit is the eviction watermark.
	TargetFraction float64
	// ProtectedPrefix keys are never evicted.
	ProtectedPrefix string
}

// Usage is a store-wide size snapshot.
type Usage struct {
	TotalBytes     int64 `json:"total_bytes"`
	ObjectCount    int   `json:"object_count"`
	ProtectedBytes int64 `json:"protected_bytes"`
	HardLimitBytes int64 `json:"hard_limit_bytes"`
}

// EvictionFailure is an object that could not be deleted.
type EvictionFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// EvictionReport describes one eviction pass.
type EvictionReport struct {
	// Triggered is false when usage was below the hard limit.
	Triggered      bool                  `json:"triggered"`
	CandidateBytes int64                 `json:"candidate_bytes"`
	BeforeBytes    int64                 `json:"before_bytes"`
	AfterBytes     int64                 `json:"after_bytes"`
	TargetBytes    int64                 `json:"target_bytes"`
	Evicted        []types.StorageObject `json:"evicted,omitempty"`
	FreedBytes     int64                 `json:"freed_bytes"`
	Failed         []EvictionFailure     `json:"failed,omitempty"`
	// OverBudget is true when usage stays above the hard limit after the pass.
	OverBudget bool `json:"over_budget"`
}

// QuotaManager keeps an ObjectStore under a size limit.
type QuotaManager struct {
	store     ObjectStore
	cfg       QuotaConfig
	logger    *log.Logger
	collector *metrics.Collector
}

// NewQuotaManager creates a QuotaManager with defaults applied.
func NewQuotaManager(store ObjectStore, cfg QuotaConfig, logger *log.Logger, collector *metrics.Collector) *QuotaManager {
	if cfg.HardLimitBytes <= 0 {
		cfg.HardLimitBytes = DefaultHardLimitBytes
	}
	if cfg.TargetFraction <= 0 || cfg.TargetFraction > 1 {
		cfg.TargetFraction = DefaultTargetFraction
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &QuotaManager{store: store, cfg: cfg, logger: logger, collector: collector}
}

// Config returns the effective configuration.
func (q *QuotaManager) Config() QuotaConfig { return q.cfg }

// TargetBytes is the eviction watermark.
func (q *QuotaManager) TargetBytes() int64 {
	return int64(float64(q.cfg.HardLimitBytes) * q.cfg.TargetFraction)
}

// Usage lists the store and sums object sizes.
func (q *QuotaManager) Usage(ctx context.Context) (Usage, error) {
	objects, err := q.store.List(ctx, "")
	if err != nil {
		return Usage{}, err
	}
	u := Usage{ObjectCount: len(objects), HardLimitBytes: q.cfg.HardLimitBytes}
	for _, obj := range objects {
		u.TotalBytes += obj.SizeBytes
		if q.isProtected(obj.Key) {
			u.ProtectedBytes += obj.SizeBytes
		}
	}
	return u, nil
}

// Objects lists evictable objects in eviction order.
func (q *QuotaManager) Objects(ctx context.Context) ([]types.StorageObject, error) {
	objects, err := q.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return q.evictionOrder(objects), nil
}

// BeforeUpload makes room for an object of candidateSize bytes.
//
// Projected usage is current usage plus the candidate. Below the hard limit
// this is a no-op. Otherwise non-protected objects are deleted oldest first,
// one call each, until projected usage is at or below the watermark or no
// candidates remain. Failed deletes are recorded and skipped. Remaining over
// the limit is logged and never blocks the upload.
func (q *QuotaManager) BeforeUpload(ctx context.Context, candidateSize int64) (EvictionReport, error) {
	return q.evict(ctx, candidateSize, false)
}

// Cleanup runs an eviction pass down to the watermark. With force it runs
// even when usage is below the hard limit.
func (q *QuotaManager) Cleanup(ctx context.Context, force bool) (EvictionReport, error) {
	return q.evict(ctx, 0, force)
}

func (q *QuotaManager) evict(ctx context.Context, candidateSize int64, force bool) (EvictionReport, error) {
	objects, err := q.store.List(ctx, "")
	if err != nil {
		return EvictionReport{}, fmt.Errorf("quota: %w", err)
	}

	var used int64
	for _, obj := range objects {
		used += obj.SizeBytes
	}

	report := EvictionReport{
		CandidateBytes: candidateSize,
		BeforeBytes:    used,
		AfterBytes:     used,
		TargetBytes:    q.TargetBytes(),
	}
	projected := used + candidateSize
	if projected < q.cfg.HardLimitBytes && !force {
		q.logger.Debug("storage within quota", map[string]any{
			"used_bytes":  used,
			"limit_bytes": q.cfg.HardLimitBytes,
		})
		return report, nil
	}
	report.Triggered = true

	q.logger.Warn("storage over quota, evicting oldest objects", map[string]any{
		"used_bytes":      used,
		"candidate_bytes": candidateSize,
		"limit_bytes":     q.cfg.HardLimitBytes,
		"target_bytes":    report.TargetBytes,
	})

	for _, obj := range q.evictionOrder(objects) {
		if projected <= report.TargetBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := q.store.Delete(ctx, obj.Key); err != nil {
			report.Failed = append(report.Failed, EvictionFailure{Key: obj.Key, Error: err.Error()})
			q.logger.Warn("eviction failed, skipping object", map[string]any{
				"key":   obj.Key,
				"error": err.Error(),
			})
			continue
		}
		projected -= obj.SizeBytes
		report.AfterBytes -= obj.SizeBytes
		report.FreedBytes += obj.SizeBytes
		report.Evicted = append(report.Evicted, obj)
		q.collector.AddEviction(obj.SizeBytes)
	}

	if projected > q.cfg.HardLimitBytes {
		report.OverBudget = true
		q.logger.Warn("storage still over quota after eviction", map[string]any{
			"projected_bytes": projected,
			"limit_bytes":     q.cfg.HardLimitBytes,
			"failed":          len(report.Failed),
		})
	} else {
		q.logger.Info("eviction complete", map[string]any{
			"evicted":     len(report.Evicted),
			"freed_bytes": report.FreedBytes,
			"after_bytes": report.AfterBytes,
		})
	}
	return report, nil
}

// evictionOrder returns non-protected objects oldest first.
func (q *QuotaManager) evictionOrder(objects []types.StorageObject) []types.StorageObject {
	out := make([]types.StorageObject, 0, len(objects))
	for _, obj := range objects {
		if !q.isProtected(obj.Key) {
			out = append(out, obj)
		}
	}
	sortOldestFirst(out)
	return out
}

func (q *QuotaManager) isProtected(key string) bool {
	return q.cfg.ProtectedPrefix != "" && strings.HasPrefix(key, q.cfg.ProtectedPrefix)
}

// sortOldestFirst orders by creation time, then key for determinism.
func sortOldestFirst(objects []types.StorageObject) {
	slices.SortStableFunc(objects, func(a, b types.StorageObject) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
}
