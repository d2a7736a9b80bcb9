// Package batch drives the generation controller over an ordered list of
// work items.
//
// Items are processed strictly one after another. A failure (or panic) in
// one item is recorded on that item and never stops the run; the returned
// BatchRun is the permanent per-item ledger.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/darkroom/generation"
	"github.com/justapithecus/darkroom/imaging"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/storage"
	"github.com/justapithecus/darkroom/types"
)

// Item is one unit of work.
type Item struct {
	// SourceRef identifies the input, usually a file path.
	SourceRef string
	// Load returns the subject image. It runs inside the item's isolation,
	// so a load failure only fails this item.
	Load func(ctx context.Context) (types.Image, error)
}

// FileItem loads the subject from path.
func FileItem(path string) Item {
	return Item{
		SourceRef: path,
		Load: func(context.Context) (types.Image, error) {
			return imaging.Load(path)
		},
	}
}

// ImageItem wraps an in-memory subject.
func ImageItem(ref string, img types.Image) Item {
	return Item{
		SourceRef: ref,
		Load: func(context.Context) (types.Image, error) {
			return img, nil
		},
	}
}

// Config is the per-run pipeline configuration.
type Config struct {
	Mode      Mode
	Composite CompositeOptions
	Template  TemplateOptions
	Output    types.OutputConstraints
	QCEnabled bool
	// AttemptBudget bounds generation attempts per item (default 2).
	AttemptBudget int
	// KeyPrefix is prepended to uploaded artifact keys.
	KeyPrefix string
}

// ProgressFunc is called after every item reaches a terminal status.
type ProgressFunc func(types.Progress)

// Options configures an Orchestrator.
type Options struct {
	// Uploader persists accepted artifacts. Nil disables uploads.
	Uploader  *storage.Uploader
	Logger    *log.Logger
	Collector *metrics.Collector
	// RunID overrides the generated run ID.
	RunID string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Orchestrator runs batches. It keeps no state between runs.
type Orchestrator struct {
	controller *generation.Controller
	uploader   *storage.Uploader
	logger     *log.Logger
	collector  *metrics.Collector
	runID      string
	now        func() time.Time
}

// New creates an Orchestrator around controller.
func New(controller *generation.Controller, opts Options) *Orchestrator {
	o := &Orchestrator{
		controller: controller,
		uploader:   opts.Uploader,
		logger:     opts.Logger,
		collector:  opts.Collector,
		runID:      opts.RunID,
		now:        opts.Now,
	}
	if o.logger == nil {
		o.logger = log.Nop()
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Run processes items in order and returns the completed run.
//
// Every item ends in exactly one terminal status. When ctx is cancelled the
// item in flight and every later item become Cancelled. onProgress may be nil.
func (o *Orchestrator) Run(ctx context.Context, items []Item, cfg Config, onProgress ProgressFunc) *types.BatchRun {
	run := &types.BatchRun{
		ID:         o.runID,
		Mode:       string(cfg.Mode),
		Items:      make([]types.BatchItem, len(items)),
		StartedAt:  o.now(),
		TotalCount: len(items),
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	for i, it := range items {
		run.Items[i] = types.BatchItem{
			ID:        uuid.NewString(),
			SourceRef: it.SourceRef,
			Status:    types.ItemPending,
		}
	}

	budget := cfg.AttemptBudget
	if budget <= 0 {
		budget = generation.DefaultBudget
	}

	o.logger.Info("batch started", map[string]any{
		"run_id":     run.ID,
		"mode":       cfg.Mode,
		"items":      len(items),
		"qc_enabled": cfg.QCEnabled,
		"budget":     budget,
	})

	build, buildErr := NewRequestBuilder(cfg)

	for i := range items {
		item := &run.Items[i]

		switch {
		case ctx.Err() != nil:
			item.Status = types.ItemCancelled
			item.Message = "run cancelled before item started"
		case buildErr != nil:
			item.Status = types.ItemError
			item.Message = buildErr.Error()
		default:
			item.Status = types.ItemRunning
			o.logger.Info("item started", map[string]any{
				"index":  i + 1,
				"total":  len(items),
				"source": item.SourceRef,
			})
			o.processItem(ctx, run.ID, items[i], item, build, cfg, budget)
		}

		o.countItem(item)
		run.CompletedCount++
		progress := types.Progress{Current: run.CompletedCount, Total: run.TotalCount}
		o.logger.Publish(types.Event{Kind: types.EventKindProgress, Progress: &progress})
		if onProgress != nil {
			onProgress(progress)
		}
	}

	run.CompletedAt = o.now()
	summary := run.Summary()
	o.logger.Info("batch completed", map[string]any{
		"run_id":    run.ID,
		"success":   summary.Success,
		"warning":   summary.Warning,
		"error":     summary.Error,
		"cancelled": summary.Cancelled,
	})
	o.logger.Publish(types.Event{Kind: types.EventKindRunComplete, Summary: &summary})
	return run
}

// processItem runs one item to a terminal status. Panics are recovered and
// recorded as Error.
func (o *Orchestrator) processItem(ctx context.Context, runID string, in Item, item *types.BatchItem, build RequestBuilder, cfg Config, budget int) {
	defer func() {
		if r := recover(); r != nil {
			item.Status = types.ItemError
			item.Message = fmt.Sprintf("panic: %v", r)
			item.FinalResult = nil
			o.logger.Error("item panicked", map[string]any{
				"source": item.SourceRef,
				"panic":  fmt.Sprint(r),
			})
		}
	}()

	if in.Load == nil {
		o.fail(item, errors.New("item has no loader"))
		return
	}
	subject, err := in.Load(ctx)
	if err != nil {
		o.fail(item, fmt.Errorf("load subject: %w", err))
		return
	}

	outcome, err := o.controller.Run(ctx, build(subject), budget, cfg.QCEnabled)
	if outcome != nil {
		item.Attempts = keepLastResult(outcome.Attempts)
		item.Calls = outcome.Calls
	}
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			item.Status = types.ItemCancelled
			item.Message = "run cancelled"
			return
		}
		o.fail(item, err)
		return
	}

	item.FinalResult = outcome.Result
	if outcome.Accepted {
		item.Status = types.ItemSuccess
		item.Message = "OK"
	} else {
		item.Status = types.ItemWarning
		item.Message = "QC issues: " + outcome.LastIssues
	}
	o.logger.Info("item completed", map[string]any{
		"source":   item.SourceRef,
		"status":   item.Status,
		"attempts": len(outcome.Attempts),
	})

	o.upload(ctx, runID, cfg, item)
}

// upload persists the accepted artifact. Failures are logged and never
// change the item's status.
func (o *Orchestrator) upload(ctx context.Context, runID string, cfg Config, item *types.BatchItem) {
	if o.uploader == nil || item.FinalResult == nil {
		return
	}
	key := ArtifactKey(cfg.KeyPrefix, runID, item)
	res, err := o.uploader.Upload(ctx, key, item.FinalResult.Image)
	if err != nil {
		o.logger.Warn("artifact upload failed", map[string]any{
			"source": item.SourceRef,
			"key":    key,
			"error":  err.Error(),
		})
		return
	}
	item.ArtifactKey = res.Key
	item.ArtifactURL = res.URL
}

func (o *Orchestrator) fail(item *types.BatchItem, err error) {
	item.Status = types.ItemError
	item.Message = err.Error()
	o.logger.Error("item failed", map[string]any{
		"source": item.SourceRef,
		"error":  err.Error(),
	})
}

func (o *Orchestrator) countItem(item *types.BatchItem) {
	switch item.Status {
	case types.ItemSuccess:
		o.collector.IncItemSucceeded()
	case types.ItemWarning:
		o.collector.IncItemWarned()
	case types.ItemError:
		o.collector.IncItemFailed()
	case types.ItemCancelled:
		o.collector.IncItemCancelled()
	}
}

// keepLastResult drops result payloads from superseded attempts; only the
// last attempt keeps its image.
func keepLastResult(attempts []types.RetryAttempt) []types.RetryAttempt {
	out := make([]types.RetryAttempt, len(attempts))
	copy(out, attempts)
	for i := 0; i < len(out)-1; i++ {
		out[i].Result = nil
	}
	return out
}

// ArtifactKey derives the object key for an item's result:
// <prefix><run>/<source base name>_<item id prefix><ext>.
func ArtifactKey(prefix, runID string, item *types.BatchItem) string {
	base := strings.TrimSuffix(filepath.Base(item.SourceRef), filepath.Ext(item.SourceRef))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "item"
	}
	ext := ".png"
	if item.FinalResult != nil {
		ext = imaging.Extension(item.FinalResult.Image)
	}
	id := item.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s%s/%s_%s%s", prefix, runID, base, id, ext)
}
