package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/darkroom/adapter"
	"github.com/justapithecus/darkroom/archive"
	"github.com/justapithecus/darkroom/batch"
	"github.com/justapithecus/darkroom/cli/config"
	"github.com/justapithecus/darkroom/cli/tui"
	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/eventstream"
	"github.com/justapithecus/darkroom/gemini"
	"github.com/justapithecus/darkroom/generation"
	"github.com/justapithecus/darkroom/imaging"
	"github.com/justapithecus/darkroom/iox"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/storage"
	"github.com/justapithecus/darkroom/types"
)

// Exit codes for the run command.
const (
	exitSuccess     = 0
	exitItemErrors  = 1
	exitSetupFailed = 2
	exitCancelled   = 3
)

// imageExtensions are the files picked up when a directory is given.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Generate, verify and persist images for a batch of subjects",
		ArgsUsage: "<image|dir>...",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Pipeline mode: composite, template",
			},
			&cli.StringFlag{
				Name:  "background",
				Usage: "Background image (composite mode)",
			},
			&cli.StringFlag{
				Name:  "prompt",
				Usage: "Template prompt (template mode)",
			},
			&cli.StringSliceFlag{
				Name:  "ref",
				Usage: "Reference image (template mode, repeatable)",
			},
			&cli.BoolFlag{
				Name:  "keep-face",
				Usage: "Preserve the subject's face (composite mode)",
			},
			&cli.BoolFlag{
				Name:  "keep-pose",
				Usage: "Preserve the subject's pose (composite mode)",
			},
			&cli.BoolFlag{
				Name:  "match-light",
				Usage: "Match the background lighting (composite mode)",
			},
			&cli.StringFlag{
				Name:  "extra-prompt",
				Usage: "Additional instruction appended to the prompt",
			},
			&cli.BoolFlag{
				Name:  "qc",
				Usage: "Run the quality gate on each result",
			},
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "Generation attempts per item (including corrective retries)",
			},
			&cli.StringFlag{
				Name:  "aspect-ratio",
				Usage: "Output aspect ratio, e.g. 1:1, 3:4",
			},
			&cli.StringFlag{
				Name:  "image-size",
				Usage: "Output resolution tier, e.g. 1K, 2K",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (default: generated)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source identifier for archive partitioning",
			},
			&cli.StringFlag{
				Name:  "events",
				Usage: "Write the framed event stream to this file",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Write final images to this directory",
			},
			TUIFlag,
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitSetupFailed)
	}
	applyRunFlags(c, cfg)

	paths, err := collectInputs(c.Args().Slice())
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}
	if len(paths) == 0 {
		return cli.Exit("no input images given", exitSetupFailed)
	}

	mode, err := batch.ParseMode(cfg.Mode)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	useTUI := c.Bool("tui")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var logger *log.Logger
	if useTUI {
		logger = log.NewLoggerWithWriter(runID, io.Discard, zapcore.InfoLevel)
	} else {
		logger = log.NewLogger(runID)
	}
	defer iox.DiscardErr(logger.Sync)

	var sinks eventstream.Fanout
	var events *eventstream.Writer
	if path := cfg.Events; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("events: %v", err), exitSetupFailed)
		}
		defer iox.DiscardClose(f)
		events = eventstream.NewWriter(f)
		sinks = append(sinks, events)
	}

	var program *tea.Program
	if useTUI {
		program = tea.NewProgram(tui.NewProgressModel(len(paths), cancel), tea.WithAltScreen())
		sinks = append(sinks, tui.ProgramSink{Program: program})
	}
	if len(sinks) > 0 {
		logger = logger.WithSink(sinks)
	}

	p, err := buildPipeline(ctx, cfg, runID, string(mode), logger)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}
	defer p.close()

	batchCfg, err := batchConfig(cfg, mode)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}

	items := make([]batch.Item, len(paths))
	for i, path := range paths {
		items[i] = batch.FileItem(path)
	}

	var run *types.BatchRun
	if program != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			run = p.orchestrator.Run(ctx, items, batchCfg, nil)
		}()
		if _, err := program.Run(); err != nil {
			cancel()
			<-done
			return fmt.Errorf("tui failed: %w", err)
		}
		<-done
	} else {
		run = p.orchestrator.Run(ctx, items, batchCfg, nil)
	}

	p.finish(context.WithoutCancel(ctx), run, cfg.Source)
	if events != nil {
		if err := events.Err(); err != nil {
			logger.Warn("event stream write failed", map[string]any{"error": err.Error()})
		}
	}

	if !c.Bool("quiet") {
		printRunResult(os.Stdout, run, p.costs.Snapshot(p.pricing))
	}
	return cli.Exit("", runExitCode(ctx, run))
}

// applyRunFlags overlays explicitly set flags onto the loaded config.
func applyRunFlags(c *cli.Context, cfg *config.Config) {
	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setBool := func(name string, dst **bool) {
		if c.IsSet(name) {
			v := c.Bool(name)
			*dst = &v
		}
	}

	setString("mode", &cfg.Mode)
	setString("background", &cfg.Composite.Background)
	setString("prompt", &cfg.Template.Prompt)
	setString("aspect-ratio", &cfg.Output.AspectRatio)
	setString("image-size", &cfg.Output.ImageSize)
	setString("source", &cfg.Source)
	setString("events", &cfg.Events)
	setString("out", &cfg.OutputDir)
	setBool("keep-face", &cfg.Composite.KeepFace)
	setBool("keep-pose", &cfg.Composite.KeepPose)
	setBool("match-light", &cfg.Composite.MatchLight)
	setBool("qc", &cfg.QC.Enabled)
	if c.IsSet("ref") {
		cfg.Template.References = c.StringSlice("ref")
	}
	if c.IsSet("attempts") {
		cfg.Attempts = c.Int("attempts")
	}
	if c.IsSet("extra-prompt") {
		cfg.Composite.ExtraPrompt = c.String("extra-prompt")
		cfg.Template.ExtraPrompt = c.String("extra-prompt")
	}
}

// collectInputs expands directories into their image files.
// Explicit file arguments are kept in order; directory entries are sorted.
func collectInputs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}
	return paths, nil
}

// batchConfig translates config into the orchestrator's run configuration,
// loading background and reference images up front.
func batchConfig(cfg *config.Config, mode batch.Mode) (batch.Config, error) {
	out := batch.Config{
		Mode: mode,
		Output: types.OutputConstraints{
			AspectRatio: cfg.Output.AspectRatio,
			ImageSize:   cfg.Output.ImageSize,
		},
		QCEnabled:     config.BoolOr(cfg.QC.Enabled, true),
		AttemptBudget: cfg.Attempts,
		KeyPrefix:     cfg.Storage.KeyPrefix,
	}

	switch mode {
	case batch.ModeComposite:
		if cfg.Composite.Background == "" {
			return out, errors.New("composite mode requires a background image")
		}
		bg, err := imaging.Load(cfg.Composite.Background)
		if err != nil {
			return out, fmt.Errorf("background: %w", err)
		}
		out.Composite = batch.CompositeOptions{
			Background:  bg,
			KeepFace:    config.BoolOr(cfg.Composite.KeepFace, true),
			KeepPose:    config.BoolOr(cfg.Composite.KeepPose, true),
			MatchLight:  config.BoolOr(cfg.Composite.MatchLight, true),
			ExtraPrompt: cfg.Composite.ExtraPrompt,
		}
	case batch.ModeTemplate:
		if cfg.Template.Prompt == "" {
			return out, errors.New("template mode requires a prompt")
		}
		refs := make([]types.Image, 0, len(cfg.Template.References))
		for _, path := range cfg.Template.References {
			img, err := imaging.Load(path)
			if err != nil {
				return out, fmt.Errorf("reference %s: %w", path, err)
			}
			refs = append(refs, img)
		}
		out.Template = batch.TemplateOptions{
			Prompt:      cfg.Template.Prompt,
			References:  refs,
			ExtraPrompt: cfg.Template.ExtraPrompt,
		}
	}
	return out, nil
}

// pipeline holds everything one run wires together.
type pipeline struct {
	orchestrator *batch.Orchestrator
	costs        *cost.Ledger
	pricing      cost.Pricing
	collector    *metrics.Collector
	archive      *archive.Archive
	archivePath  string
	outputDir    string
	notifier     adapter.Adapter
	logger       *log.Logger
}

func buildPipeline(ctx context.Context, cfg *config.Config, runID, mode string, logger *log.Logger) (*pipeline, error) {
	collector := metrics.NewCollector(runID, mode, cfg.Storage.Backend)
	costs := cost.NewLedger()
	tr := newTransport(cfg, logger, collector)

	client, err := newGeminiClient(cfg, tr, costs, logger, collector)
	if err != nil {
		return nil, err
	}
	model := cfg.Gemini.ImageModel
	if model == "" {
		model = gemini.DefaultImageModel
	}
	controller := generation.NewController(
		gemini.NewGenerator(client, model),
		newGate(cfg, client, logger),
		generation.Options{
			Logger:    logger.Named("generation"),
			Collector: collector,
		},
	)

	store, err := newStore(ctx, cfg.Storage, tr)
	if err != nil {
		return nil, err
	}
	var uploader *storage.Uploader
	if store != nil {
		quota := newQuota(store, cfg.Storage, logger, collector)
		uploader = storage.NewUploader(store, quota, logger.Named("uploader"), collector)
	}

	p := &pipeline{
		orchestrator: batch.New(controller, batch.Options{
			Uploader:  uploader,
			Logger:    logger.Named("batch"),
			Collector: collector,
			RunID:     runID,
		}),
		costs:     costs,
		pricing:   cfg.Pricing.Pricing(),
		collector: collector,
		outputDir: cfg.OutputDir,
		logger:    logger,
	}

	if cfg.Archive.Backend != "" {
		ds, err := openArchive(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		p.archive = archive.New(ds, cfg.Source)
		p.archivePath = cfg.Archive.Path
	}

	p.notifier, err = newAdapter(cfg.Adapter, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// finish writes local outputs, persists the run ledger and publishes the
// completion event. Failures are logged and never change the run's outcome.
func (p *pipeline) finish(ctx context.Context, run *types.BatchRun, source string) {
	p.writeOutputs(run)
	costs := p.costs.Snapshot(p.pricing)
	if p.archive != nil {
		if err := p.archive.WriteRun(ctx, run, costs, p.collector.Snapshot()); err != nil {
			p.logger.Error("archive write failed", map[string]any{"error": err.Error()})
		}
	}
	if p.notifier != nil {
		event := adapter.NewBatchCompletedEvent(run, source, costs.TotalUSD, p.archivePath)
		if err := p.notifier.Publish(ctx, event); err != nil {
			p.logger.Warn("completion notify failed", map[string]any{"error": err.Error()})
		}
	}
}

// writeOutputs saves every item's final image under the output directory
// and records the path on the item.
func (p *pipeline) writeOutputs(run *types.BatchRun) {
	if p.outputDir == "" {
		return
	}
	for i := range run.Items {
		item := &run.Items[i]
		if item.FinalResult == nil {
			continue
		}
		path, err := batch.WriteOutput(p.outputDir, run.ID, item)
		if err != nil {
			p.logger.Warn("output write failed", map[string]any{
				"source": item.SourceRef,
				"error":  err.Error(),
			})
			continue
		}
		item.OutputPath = path
	}
}

func (p *pipeline) close() {
	iox.DiscardClose(p.notifier)
}

// runExitCode maps a finished run to the process exit code.
func runExitCode(ctx context.Context, run *types.BatchRun) int {
	if ctx.Err() != nil {
		return exitCancelled
	}
	if run.Summary().Error > 0 {
		return exitItemErrors
	}
	return exitSuccess
}

func printRunResult(w io.Writer, run *types.BatchRun, costs cost.Snapshot) {
	summary := run.Summary()
	duration := run.CompletedAt.Sub(run.StartedAt)

	fmt.Fprintf(w, "\nrun_id=%s, mode=%s, items=%d, duration=%s\n",
		run.ID, run.Mode, summary.Total, duration.Round(time.Millisecond))

	fmt.Fprintf(w, "\n=== Run Result ===\n")
	fmt.Fprintf(w, "Success:      %d\n", summary.Success)
	fmt.Fprintf(w, "Warning:      %d\n", summary.Warning)
	fmt.Fprintf(w, "Error:        %d\n", summary.Error)
	fmt.Fprintf(w, "Cancelled:    %d\n", summary.Cancelled)

	fmt.Fprintf(w, "\n=== Items ===\n")
	for _, it := range run.Items {
		line := fmt.Sprintf("  %-9s %s", it.Status, it.SourceRef)
		switch {
		case it.ArtifactURL != "":
			line += " -> " + it.ArtifactURL
		case it.OutputPath != "":
			line += " -> " + it.OutputPath
		case it.Message != "":
			line += " (" + it.Message + ")"
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\n=== Cost ===\n")
	fmt.Fprintf(w, "Text Input:   %.0f\n", costs.TextInputUnits)
	fmt.Fprintf(w, "Text Output:  %.0f\n", costs.TextOutputUnits)
	fmt.Fprintf(w, "Images:       %.0f\n", costs.ImageUnits)
	fmt.Fprintf(w, "Total USD:    %.4f\n", costs.TotalUSD)
}
