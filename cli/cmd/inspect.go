package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/darkroom/archive"
	"github.com/justapithecus/darkroom/cli/render"
	"github.com/justapithecus/darkroom/cli/tui"
)

// InspectCommand returns the inspect command with subcommands.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect archived batch runs",
		Subcommands: []*cli.Command{
			inspectRunCommand(),
		},
	}
}

func inspectRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Show the per-item ledger of a run (default: latest)",
		ArgsUsage: "[run-id]",
		Flags:     ReadOnlyFlags(),
		Action:    inspectRunAction,
	}
}

func inspectRunAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitSetupFailed)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ds, err := openArchive(c.Context, cfg.Archive)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}

	ledger, err := archive.QueryLatestRun(c.Context, ds, c.Args().First())
	if errors.Is(err, archive.ErrNoRunFound) {
		return cli.Exit(err.Error(), 1)
	}
	if err != nil {
		return fmt.Errorf("query archive: %w", err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectRun, ledger)
	}
	if r.Format() != render.FormatTable {
		return r.Render(ledger)
	}

	// Table output: run header, then one row per item.
	if err := r.Render(runHeader(ledger.Run)); err != nil {
		return err
	}
	fmt.Println()
	return r.Render(ledger.Items)
}

// RunHeader is the table-format summary of an archived run.
type RunHeader struct {
	RunID       string  `json:"run_id"`
	Source      string  `json:"source"`
	Mode        string  `json:"mode"`
	StartedAt   string  `json:"started_at"`
	Duration    string  `json:"duration"`
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Warning     int     `json:"warning"`
	Error       int     `json:"error"`
	Cancelled   int     `json:"cancelled"`
	Generations int     `json:"generations"`
	QCCalls     int     `json:"qc_calls"`
	CostUSD     float64 `json:"cost_usd"`
}

func runHeader(run archive.RunRecord) RunHeader {
	return RunHeader{
		RunID:       run.RunID,
		Source:      run.Source,
		Mode:        run.Mode,
		StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
		Duration:    run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
		Total:       run.Summary.Total,
		Success:     run.Summary.Success,
		Warning:     run.Summary.Warning,
		Error:       run.Summary.Error,
		Cancelled:   run.Summary.Cancelled,
		Generations: run.Summary.Calls.Generation,
		QCCalls:     run.Summary.Calls.Verification,
		CostUSD:     run.Cost.TotalUSD,
	}
}
