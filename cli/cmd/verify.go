package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/darkroom/cli/render"
	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/imaging"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/types"
)

// VerifyResponse is the response for the verify command.
type VerifyResponse struct {
	Reference string          `json:"reference"`
	Candidate string          `json:"candidate"`
	Verdict   types.QCVerdict `json:"verdict"`
	CostUSD   float64         `json:"cost_usd"`
}

// VerifyCommand returns the verify command.
func VerifyCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		&cli.StringFlag{
			Name:     "reference",
			Usage:    "Original subject image",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "candidate",
			Usage:    "Generated image to check",
			Required: true,
		},
	)
	return &cli.Command{
		Name:   "verify",
		Usage:  "Run the quality gate once on a reference/candidate pair",
		Flags:  flags,
		Action: verifyAction,
	}
}

func verifyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for verify command", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitSetupFailed)
	}

	reference, err := imaging.Load(c.String("reference"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("reference: %v", err), exitSetupFailed)
	}
	candidate, err := imaging.Load(c.String("candidate"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("candidate: %v", err), exitSetupFailed)
	}

	logger := log.NewLogger("")
	collector := metrics.NewCollector("", "verify", "")
	costs := cost.NewLedger()
	client, err := newGeminiClient(cfg, newTransport(cfg, logger, collector), costs, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailed)
	}

	verdict := newGate(cfg, client, logger).Verify(c.Context, reference, candidate)
	return r.Render(VerifyResponse{
		Reference: c.String("reference"),
		Candidate: c.String("candidate"),
		Verdict:   verdict,
		CostUSD:   costs.Total(cfg.Pricing.Pricing()),
	})
}
