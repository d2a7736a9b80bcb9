package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/darkroom/cli/render"
	"github.com/justapithecus/darkroom/eventstream"
	"github.com/justapithecus/darkroom/iox"
	"github.com/justapithecus/darkroom/types"
)

// EventsCommand returns the events command.
func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "Decode a framed event stream written by run --events",
		ArgsUsage: "<file>",
		Flags: append(ReadOnlyFlags(), &cli.StringFlag{
			Name:  "level",
			Usage: "Only show log events at this level (debug, info, warn, error)",
		}),
		Action: eventsAction,
	}
}

func eventsAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("event file required", 1)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for events command", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardClose(f)

	events, skipped, err := eventstream.ReadAll(f)
	if err != nil {
		// A truncated tail still leaves the decoded prefix worth showing.
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "Warning: skipped %d undecodable frames\n", skipped)
	}

	return r.Render(filterLevel(events, types.LogLevel(c.String("level"))))
}

func filterLevel(events []types.Event, level types.LogLevel) []types.Event {
	if level == "" {
		return events
	}
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if ev.Kind == types.EventKindLog && ev.Level == level {
			out = append(out, ev)
		}
	}
	return out
}
