// Package main provides the darkroom CLI entrypoint.
//
// Usage:
//
//	darkroom <command> [subcommand] [options]
//
// Exit codes for `run`:
//   - 0: every item produced a result
//   - 1: at least one item errored
//   - 2: configuration or setup failure
//   - 3: cancelled by signal or TUI quit
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/darkroom/cli/cmd"
	"github.com/justapithecus/darkroom/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	// Credentials may come from a local .env; real environment wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: .env: %v\n", err)
	}

	app := &cli.App{
		Name:           "darkroom",
		Usage:          "Batch image generation with quality-gated retries",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.VerifyCommand(),
			cmd.InspectCommand(),
			cmd.StorageCommand(),
			cmd.EventsCommand(),
			cmd.VersionCommand("", commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
