// Package cmd provides CLI commands for the darkroom binary.
package cmd

import "github.com/urfave/cli/v2"

// DefaultConfigPath is read when --config is not given and the file exists.
const DefaultConfigPath = "darkroom.yaml"

// Shared flags.
var (
	// ConfigFlag points at a darkroom.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to darkroom.yaml (default: ./darkroom.yaml if present)",
		EnvVars: []string{"DARKROOM_CONFIG"},
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can give an explicit error
// instead of a generic "flag not defined".
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}
