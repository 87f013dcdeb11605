// Package cli implements Longtable's operator-facing command line:
// running ticks against a persisted world, inspecting a snapshot, and
// verifying a store's integrity. Grounded on the teacher's
// internal/cli/root.go (NewRootCommand, persistent --verbose/--format
// flags, subcommand registration) and output.go (dual JSON/text output,
// exit-code taxonomy), rewritten end to end against Longtable's
// program/store/tick types since the teacher's own command bodies
// (compileSpecs, engine.New) have no Longtable counterpart.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags every subcommand reads.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"
}

// ValidFormats lists the values --format accepts.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the longtable root command and registers every
// subcommand under it.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "longtable",
		Short: "Longtable - a deterministic rule-based simulation runtime",
		Long: `Longtable drives a persistent, content-addressed world through
rule-engine ticks and persists committed snapshots to SQLite.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewTickCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
