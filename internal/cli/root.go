// Package cli implements qcatctl, the operator command line: draining the
// notification queue, expiring stale locks, seeding mail preferences,
// migrating the schema and mirroring directory users.
package cli

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for qcatctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "qcatctl",
		Short: "Operate the QCAT review engine",
		Long: `qcatctl runs the batch side of the QCAT review engine: mailing the
change logs produced by the workflow, expiring stale editorial locks and
maintaining mail preferences. Configuration comes from the same environment
variables (and optional .env file) as the server.

Exit codes: 0 success, 1 failure, 2 invalid configuration, 3 store
unreachable, 4 mail transport unreachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitFailure,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewDispatchCommand(opts))
	cmd.AddCommand(NewSweepLocksCommand(opts))
	cmd.AddCommand(NewSetMailDefaultsCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCreateUserCommand(opts))

	return cmd
}

// printResult writes v as JSON, or text as a line, depending on --format.
func printResult(cmd *cobra.Command, opts *RootOptions, v any, text string) error {
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(out, text)
	return err
}
