// Package cli implements odatactl, the offline companion of the server: it
// compiles requests to SQL, runs them against a database and checks schema
// descriptors.
package cli

import (
	"fmt"
	"io"
	"slices"

	"tidb-odata/internal/logging"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the odatactl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "odatactl",
		Short: "Inspect and exercise the TiDB OData query compiler",
		Long: `odatactl compiles OData requests against a schema descriptor without
starting the server. It prints the SQL each request would run, executes
requests against a database and validates or derives schema descriptors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output on stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// logger writes diagnostics to w; debug output only with --verbose.
func (o *RootOptions) logger(w io.Writer) *logging.Logger {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	return logging.NewLogger(logging.Config{Level: level, Format: "text", Output: w})
}
