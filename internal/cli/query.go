package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tidb-odata/internal/config"
	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/response"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	EngineOptions
	Driver      string
	DSN         string
	ServiceRoot string
	Timeout     time.Duration
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <resource-path> [query-options]",
		Short: "Execute a request and print the OData response",
		Long: `Execute an OData request against a database and print the response body
the server would send. $count requests print the number and $value requests
write the raw media bytes.

Example:
  odatactl query -s schema.yaml --driver sqlite3 --dsn data.db /Organizations '$top=2'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args)
		},
	}

	opts.bind(cmd.Flags())
	cmd.Flags().StringVar(&opts.Driver, "driver", config.DriverMySQL, "database driver (mysql|sqlite3)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "data source name (required)")
	cmd.Flags().StringVar(&opts.ServiceRoot, "service-root", "http://localhost:8080/odata/", "service root used for ids and context URLs")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "query timeout")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions, args []string) error {
	logger := opts.logger(cmd.ErrOrStderr())

	if opts.DSN == "" {
		return fmt.Errorf("--dsn is required")
	}
	if opts.Driver != config.DriverMySQL && opts.Driver != config.DriverSQLite {
		return fmt.Errorf("unsupported driver %q", opts.Driver)
	}
	engine, err := opts.engine()
	if err != nil {
		return err
	}
	req, err := parseArgs(args)
	if err != nil {
		return err
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	ctx := cmd.Context()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := engine.Execute(ctx, dbexec.NewStandardExecutor(db), req)
	if err != nil {
		return err
	}
	logger.Debug("request executed", "duration", time.Since(start), "kind", result.Kind.String())

	out := cmd.OutOrStdout()
	switch result.Kind {
	case planner.ResultCount:
		_, err = fmt.Fprintln(out, *result.Count)
		return err
	case planner.ResultValue:
		_, err = out.Write(result.Media.Data)
		return err
	}

	payload, err := response.NewWriter(opts.ServiceRoot).Payload(req, result)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	if opts.Format == "text" {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(payload)
}
