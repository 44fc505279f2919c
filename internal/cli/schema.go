package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"tidb-odata/internal/introspection"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/naming"
	"tidb-odata/internal/schemafilter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewSchemaCommand groups the schema descriptor commands.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Validate, normalize and derive schema descriptors",
	}
	cmd.AddCommand(newSchemaValidateCommand(rootOpts))
	cmd.AddCommand(newSchemaDumpCommand(rootOpts))
	cmd.AddCommand(newSchemaIntrospectCommand(rootOpts))
	return cmd
}

type schemaSummary struct {
	Namespace    string   `json:"namespace"`
	EntitySets   []string `json:"entitySets"`
	ComplexTypes int      `json:"complexTypes"`
}

func newSchemaValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate <file>",
		Short:         "Check that a descriptor builds into a consistent schema",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := metamodel.LoadFile(args[0])
			if err != nil {
				return err
			}
			summary := schemaSummary{
				Namespace:    schema.Namespace,
				EntitySets:   schema.EntitySetNames(),
				ComplexTypes: len(schema.ComplexTypes),
			}
			return writeSummary(cmd.OutOrStdout(), rootOpts.Format, summary)
		},
	}
}

func writeSummary(w io.Writer, format string, summary schemaSummary) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(summary)
	}
	_, err := fmt.Fprintf(w, "schema %s is valid: %d entity set(s), %d complex type(s)\n",
		summary.Namespace, len(summary.EntitySets), summary.ComplexTypes)
	return err
}

func newSchemaDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dump <file>",
		Short:         "Print a descriptor in normalized form",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := metamodel.LoadFile(args[0])
			if err != nil {
				return err
			}
			return writeSchema(cmd.OutOrStdout(), rootOpts.Format, schema)
		},
	}
}

func writeSchema(w io.Writer, format string, schema *metamodel.Schema) error {
	if format == "json" {
		// Round-trip through YAML so JSON keys match the descriptor format.
		data, err := yaml.Marshal(schema)
		if err != nil {
			return err
		}
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(schema); err != nil {
		return err
	}
	return enc.Close()
}

// IntrospectOptions holds flags for schema introspect.
type IntrospectOptions struct {
	*RootOptions
	DSN        string
	Database   string
	Namespace  string
	Filters    schemafilter.Config
	UUIDColumn map[string]string
}

func newSchemaIntrospectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IntrospectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "introspect",
		Short: "Derive a descriptor from a TiDB or MySQL database",
		Long: `Read information_schema and print the descriptor the server would derive
with schema.introspect enabled. The output is a starting point for a
hand-maintained schema file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntrospect(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "MySQL-style data source name (required)")
	cmd.Flags().StringVar(&opts.Database, "database", "", "database to introspect (required)")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "TiDB", "namespace of the derived schema")
	cmd.Flags().StringSliceVar(&opts.Filters.AllowTables, "allow-tables", []string{"*"}, "table glob patterns to include")
	cmd.Flags().StringSliceVar(&opts.Filters.DenyTables, "deny-tables", nil, "table glob patterns to exclude")
	cmd.Flags().BoolVar(&opts.Filters.ScanViews, "scan-views", false, "include views")
	cmd.Flags().StringToStringVar(&opts.UUIDColumn, "uuid-columns", nil, "table=column-glob pairs mapped to Edm.Guid")

	return cmd
}

func runIntrospect(cmd *cobra.Command, opts *IntrospectOptions) error {
	logger := opts.logger(cmd.ErrOrStderr())
	if opts.DSN == "" || opts.Database == "" {
		return fmt.Errorf("--dsn and --database are required")
	}

	db, err := sql.Open("mysql", opts.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	ctx := cmd.Context()
	namer := naming.New(naming.DefaultConfig(), logger.Logger)
	dbSchema, err := introspection.IntrospectDatabaseWithNamer(ctx, db, opts.Database, namer)
	if err != nil {
		return err
	}
	schemafilter.Apply(ctx, dbSchema, opts.Filters, namer)

	uuidColumns := make(map[string][]string, len(opts.UUIDColumn))
	for table, column := range opts.UUIDColumn {
		uuidColumns[table] = append(uuidColumns[table], column)
	}
	if err := introspection.ApplyUUIDTypeOverrides(dbSchema, uuidColumns); err != nil {
		return err
	}

	schema, err := metamodel.FromIntrospection(dbSchema, opts.Namespace, namer, logger.Logger)
	if err != nil {
		return err
	}
	return writeSchema(cmd.OutOrStdout(), opts.Format, schema)
}
