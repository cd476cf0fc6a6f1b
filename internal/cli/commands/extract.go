package commands

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/spf13/cobra"
)

// ExtractOptions holds options for the extract command.
type ExtractOptions struct {
	File string
	Save bool
}

// NewExtractCommand creates the extract command.
func NewExtractCommand() *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract [sql...]",
		Short: "Extract column lineage from a SELECT statement",
		Long: `Extract column-level lineage from SQL.

The SQL is taken from the arguments, from --file, or from standard input.
For every projected column the output names the source table or subquery,
any join or filter predicate the column takes part in, and whether the
column is wrapped in a function call.

JSON output (the default when stdout is not a terminal) is the canonical
lineage document: a JSON array with four-space indentation.`,
		Example: `  # Extract lineage from an inline query
  sqlineage extract "SELECT c.dob AS DOB FROM customer c"

  # Read the query from a file
  sqlineage extract -f queries/customers.sql

  # Pipe a query through stdin and keep it in history
  cat report.sql | sqlineage extract --save

  # Force JSON output on a terminal
  sqlineage extract -o json "SELECT a FROM t"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read SQL from file (- for stdin)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Record the extraction in the history store")

	return cmd
}

func runExtract(cmd *cobra.Command, args []string, opts *ExtractOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	sql, source, err := readSQL(cmd, args, opts.File)
	if err != nil {
		return err
	}

	result, err := lineage.Extract(sql)
	if err != nil {
		return fmt.Errorf("failed to extract lineage from %s: %w", source, err)
	}
	cc.Logger.Debug("extracted lineage", "source", source, "columns", len(result))

	if opts.Save {
		if err := cc.saveResults(ctx, []lineage.BatchResult{{Source: source, Result: result}}, []lineage.Input{{Source: source, SQL: sql}}); err != nil {
			return err
		}
	}

	return renderLineage(cc.Renderer, source, result)
}

// saveResults records every successful result in the history store. inputs
// and results are parallel slices.
func (c *CommandContext) saveResults(ctx context.Context, results []lineage.BatchResult, inputs []lineage.Input) error {
	store, cleanup, err := c.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	for i, br := range results {
		if br.Err != nil {
			continue
		}
		ex, err := store.SaveExtraction(ctx, br.Source, inputs[i].SQL, br.Result)
		if err != nil {
			return err
		}
		c.Logger.Debug("saved extraction", "id", ex.ID, "source", br.Source)
	}
	return nil
}
