package commands

import (
	"fmt"
	"os"

	"github.com/leapstack-labs/sqlineage/internal/watch"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/spf13/cobra"
)

// BatchOptions holds options for the batch command.
type BatchOptions struct {
	Extensions []string
	Jobs       int
	Save       bool
}

// NewBatchCommand creates the batch command.
func NewBatchCommand() *cobra.Command {
	opts := &BatchOptions{}

	cmd := &cobra.Command{
		Use:   "batch <path>...",
		Short: "Extract lineage from many SQL files",
		Long: `Extract lineage from every SQL file under the given paths.

Directories are searched recursively for files with a matching extension;
files named explicitly are always included. Files are processed concurrently
and reported in path order. A file that fails to parse is reported without
stopping the others, and the command exits non-zero if any file failed.`,
		Example: `  # Extract every .sql file in a directory tree
  sqlineage batch queries/

  # Limit concurrency and emit JSON
  sqlineage batch queries/ --jobs 4 -o json

  # Include .hql files and save results to history
  sqlineage batch queries/ --ext .sql,.hql --save`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Extensions, "ext", nil, "File extensions to include (default .sql)")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 0, "Maximum concurrent extractions (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Record successful extractions in the history store")

	return cmd
}

func runBatch(cmd *cobra.Command, paths []string, opts *BatchOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	exts := opts.Extensions
	if !cmd.Flags().Changed("ext") {
		exts = cc.Cfg.Watch.Extensions
	}
	jobs := opts.Jobs
	if !cmd.Flags().Changed("jobs") {
		jobs = cc.Cfg.Jobs
	}

	inputs, err := readInputs(paths, exts)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		cc.Renderer.Warning("no SQL files found")
		return nil
	}
	cc.Logger.Debug("extracting batch", "files", len(inputs), "jobs", jobs)

	results, err := lineage.ExtractAll(ctx, inputs, jobs)
	if err != nil {
		return fmt.Errorf("batch extraction cancelled: %w", err)
	}

	if opts.Save {
		if err := cc.saveResults(ctx, results, inputs); err != nil {
			return err
		}
	}

	if err := renderBatch(cc.Renderer, results); err != nil {
		return err
	}

	if failed := failedCount(results); failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(results))
	}
	return nil
}

// readInputs collects the matching files under paths as extraction inputs.
func readInputs(paths, exts []string) ([]lineage.Input, error) {
	files, err := watch.Files(paths, exts)
	if err != nil {
		return nil, err
	}

	inputs := make([]lineage.Input, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f) //nolint:gosec // user-supplied query file
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		inputs = append(inputs, lineage.Input{Source: f, SQL: string(b)})
	}
	return inputs, nil
}
