package commands

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/leapstack-labs/sqlineage/internal/watch"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/spf13/cobra"
)

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	Extensions []string
	Debounce   time.Duration
	Save       bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <path>...",
		Short: "Re-extract lineage whenever SQL files change",
		Long: `Watch files and directories and re-extract lineage on every change.

All matching files are extracted once at startup. After that, each file is
re-extracted when it is written or created; bursts of events for the same
file are collapsed into one extraction. Directories created while watching
are picked up automatically. Press Ctrl+C to stop.`,
		Example: `  # Watch a directory of queries
  sqlineage watch queries/

  # Watch one file with a longer debounce, recording each change
  sqlineage watch report.sql --debounce 1s --save`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Extensions, "ext", nil, "File extensions to watch (default .sql)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 0, "Quiet period before re-extracting a changed file (default 200ms)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Record every extraction in the history store")

	return cmd
}

func runWatch(cmd *cobra.Command, paths []string, opts *WatchOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	exts := cc.Cfg.Watch.Extensions
	if cmd.Flags().Changed("ext") {
		exts = opts.Extensions
	}
	debounce := cc.Cfg.Watch.Debounce
	if cmd.Flags().Changed("debounce") {
		debounce = opts.Debounce
	}

	inputs, err := readInputs(paths, exts)
	if err != nil {
		return err
	}
	results, err := lineage.ExtractAll(ctx, inputs, cc.Cfg.Jobs)
	if err != nil {
		return err
	}
	if opts.Save {
		if err := cc.saveResults(ctx, results, inputs); err != nil {
			return err
		}
	}
	if err := renderBatch(cc.Renderer, results); err != nil {
		return err
	}

	w, err := watch.New(watch.Options{
		Paths:      paths,
		Extensions: exts,
		Debounce:   debounce,
		Logger:     cc.Logger,
		OnChange: func(ctx context.Context, path string) {
			cc.reextract(ctx, path, opts.Save)
		},
	})
	if err != nil {
		return err
	}

	cc.Renderer.Muted(fmt.Sprintf("watching %d path(s), press Ctrl+C to stop", len(paths)))
	return w.Run(ctx)
}

// renderMu serializes output from concurrent change notifications.
var renderMu sync.Mutex

// reextract extracts one changed file and renders the result. Failures are
// reported and the watch continues.
func (c *CommandContext) reextract(ctx context.Context, path string, save bool) {
	b, err := os.ReadFile(path) //nolint:gosec // watched query file
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		c.Renderer.Error(fmt.Sprintf("%s: %v", path, err))
		return
	}

	input := lineage.Input{Source: path, SQL: string(b)}
	result, err := lineage.Extract(input.SQL)
	br := lineage.BatchResult{Source: path, Result: result, Err: err}

	if save && err == nil {
		if err := c.saveResults(ctx, []lineage.BatchResult{br}, []lineage.Input{input}); err != nil {
			c.Renderer.Error(err.Error())
		}
	}

	renderMu.Lock()
	defer renderMu.Unlock()
	c.Renderer.Println("")
	if err := renderBatch(c.Renderer, []lineage.BatchResult{br}); err != nil {
		c.Renderer.Error(err.Error())
	}
}
