package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/sqlineage/internal/cli/output"
	"github.com/leapstack-labs/sqlineage/internal/state"
	"github.com/spf13/cobra"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show recorded extractions",
		Long: `List extractions recorded with --save or by "serve --persist", newest
first. With an id, show that extraction's SQL and flattened columns; in JSON
mode the stored lineage document is printed exactly as it was returned.`,
		Example: `  # Recent extractions
  sqlineage history

  # The last five
  sqlineage history --limit 5

  # One extraction's lineage document
  sqlineage history 6f1c2a9e-... -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum extractions to list (0 = all)")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string, opts *HistoryOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	store, cleanup, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(args) == 1 {
		ex, err := store.GetExtraction(ctx, args[0])
		if err != nil {
			return err
		}
		return renderExtraction(cc.Renderer, ex)
	}

	list, err := store.ListExtractions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return renderHistory(cc.Renderer, list)
}

// historyEntry is the machine-readable form of a listed extraction.
type historyEntry struct {
	ID          string    `json:"id" yaml:"id"`
	Source      string    `json:"source" yaml:"source"`
	Hash        string    `json:"hash" yaml:"hash"`
	ColumnCount int       `json:"columnCount" yaml:"columnCount"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
}

func renderHistory(r *output.Renderer, list []*state.Extraction) error {
	mode := r.EffectiveMode()
	if mode == output.ModeJSON || mode == output.ModeYAML {
		entries := make([]historyEntry, 0, len(list))
		for _, ex := range list {
			entries = append(entries, historyEntry{
				ID:          ex.ID,
				Source:      ex.Source,
				Hash:        ex.Hash,
				ColumnCount: ex.ColumnCount,
				CreatedAt:   ex.CreatedAt,
			})
		}
		if mode == output.ModeYAML {
			return r.YAML(entries)
		}
		return r.JSON(entries)
	}

	if len(list) == 0 {
		r.Muted("no extractions recorded")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"ID", "Source", "Columns", "Created"})
	for _, ex := range list {
		t.AppendRow(table.Row{ex.ID, ex.Source, ex.ColumnCount, ex.CreatedAt.Local().Format(time.DateTime)})
	}

	if mode == output.ModeMarkdown {
		r.Println(output.FormatHeader(1, "Extractions"))
		r.Println("")
		r.Println(t.RenderMarkdown())
		return nil
	}
	t.SetOutputMirror(r.Writer())
	t.Render()
	return nil
}

func renderExtraction(r *output.Renderer, ex *state.Extraction) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		r.Println(ex.Lineage)
		return nil
	case output.ModeYAML:
		var doc any
		if err := json.Unmarshal([]byte(ex.Lineage), &doc); err != nil {
			return fmt.Errorf("failed to decode stored lineage: %w", err)
		}
		return r.YAML(map[string]any{
			"id":        ex.ID,
			"source":    ex.Source,
			"sql":       ex.SQL,
			"createdAt": ex.CreatedAt,
			"lineage":   doc,
		})
	}

	markdown := r.EffectiveMode() == output.ModeMarkdown
	r.Header(1, "Extraction "+ex.ID)
	if markdown {
		r.Println("")
		r.Println(output.FormatKeyValue("Source", ex.Source))
		r.Println(output.FormatKeyValue("Created", ex.CreatedAt.Local().Format(time.DateTime)))
		r.Println(output.FormatKeyValue("Hash", ex.Hash))
		r.Println("")
		r.Println(output.FormatCode("sql", strings.TrimSpace(ex.SQL)))
		r.Println("")
	} else {
		styles := r.Styles()
		r.Println(styles.Muted.Render("source:  ") + ex.Source)
		r.Println(styles.Muted.Render("created: ") + ex.CreatedAt.Local().Format(time.DateTime))
		r.Println(styles.Muted.Render("hash:    ") + ex.Hash)
		r.Println("")
		r.Println(strings.TrimSpace(ex.SQL))
		r.Println("")
	}

	if len(ex.Columns) == 0 {
		r.Muted("(no columns)")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"#", "Column", "Alias", "Table", "Join", "Filter", "Aggregate"})
	for _, c := range ex.Columns {
		tbl := deref(c.Table)
		if c.IsSubquery {
			tbl = "(subquery)"
		}
		t.AppendRow(table.Row{
			strconv.Itoa(c.Position + 1),
			deref(c.Name),
			deref(c.Alias),
			tbl,
			yesNo(c.IsJoinCondition),
			yesNo(c.IsFilterCondition),
			yesNo(c.IsAggregation),
		})
	}
	if markdown {
		r.Println(t.RenderMarkdown())
		return nil
	}
	t.SetOutputMirror(r.Writer())
	t.Render()
	return nil
}
