package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/sqlineage/internal/cli/output"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// lineageColumns are the table columns of the text and markdown views.
var lineageColumns = []string{"#", "column", "alias", "table", "join", "filter", "aggregate", "text"}

// renderLineage writes one extraction result in the renderer's mode. JSON
// output is the canonical encoding, byte for byte.
func renderLineage(r *output.Renderer, source string, result lineage.Result) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		b, err := lineage.Encode(result)
		if err != nil {
			return err
		}
		r.Println(string(b))
		return nil
	case output.ModeYAML:
		return r.YAML(yamlResult(result))
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(2, source))
		r.Println("")
		if len(result) == 0 {
			r.Println("_no columns_")
			return nil
		}
		r.Println(lineageTable(result).RenderMarkdown())
		r.Println("")
		r.Println(output.FormatKeyValue("Columns", fmt.Sprintf("%d", len(result))))
		r.Println(output.FormatKeyValue("Tables", strings.Join(result.Tables(), ", ")))
		return nil
	default:
		styles := r.Styles()
		r.Header(1, source)
		if len(result) == 0 {
			r.Muted("(no columns)")
			return nil
		}
		t := lineageTable(result)
		t.SetOutputMirror(r.Writer())
		t.Render()
		r.Println(styles.Muted.Render(fmt.Sprintf("%d columns from %s", len(result), tablesSummary(result))))
		return nil
	}
}

// newTable returns a light-styled table that keeps header case as given.
func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	return t
}

func lineageTable(result lineage.Result) table.Writer {
	t := newTable()

	titleCaser := cases.Title(language.English)
	header := make(table.Row, len(lineageColumns))
	for i, c := range lineageColumns {
		header[i] = titleCaser.String(c)
	}
	t.AppendHeader(header)

	for i, d := range result {
		t.AppendRow(table.Row{
			i + 1,
			deref(d.Name),
			deref(d.Alias),
			tableLabel(d.Table),
			deref(d.JoinText),
			deref(d.ConditionText),
			yesNo(d.IsAggregation),
			d.Text,
		})
	}
	return t
}

func tablesSummary(result lineage.Result) string {
	tables := result.Tables()
	if len(tables) == 0 {
		return "no named tables"
	}
	return strings.Join(tables, ", ")
}

// tableLabel is the short form of a table identity for tables: the literal
// name, or the subquery's column names.
func tableLabel(t *lineage.TableIdentity) string {
	if t == nil {
		return ""
	}
	if !t.IsSubquery() {
		return t.Name
	}
	names := make([]string, 0, len(t.Subquery))
	for _, d := range t.Subquery {
		names = append(names, deref(d.Name))
	}
	return "(subquery: " + strings.Join(names, ", ") + ")"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

// yamlDescriptor mirrors lineage.ColumnDescriptor for YAML output. Subquery
// tables are nested rather than encoded as strings.
type yamlDescriptor struct {
	Name              *string `yaml:"name"`
	Alias             *string `yaml:"alias"`
	Section           string  `yaml:"section"`
	Text              string  `yaml:"text"`
	Table             any     `yaml:"table"`
	IsJoinCondition   bool    `yaml:"isJoinCondition"`
	JoinText          *string `yaml:"joinText"`
	IsFilterCondition bool    `yaml:"isFilterCondition"`
	ConditionText     *string `yaml:"conditionText"`
	IsAggregation     bool    `yaml:"isAggregation,omitempty"`
}

func yamlResult(result lineage.Result) []yamlDescriptor {
	out := make([]yamlDescriptor, 0, len(result))
	for _, d := range result {
		y := yamlDescriptor{
			Name:              d.Name,
			Alias:             d.Alias,
			Section:           d.Section,
			Text:              d.Text,
			IsJoinCondition:   d.IsJoinCondition,
			JoinText:          d.JoinText,
			IsFilterCondition: d.IsFilterCondition,
			ConditionText:     d.ConditionText,
			IsAggregation:     d.IsAggregation,
		}
		if d.Table != nil {
			if d.Table.IsSubquery() {
				y.Table = map[string]any{"subquery": yamlResult(d.Table.Subquery)}
			} else {
				y.Table = d.Table.Name
			}
		}
		out = append(out, y)
	}
	return out
}

// batchEntry is the machine-readable form of one batch input.
type batchEntry struct {
	Source  string           `json:"source" yaml:"source"`
	Lineage json.RawMessage  `json:"lineage,omitempty" yaml:"-"`
	Columns []yamlDescriptor `json:"-" yaml:"lineage,omitempty"`
	Error   string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// renderBatch writes the results of several inputs. Failed inputs are
// reported in place and do not stop the others.
func renderBatch(r *output.Renderer, results []lineage.BatchResult) error {
	mode := r.EffectiveMode()
	if mode == output.ModeJSON || mode == output.ModeYAML {
		entries := make([]batchEntry, 0, len(results))
		for _, br := range results {
			e := batchEntry{Source: br.Source}
			if br.Err != nil {
				e.Error = br.Err.Error()
			} else {
				b, err := lineage.Encode(br.Result)
				if err != nil {
					return err
				}
				e.Lineage = b
				e.Columns = yamlResult(br.Result)
			}
			entries = append(entries, e)
		}
		if mode == output.ModeYAML {
			return r.YAML(entries)
		}
		return r.JSON(entries)
	}

	for i, br := range results {
		if i > 0 {
			r.Println("")
		}
		if br.Err != nil {
			if mode == output.ModeMarkdown {
				r.Println(output.FormatHeader(2, br.Source))
				r.Println("")
				r.Println(output.FormatKeyValue("Error", br.Err.Error()))
				continue
			}
			r.StatusLine(br.Source, "failed", br.Err.Error())
			continue
		}
		if err := renderLineage(r, br.Source, br.Result); err != nil {
			return err
		}
	}
	return nil
}

// failedCount returns how many batch inputs failed.
func failedCount(results []lineage.BatchResult) int {
	n := 0
	for _, br := range results {
		if br.Err != nil {
			n++
		}
	}
	return n
}
