package commands

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/sqlineage/internal/cli/config"
	"github.com/leapstack-labs/sqlineage/internal/cli/output"
	"github.com/leapstack-labs/sqlineage/internal/cli/testutil"
	"github.com/leapstack-labs/sqlineage/internal/server"
	"github.com/leapstack-labs/sqlineage/internal/state"
	logtest "github.com/leapstack-labs/sqlineage/internal/testutil"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewExtractCommand(), "extract [sql...]", []string{"file", "save"}},
		{NewBatchCommand(), "batch <path>...", []string{"ext", "jobs", "save"}},
		{NewWatchCommand(), "watch <path>...", []string{"ext", "debounce", "save"}},
		{NewServeCommand(), "serve", []string{"addr", "read-timeout", "request-timeout", "persist", "no-history", "watch"}},
		{NewViewsCommand(), "views", []string{"driver", "dsn", "schema", "save"}},
		{NewHistoryCommand(), "history [id]", []string{"limit"}},
		{NewREPLCommand(), "repl", []string{"save"}},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, tt.cmd.Long, "Long should not be empty")
			assert.NotEmpty(t, tt.cmd.Example, "Example should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

// execute runs cmd without the root command, so configuration comes from
// the environment.
func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, string, error) {
	t.Helper()
	config.ResetConfig()
	t.Setenv(config.EnvPrefix+"STATE_PATH", filepath.Join(t.TempDir(), "history.db"))

	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestExtract_ArgsJSON(t *testing.T) {
	sql := "SELECT c.dob AS DOB FROM customer c"
	want, err := lineage.ExtractJSON(sql)
	require.NoError(t, err)

	out, _, err := execute(t, NewExtractCommand(), "", sql)
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)
}

func TestExtract_Stdin(t *testing.T) {
	sql := "SELECT a, b FROM t WHERE a > 1"
	want, err := lineage.ExtractJSON(sql)
	require.NoError(t, err)

	out, _, err := execute(t, NewExtractCommand(), sql)
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)
}

func TestExtract_File(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	path := filepath.Join(dir, "queries", "customers.sql")
	want, err := lineage.ExtractJSON(testutil.SampleQueries["queries/customers.sql"])
	require.NoError(t, err)

	out, _, err := execute(t, NewExtractCommand(), "", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)
}

func TestExtract_ParseError(t *testing.T) {
	_, _, err := execute(t, NewExtractCommand(), "", "SELECT (a FROM t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to extract lineage from args")
}

func TestExtract_Save(t *testing.T) {
	out, _, err := execute(t, NewExtractCommand(), "", "--save", "SELECT t.a FROM t")
	require.NoError(t, err)
	assert.Contains(t, out, `"table": "t"`)

	_, err = os.Stat(os.Getenv(config.EnvPrefix + "STATE_PATH"))
	require.NoError(t, err, "history database should be created")
}

func TestBatch(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, _, err := execute(t, NewBatchCommand(), "", filepath.Join(dir, "queries"))
	require.Error(t, err)
	assert.Equal(t, "1 of 3 inputs failed", err.Error())

	assert.Contains(t, out, `"source": "`+filepath.Join(dir, "queries", "broken.sql")+`"`)
	assert.Contains(t, out, `"error":`)
	assert.Contains(t, out, "revenue.sql")
	assert.NotContains(t, out, "notes.txt")
}

func TestBatch_AllSucceed(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	_, _, err := execute(t, NewBatchCommand(), "", "--jobs", "2", filepath.Join(dir, "queries", "reports"))
	require.NoError(t, err)
}

func TestBatch_NoFiles(t *testing.T) {
	_, errOut, err := execute(t, NewBatchCommand(), "", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, errOut, "no SQL files found")
}

func TestReadSQL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1"), 0o600))

	tests := []struct {
		name       string
		args       []string
		file       string
		stdin      string
		wantSQL    string
		wantSource string
		wantErr    bool
	}{
		{name: "args", args: []string{"SELECT", "a", "FROM", "t"}, wantSQL: "SELECT a FROM t", wantSource: "args"},
		{name: "file", file: path, wantSQL: "SELECT 1", wantSource: path},
		{name: "dash reads stdin", file: "-", stdin: "SELECT b", wantSQL: "SELECT b", wantSource: "stdin"},
		{name: "default stdin", stdin: "SELECT c", wantSQL: "SELECT c", wantSource: "stdin"},
		{name: "missing file", file: filepath.Join(dir, "missing.sql"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.SetIn(strings.NewReader(tt.stdin))

			sql, source, err := readSQL(cmd, tt.args, tt.file)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestRenderLineage_Modes(t *testing.T) {
	result, err := lineage.Extract("SELECT s.x, o.amount, COUNT(o.id) AS n FROM (SELECT x FROM t) s JOIN orders o ON o.sid = s.x")
	require.NoError(t, err)

	t.Run("json is canonical", func(t *testing.T) {
		tr := testutil.NewTestRenderer(output.ModeJSON, false)
		require.NoError(t, renderLineage(tr.Renderer, "q", result))

		want, err := lineage.Encode(result)
		require.NoError(t, err)
		assert.Equal(t, string(want)+"\n", tr.Output())
	})

	t.Run("text", func(t *testing.T) {
		tr := testutil.NewTestRenderer(output.ModeText, false)
		require.NoError(t, renderLineage(tr.Renderer, "q", result))

		out := tr.Output()
		testutil.AssertNoANSI(t, out)
		assert.Contains(t, out, "Column")
		assert.Contains(t, out, "(subquery: x)")
		assert.Contains(t, out, "3 columns from orders")
	})

	t.Run("markdown", func(t *testing.T) {
		tr := testutil.NewTestRenderer(output.ModeMarkdown, false)
		require.NoError(t, renderLineage(tr.Renderer, "q", result))

		out := tr.Output()
		testutil.AssertValidMarkdown(t, out)
		assert.Contains(t, out, "## q")
		assert.Contains(t, out, "| # | Column |")
		assert.Contains(t, out, "- **Tables:** orders")
	})

	t.Run("yaml nests subqueries", func(t *testing.T) {
		tr := testutil.NewTestRenderer(output.ModeYAML, false)
		require.NoError(t, renderLineage(tr.Renderer, "q", result))

		var doc []map[string]any
		require.NoError(t, yaml.Unmarshal(tr.Out.Bytes(), &doc))
		require.Len(t, doc, 3)

		table, ok := doc[0]["table"].(map[string]any)
		require.True(t, ok, "subquery table should be a mapping, got %T", doc[0]["table"])
		inner, ok := table["subquery"].([]any)
		require.True(t, ok)
		assert.Len(t, inner, 1)
		assert.Equal(t, "orders", doc[1]["table"])
		assert.Nil(t, doc[2]["table"])
		assert.Equal(t, "id", doc[2]["name"])
		assert.Equal(t, true, doc[2]["isAggregation"])
	})
}

func TestRenderLineage_Empty(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeJSON, false)
	require.NoError(t, renderLineage(tr.Renderer, "q", lineage.Result{}))
	assert.Equal(t, "[]\n", tr.Output())

	tr = testutil.NewTestRenderer(output.ModeText, false)
	require.NoError(t, renderLineage(tr.Renderer, "q", lineage.Result{}))
	assert.Contains(t, tr.Output(), "(no columns)")
}

func TestRenderBatch_Text(t *testing.T) {
	ok, err := lineage.Extract("SELECT a FROM t")
	require.NoError(t, err)
	results := []lineage.BatchResult{
		{Source: "good.sql", Result: ok},
		{Source: "bad.sql", Err: errors.New("parse sql: unbalanced parenthesis")},
	}

	tr := testutil.NewTestRenderer(output.ModeText, false)
	require.NoError(t, renderBatch(tr.Renderer, results))
	out := tr.Output()
	assert.Contains(t, out, "good.sql")
	assert.Contains(t, out, "✗ bad.sql")
	assert.Contains(t, out, "unbalanced parenthesis")
	assert.Equal(t, 1, failedCount(results))
}

func TestTableLabel(t *testing.T) {
	assert.Empty(t, tableLabel(nil))
	assert.Equal(t, "db.t", tableLabel(&lineage.TableIdentity{Name: "db.t"}))

	a, b := "a", "b"
	sub := &lineage.TableIdentity{Subquery: lineage.Result{{Name: &a}, {Name: &b}, {}}}
	assert.Equal(t, "(subquery: a, b, )", tableLabel(sub))
}

// scriptedReader replays lines and then reports EOF.
type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	if line == "^C" {
		return "", readline.ErrInterrupt
	}
	return line, nil
}

func (r *scriptedReader) SetPrompt(p string) {
	r.prompts = append(r.prompts, p)
}

func newTestSession(t *testing.T) (*replSession, *testutil.TestRenderer) {
	t.Helper()
	tr := testutil.NewTestRenderer(output.ModeJSON, false)
	cc := &CommandContext{
		Cfg:      &config.Config{StatePath: filepath.Join(t.TempDir(), "history.db")},
		Logger:   logtest.NewTestLogger(t),
		Renderer: tr.Renderer,
	}
	return &replSession{cc: cc}, tr
}

func TestREPL_MultiLineStatement(t *testing.T) {
	s, tr := newTestSession(t)
	rl := &scriptedReader{lines: []string{"SELECT t.a", "FROM t;"}}

	require.NoError(t, s.loop(context.Background(), rl))

	assert.Equal(t, []string{replContPrompt, replPrompt}, rl.prompts)
	assert.Contains(t, tr.Output(), `"table": "t"`)
	assert.Equal(t, []string{"t"}, s.last.Tables())
}

func TestREPL_InterruptDiscardsBuffer(t *testing.T) {
	s, tr := newTestSession(t)
	rl := &scriptedReader{lines: []string{"SELECT a", "^C", "SELECT b FROM u;"}}

	require.NoError(t, s.loop(context.Background(), rl))
	assert.NotContains(t, tr.Output(), `"name": "a"`)
	assert.Contains(t, tr.Output(), `"name": "b"`)
}

func TestREPL_DotCommands(t *testing.T) {
	s, tr := newTestSession(t)
	rl := &scriptedReader{lines: []string{
		".tables",
		"SELECT a.x, b.y FROM a JOIN b ON a.id = b.id;",
		".tables",
		".mode text",
		".mode",
		".mode bogus",
		".help",
		".nope",
		".quit",
		"SELECT never FROM t;",
	}}

	require.NoError(t, s.loop(context.Background(), rl))

	out := tr.Output()
	assert.Contains(t, out, "no statement extracted yet")
	assert.Contains(t, out, "a\nb\n")
	assert.Contains(t, out, "Commands:")
	assert.NotContains(t, out, "never")
	assert.Equal(t, output.ModeText, s.cc.Renderer.EffectiveMode())

	errOut := tr.ErrorOutput()
	assert.Contains(t, errOut, `unknown mode "bogus"`)
	assert.Contains(t, errOut, "unknown command: .nope")
}

func TestREPL_SaveAndHistory(t *testing.T) {
	s, tr := newTestSession(t)
	rl := &scriptedReader{lines: []string{".save", "SELECT a FROM t;", ".mode json", ".history"}}

	require.NoError(t, s.loop(context.Background(), rl))
	assert.True(t, s.save)
	assert.Contains(t, tr.Output(), `"source": "repl"`)
	assert.Contains(t, tr.Output(), `"columnCount": 1`)
}

func TestREPL_ParseErrorContinues(t *testing.T) {
	s, tr := newTestSession(t)
	rl := &scriptedReader{lines: []string{"SELECT (a FROM t;", "SELECT b FROM u;"}}

	require.NoError(t, s.loop(context.Background(), rl))
	assert.NotEmpty(t, tr.ErrorOutput())
	assert.Contains(t, tr.Output(), `"name": "b"`)
}

func TestHistory_ListAndShow(t *testing.T) {
	config.ResetConfig()
	statePath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv(config.EnvPrefix+"STATE_PATH", statePath)

	cc := &CommandContext{
		Cfg:    &config.Config{StatePath: statePath},
		Logger: logtest.NewTestLogger(t),
	}
	ctx := context.Background()
	store, cleanup, err := cc.OpenStore(ctx)
	require.NoError(t, err)
	result, err := lineage.Extract("SELECT t.a FROM t")
	require.NoError(t, err)
	ex, err := store.SaveExtraction(ctx, "q.sql", "SELECT t.a FROM t", result)
	require.NoError(t, err)
	cleanup()

	run := func(args ...string) string {
		t.Helper()
		out := new(bytes.Buffer)
		cmd := NewHistoryCommand()
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	assert.Equal(t, ex.Lineage+"\n", run(ex.ID))

	list := run("--limit", "5")
	assert.Contains(t, list, `"id": "`+ex.ID+`"`)
	assert.Contains(t, list, `"source": "q.sql"`)
	assert.Contains(t, list, `"columnCount": 1`)
}

func TestHistory_UnknownID(t *testing.T) {
	_, _, err := execute(t, NewHistoryCommand(), "", "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRenderExtraction_Text(t *testing.T) {
	config.ResetConfig()
	cc := &CommandContext{
		Cfg:    &config.Config{StatePath: ":memory:"},
		Logger: logtest.NewTestLogger(t),
	}
	ctx := context.Background()
	store, cleanup, err := cc.OpenStore(ctx)
	require.NoError(t, err)
	defer cleanup()

	result, err := lineage.Extract("SELECT s.x FROM (SELECT x FROM t) s")
	require.NoError(t, err)
	saved, err := store.SaveExtraction(ctx, "sub.sql", "SELECT s.x FROM (SELECT x FROM t) s", result)
	require.NoError(t, err)
	ex, err := store.GetExtraction(ctx, saved.ID)
	require.NoError(t, err)

	tr := testutil.NewTestRenderer(output.ModeText, false)
	require.NoError(t, renderExtraction(tr.Renderer, ex))
	assert.Contains(t, tr.Output(), "Extraction "+ex.ID)
	assert.Contains(t, tr.Output(), "(subquery)")
	testutil.AssertNoANSI(t, tr.Output())

	tr = testutil.NewTestRenderer(output.ModeMarkdown, false)
	require.NoError(t, renderExtraction(tr.Renderer, ex))
	testutil.AssertValidMarkdown(t, tr.Output())
	assert.Contains(t, tr.Output(), "```sql")
}

func TestApplyServeFlags(t *testing.T) {
	cmd := NewServeCommand()
	require.NoError(t, cmd.Flags().Set("addr", ":9999"))
	require.NoError(t, cmd.Flags().Set("persist", "true"))

	opts := &ServeOptions{Addr: ":9999", Persist: true, ReadTimeout: time.Minute}
	cfg := server.Config{}
	cfg.ReadTimeout = 3 * time.Second
	applyServeFlags(cmd, &cfg, opts)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.True(t, cfg.Persist)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout, "unchanged flags keep configured values")
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestServe_PersistWithoutHistory(t *testing.T) {
	_, _, err := execute(t, NewServeCommand(), "", "--no-history", "--persist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--persist requires the history store")
}

func TestExtractEvent(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.sql")
	bad := filepath.Join(dir, "bad.sql")
	require.NoError(t, os.WriteFile(good, []byte("SELECT a FROM t"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("SELECT (a FROM t"), 0o600))

	ev := extractEvent(good)
	assert.Equal(t, good, ev.Source)
	assert.Empty(t, ev.Error)
	want, err := lineage.ExtractJSON("SELECT a FROM t")
	require.NoError(t, err)
	assert.Equal(t, want, string(ev.Lineage))

	ev = extractEvent(bad)
	assert.NotEmpty(t, ev.Error)
	assert.Nil(t, ev.Lineage)

	ev = extractEvent(filepath.Join(dir, "missing.sql"))
	assert.NotEmpty(t, ev.Error)
}

func TestViews_Validation(t *testing.T) {
	_, _, err := execute(t, NewViewsCommand(), "", "--driver", "oracle", "--dsn", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown catalog driver")

	_, _, err = execute(t, NewViewsCommand(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog dsn is required for postgres")
}

func TestViews_DuckDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warehouse.duckdb")
	createDuckDBViews(t, dbPath,
		"CREATE TABLE orders (id INTEGER, amount INTEGER)",
		"CREATE VIEW big_orders AS SELECT o.id, o.amount FROM orders o WHERE o.amount > 100",
	)

	out, _, err := execute(t, NewViewsCommand(), "", "--driver", "duckdb", "--dsn", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"source": "main.big_orders"`)
	assert.Contains(t, out, `"table": "orders"`)
}

func createDuckDBViews(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}
