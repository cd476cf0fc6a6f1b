package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/sqlineage/internal/cli/output"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/spf13/cobra"
)

const (
	replPrompt     = "sqlineage> "
	replContPrompt = "      ...> "
)

// REPLOptions holds options for the repl command.
type REPLOptions struct {
	Save bool
}

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	opts := &REPLOptions{}

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Extract lineage interactively",
		Long: `Start an interactive session. Type a SELECT statement ending with a
semicolon to see its lineage; statements may span several lines.

Type .help for the list of dot-commands.`,
		Example: `  # Start a session with text output
  sqlineage repl

  # Record every statement in the history store
  sqlineage repl --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Save, "save", false, "Record every extraction in the history store")

	return cmd
}

// lineReader is the part of readline the session loop uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

func runREPL(cmd *cobra.Command, opts *REPLOptions) error {
	cc := NewCommandContext(cmd)

	historyFile := ""
	if cc.Cfg.StatePath != ":memory:" {
		historyFile = filepath.Join(filepath.Dir(cc.Cfg.StatePath), "repl_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    replCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	mode := output.Mode(cc.Cfg.OutputFormat)
	if mode == output.ModeAuto {
		mode = output.ModeText
	}
	s := &replSession{cc: cc, save: opts.Save}
	s.setMode(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	cc.Renderer.Println("sqlineage interactive session")
	cc.Renderer.Println("Type .help for commands, .quit to exit")
	cc.Renderer.Println("")

	return s.loop(cmd.Context(), rl)
}

// replSession is the state of one interactive session.
type replSession struct {
	cc   *CommandContext
	save bool
	last lineage.Result
}

func (s *replSession) setMode(out, errOut io.Writer, mode output.OutputMode) {
	s.cc.Renderer = output.NewRendererWithTTY(out, errOut, s.cc.Renderer.IsTTY(), mode)
}

func (s *replSession) loop(ctx context.Context, rl lineReader) error {
	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := s.dotCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString("\n")
			rl.SetPrompt(replContPrompt)
			continue
		}
		rl.SetPrompt(replPrompt)

		sql := buf.String()
		buf.Reset()
		s.extract(ctx, sql)
	}
}

func (s *replSession) extract(ctx context.Context, sql string) {
	r := s.cc.Renderer
	result, err := lineage.Extract(sql)
	if err != nil {
		r.Error(err.Error())
		return
	}
	s.last = result

	if s.save {
		in := lineage.Input{Source: "repl", SQL: sql}
		if err := s.cc.saveResults(ctx, []lineage.BatchResult{{Source: in.Source, Result: result}}, []lineage.Input{in}); err != nil {
			r.Error(err.Error())
		}
	}

	if err := renderLineage(r, "repl", result); err != nil {
		r.Error(err.Error())
	}
	r.Println("")
}

// dotCommand runs a session command and reports whether the session should
// end.
func (s *replSession) dotCommand(ctx context.Context, line string) bool {
	r := s.cc.Renderer
	parts := strings.Fields(line)

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		r.Println(replHelp)

	case ".tables":
		if s.last == nil {
			r.Muted("no statement extracted yet")
			break
		}
		tables := s.last.Tables()
		if len(tables) == 0 {
			r.Muted("no named tables")
			break
		}
		for _, t := range tables {
			r.Println(t)
		}

	case ".mode":
		if len(parts) < 2 {
			r.Println(string(r.EffectiveMode()))
			break
		}
		mode := output.Mode(parts[1])
		if mode == output.ModeAuto {
			r.Error(fmt.Sprintf("unknown mode %q (text, markdown, json, yaml)", parts[1]))
			break
		}
		s.setMode(r.Writer(), r.ErrWriter(), mode)

	case ".save":
		s.save = !s.save
		r.Println("save: " + strconv.FormatBool(s.save))

	case ".history":
		store, cleanup, err := s.cc.OpenStore(ctx)
		if err != nil {
			r.Error(err.Error())
			break
		}
		list, err := store.ListExtractions(ctx, 10)
		cleanup()
		if err != nil {
			r.Error(err.Error())
			break
		}
		if err := renderHistory(r, list); err != nil {
			r.Error(err.Error())
		}

	default:
		r.Error(fmt.Sprintf("unknown command: %s (type .help for commands)", parts[0]))
	}
	return false
}

const replHelp = `Commands:
  .help           Show this help message
  .tables         List the tables of the last statement
  .mode [mode]    Show or set the output mode (text, markdown, json, yaml)
  .save           Toggle recording extractions in history
  .history        Show the ten most recent recorded extractions
  .quit / .exit   Exit the session

Statements end with a semicolon (;) and may span several lines.`

func replCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".mode",
			readline.PcItem("text"),
			readline.PcItem("markdown"),
			readline.PcItem("json"),
			readline.PcItem("yaml"),
		),
		readline.PcItem(".save"),
		readline.PcItem(".history"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
