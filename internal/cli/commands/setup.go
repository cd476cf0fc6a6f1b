package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/sqlineage/internal/cli/config"
	"github.com/leapstack-labs/sqlineage/internal/cli/output"
	intconfig "github.com/leapstack-labs/sqlineage/internal/config"
	"github.com/leapstack-labs/sqlineage/internal/state"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// OpenStore opens and migrates the history store.
// Returns the store and a cleanup function that must be called (typically via defer).
func (c *CommandContext) OpenStore(ctx context.Context) (*state.SQLiteStore, func(), error) {
	// Ensure state directory exists
	if c.Cfg.StatePath != ":memory:" {
		stateDir := filepath.Dir(c.Cfg.StatePath)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(ctx, c.Cfg.StatePath); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// Helper functions shared across commands

// getConfig returns the current configuration.
// It uses config.GetCurrentConfig() if available, otherwise falls back to environment variables.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}

	cfg := &config.Config{
		OutputFormat: getEnvOrDefault(config.EnvPrefix+"OUTPUT", config.DefaultOutput),
		LogLevel:     getEnvOrDefault(config.EnvPrefix+"LOG_LEVEL", config.DefaultLogLevel),
		Verbose:      os.Getenv(config.EnvPrefix+"VERBOSE") == "true",
		StatePath:    getEnvOrDefault(config.EnvPrefix+"STATE_PATH", config.DefaultStateFile),
	}
	intconfig.ApplyServeDefaults(&cfg.Serve)
	intconfig.ApplyWatchDefaults(&cfg.Watch)
	return cfg
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// readSQL returns the SQL given as arguments, read from file ("-" for
// stdin), or read from stdin when neither is given. The second value labels
// where it came from.
func readSQL(cmd *cobra.Command, args []string, file string) (string, string, error) {
	switch {
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), "stdin", nil
	case file != "":
		b, err := os.ReadFile(file) //nolint:gosec // user-supplied query file
		if err != nil {
			return "", "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(b), file, nil
	case len(args) > 0:
		return strings.Join(args, " "), "args", nil
	default:
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), "stdin", nil
	}
}
