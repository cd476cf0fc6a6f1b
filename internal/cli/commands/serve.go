package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	intconfig "github.com/leapstack-labs/sqlineage/internal/config"
	"github.com/leapstack-labs/sqlineage/internal/server"
	"github.com/leapstack-labs/sqlineage/internal/watch"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr           string
	ReadTimeout    time.Duration
	RequestTimeout time.Duration
	Persist        bool
	NoHistory      bool
	Watch          []string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lineage extraction over HTTP",
		Long: `Start an HTTP server that extracts lineage on request.

Endpoints:
  POST /v1/lineage            extract lineage from the request body
  GET  /v1/extractions        list recorded extractions, newest first
  GET  /v1/extractions/{id}   fetch one recorded extraction
  GET  /v1/events             server-sent events for new extractions
  GET  /healthz               liveness check

The request body of /v1/lineage is either raw SQL or a JSON object
{"sql": "...", "source": "..."}. The response is the canonical lineage
document. With --persist every successful extraction is recorded in the
history store.

With --watch, changes to the given files and directories are extracted and
published on the event stream.`,
		Example: `  # Serve on the default address
  sqlineage serve

  # Listen on all interfaces and record every extraction
  sqlineage serve --addr :8787 --persist

  # Publish lineage for edited queries to /v1/events
  sqlineage serve --watch queries/

  # Extract a query with curl
  curl -s --data-binary @report.sql localhost:8787/v1/lineage`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (default 127.0.0.1:8787)")
	cmd.Flags().DurationVar(&opts.ReadTimeout, "read-timeout", 0, "Maximum time to read a request (default 10s)")
	cmd.Flags().DurationVar(&opts.RequestTimeout, "request-timeout", 0, "Maximum time to handle a request (default 30s)")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "Record every extraction in the history store")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "Do not open the history store (disables /v1/extractions)")
	cmd.Flags().StringSliceVar(&opts.Watch, "watch", nil, "Paths to watch and publish on the event stream")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	cfg := server.Config{
		ServeConfig: cc.Cfg.Serve,
		Logger:      cc.Logger,
	}
	applyServeFlags(cmd, &cfg, opts)

	if opts.NoHistory && cfg.Persist {
		return fmt.Errorf("--persist requires the history store")
	}
	if !opts.NoHistory {
		store, cleanup, err := cc.OpenStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		cfg.Store = store
	}

	srv := server.NewServer(cfg)

	g, gctx := errgroup.WithContext(ctx)

	if len(opts.Watch) > 0 {
		w, err := watch.New(watch.Options{
			Paths:      opts.Watch,
			Extensions: cc.Cfg.Watch.Extensions,
			Debounce:   cc.Cfg.Watch.Debounce,
			Logger:     cc.Logger,
			OnChange: func(_ context.Context, path string) {
				srv.Notifier().Publish(extractEvent(path))
			},
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error { return srv.Serve(gctx) })

	cc.Renderer.Success(fmt.Sprintf("serving lineage on http://%s", cfg.Addr))
	return g.Wait()
}

// applyServeFlags lets explicitly set flags override configured values.
func applyServeFlags(cmd *cobra.Command, cfg *server.Config, opts *ServeOptions) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = opts.Addr
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = opts.ReadTimeout
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = opts.RequestTimeout
	}
	if flags.Changed("persist") {
		cfg.Persist = opts.Persist
	}
	intconfig.ApplyServeDefaults(&cfg.ServeConfig)
}

// extractEvent reads and extracts path for the event stream.
func extractEvent(path string) server.Event {
	ev := server.Event{Source: path}

	b, err := os.ReadFile(path) //nolint:gosec // watched query file
	if err != nil {
		ev.Error = err.Error()
		return ev
	}
	result, err := lineage.Extract(string(b))
	if err != nil {
		ev.Error = err.Error()
		return ev
	}
	encoded, err := lineage.Encode(result)
	if err != nil {
		ev.Error = err.Error()
		return ev
	}
	ev.Lineage = encoded
	return ev
}
