package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/fqlsync/internal/binding"
	"github.com/roach88/fqlsync/internal/metrics"
	"github.com/roach88/fqlsync/internal/query"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Vars        string
	Props       string
	ForceTime   string
	Timeout     time.Duration
	Watch       bool
	MetricsAddr string
}

// QueryOutput is the printable state of a bound query.
type QueryOutput struct {
	Component int64  `json:"component"`
	Status    string `json:"status"`
	Result    any    `json:"result"`
	Error     string `json:"error,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

func newQueryOutput(d binding.Data) QueryOutput {
	out := QueryOutput{
		Component: d.ID,
		Status:    d.Status,
		Result:    d.Result,
		Warning:   d.Warning,
	}
	if d.Error != nil {
		out.Error = fmt.Sprint(d.Error)
	}
	return out
}

// String renders the query state for text output.
func (o QueryOutput) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "component %d: %s", o.Component, o.Status)
	if o.Warning != "" {
		fmt.Fprintf(&buf, " (%s)", o.Warning)
	}
	if o.Error != "" {
		fmt.Fprintf(&buf, "\nerror: %s", o.Error)
	}
	buf.WriteByte('\n')
	buf.WriteString(indentJSON(o.Result))
	return buf.String()
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <query-json>",
		Short: "Bind a query and print its result",
		Long: `Register a query on the connection and print the result the worker pushes.

Without --watch the command exits once the query has loaded or failed.
With --watch every state push is printed until interrupted.

Exit codes:
  0 - The query loaded
  1 - The query failed or was invalid
  2 - Command error (bad flags, unreachable worker, timeout)

Example:
  fqlsync query '{"members":[{"handle":null}]}' --instance acme/prod
  fqlsync query '{"posts":[{"author":"?user"}]}' --props '{"user":7}' --watch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Vars, "vars", "", "explicit query variables as a JSON object")
	cmd.Flags().StringVar(&opts.Props, "props", "", "component props as a JSON object")
	cmd.Flags().StringVar(&opts.ForceTime, "force-time", "", "pin the query to an RFC 3339 time")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for the first result")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "print every state push until interrupted")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	return cmd
}

func runQuery(opts *QueryOptions, raw string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	q, err := query.Parse([]byte(raw))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query", err)
	}
	vars, err := parseObjectFlag("vars", opts.Vars)
	if err != nil {
		return err
	}
	props, err := parseObjectFlag("props", opts.Props)
	if err != nil {
		return err
	}
	var at *time.Time
	if opts.ForceTime != "" {
		t, err := time.Parse(time.RFC3339Nano, opts.ForceTime)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --force-time", err)
		}
		at = &t
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = s.cfg.MetricsAddr
	}
	if addr != "" {
		shutdown := serveMetrics(addr, s.registry)
		defer shutdown()
	}

	if at != nil {
		s.conn.ForceTime(at)
	}

	renders := make(chan binding.Data, 64)
	b, err := s.conn.Bind(query.Static(q), query.Options{Vars: vars}, query.Props(props), func(d binding.Data) {
		select {
		case renders <- d:
		default:
			slog.Warn("render dropped: output is falling behind", "component", d.ID)
		}
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to bind query", err)
	}
	b.Mount()
	defer b.Unmount()

	if opts.Watch {
		return watchQuery(ctx, formatter, renders)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	for {
		select {
		case d := <-renders:
			if d.Error != nil {
				out := newQueryOutput(d)
				if err := formatter.Error(ErrCodeQueryFailed, "query failed", out); err != nil {
					return err
				}
				return NewExitError(ExitFailure, "query failed: "+out.Error)
			}
			if d.Status == binding.StatusLoaded {
				return formatter.Success(newQueryOutput(d))
			}
			if d.Warning != "" {
				formatter.VerboseLog("%s", d.Warning)
			}
		case <-waitCtx.Done():
			return WrapExitError(ExitCommandError, "query did not load", waitCtx.Err())
		}
	}
}

// watchQuery prints every render until ctx ends.
func watchQuery(ctx context.Context, formatter *OutputFormatter, renders <-chan binding.Data) error {
	for {
		select {
		case d := <-renders:
			if err := formatter.Success(newQueryOutput(d)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// serveMetrics exposes reg on addr at /metrics and returns a shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}
}
