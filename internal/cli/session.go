package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/fqlsync/internal/client"
	"github.com/roach88/fqlsync/internal/config"
	"github.com/roach88/fqlsync/internal/metrics"
)

// session is one connected client with its event loop running.
type session struct {
	cfg      *config.Config
	client   *client.Client
	conn     *client.Conn
	registry *prometheus.Registry

	cancel  context.CancelFunc
	done    chan error
	closers []func() error
}

// loadConfig reads the configured file, or returns defaults.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// setupLogging installs the default slog handler on stderr. --verbose
// forces debug level.
func setupLogging(opts *RootOptions, cfg *config.Config, cmd *cobra.Command) {
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// selectProfile picks the connection profile for the command: --conn, then
// --instance, then the only profile in the file.
func selectProfile(opts *RootOptions, cfg *config.Config) (config.Connection, error) {
	switch {
	case opts.Conn != "":
		p, ok := cfg.Connection(opts.Conn)
		if !ok {
			return config.Connection{}, NewExitError(ExitCommandError, fmt.Sprintf("unknown connection profile %q", opts.Conn))
		}
		return p, nil
	case opts.Instance != "":
		return config.Connection{Name: opts.Instance, Instance: opts.Instance}, nil
	case len(cfg.Connections) == 1:
		return cfg.Connections[0], nil
	default:
		return config.Connection{}, NewExitError(ExitCommandError, "no connection selected: use --conn or --instance")
	}
}

// openSession loads configuration, starts a client event loop and connects
// the selected profile. The caller must call close.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	setupLogging(opts, cfg, cmd)

	profile, err := selectProfile(opts, cfg)
	if err != nil {
		return nil, err
	}
	settings := cfg.Settings(profile)
	if opts.WorkerURL != "" {
		settings.WorkerURL = opts.WorkerURL
	}

	s := &session{cfg: cfg, done: make(chan error, 1)}

	creds, closeCreds, err := cfg.OpenCredentialStore()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open credential store", err)
	}
	s.closers = append(s.closers, closeCreds)

	s.registry = prometheus.NewRegistry()
	m, err := metrics.New(s.registry)
	if err != nil {
		s.closeResources()
		return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	clientOpts := []client.Option{
		client.WithMetrics(m),
		client.WithCredentialStore(creds),
		client.WithCallTimeout(cfg.CallTimeout),
		client.WithErrorHandler(func(err error) {
			slog.Error("worker channel error", "error", err)
		}),
	}
	if opts.Dialer != nil {
		clientOpts = append(clientOpts, client.WithDialer(opts.Dialer))
	}
	s.client = client.New(clientOpts...)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		s.done <- s.client.Run(runCtx)
	}()

	slog.Info("connecting", "instance", settings.Instance, "worker", settings.WorkerURL)
	conn, err := s.client.Connect(ctx, settings)
	if err != nil {
		s.close()
		return nil, WrapExitError(ExitCommandError, "failed to connect", err)
	}
	s.conn = conn
	return s, nil
}

// close stops the event loop and releases the channel and credential store.
func (s *session) close() {
	s.cancel()
	<-s.done
	if err := s.client.Close(); err != nil {
		slog.Error("error closing client", "error", err)
	}
	s.closeResources()
}

func (s *session) closeResources() {
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			slog.Error("error closing resource", "error", err)
		}
	}
	s.closers = nil
}

// signalContext derives a context that is cancelled on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
