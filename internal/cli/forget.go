package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fqlsync/internal/credstore"
)

// ForgetOptions holds flags for the forget command.
type ForgetOptions struct {
	*RootOptions
	All bool
}

// ForgetOutput lists the instances whose remembered login was removed.
type ForgetOutput struct {
	Forgotten []string `json:"forgotten"`
}

// String renders the result for text output.
func (o ForgetOutput) String() string {
	if len(o.Forgotten) == 0 {
		return "no remembered logins"
	}
	return "forgot " + strings.Join(o.Forgotten, ", ")
}

// NewForgetCommand creates the forget command.
func NewForgetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForgetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "forget [instance]...",
		Short: "Remove remembered logins from the credential store",
		Long: `Remove logins stored by "login --remember" from the configured credential
store. Without arguments the selected connection's instance is forgotten;
with --all every remembered login is.

Example:
  fqlsync forget --config fqlsync.yaml --all
  fqlsync forget acme/chat`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForget(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "forget every remembered login")

	return cmd
}

func runForget(opts *ForgetOptions, instances []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(opts.RootOptions, cfg, cmd)

	store, closeStore, err := cfg.OpenCredentialStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open credential store", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Error("error closing credential store", "error", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch {
	case opts.All:
		instances, err = rememberedInstances(ctx, store)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list credentials", err)
		}
	case len(instances) == 0:
		profile, err := selectProfile(opts.RootOptions, cfg)
		if err != nil {
			return err
		}
		instances = []string{profile.Instance}
	}

	out := ForgetOutput{Forgotten: []string{}}
	for _, instance := range instances {
		if err := store.Delete(ctx, credstore.LoginKey(instance)); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to forget %s", instance), err)
		}
		slog.Debug("remembered login removed", "instance", instance)
		out.Forgotten = append(out.Forgotten, instance)
	}
	return formatter.Success(out)
}

// rememberedInstances returns the instances with a stored login, oldest
// first.
func rememberedInstances(ctx context.Context, store credstore.Store) ([]string, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var instances []string
	for _, key := range keys {
		if instance, ok := credstore.LoginInstance(key); ok {
			instances = append(instances, instance)
		}
	}
	return instances, nil
}
