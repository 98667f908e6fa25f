package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fqlsync/internal/channel"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is the configuration file path. Empty means defaults.
	Config string

	// Conn selects a connection profile from the config file.
	Conn string

	// Instance connects to an instance without a profile.
	Instance string

	// WorkerURL overrides the configured worker URL.
	WorkerURL string

	// Dialer overrides the websocket dialer (for testing).
	Dialer channel.Dialer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fqlsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fqlsync",
		Short: "fqlsync - query synchronization client",
		Long:  "Drive an FQL worker from the command line: run queries, invoke actions, log in and replay scenarios.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.Conn, "conn", "", "connection profile name")
	cmd.PersistentFlags().StringVar(&opts.Instance, "instance", "", "instance to connect to without a profile")
	cmd.PersistentFlags().StringVar(&opts.WorkerURL, "worker-url", "", "worker websocket URL")

	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewForgetCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
