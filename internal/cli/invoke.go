package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fqlsync/internal/wire"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Params  string
	Timeout time.Duration
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <action>",
		Short: "Invoke a remote action and print the reply",
		Long: `Invoke a remote action on the connection and wait for the worker's reply.

Exit codes:
  0 - The worker replied with a success status
  1 - The worker replied with a failure status
  2 - Command error (bad flags, unreachable worker, no reply in time)

Example:
  fqlsync invoke sendMessage --conn chat --params '{"text":"hi"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeAction(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Params, "params", "", "action parameters as JSON")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for the reply")

	return cmd
}

func invokeAction(opts *InvokeOptions, action string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	params, err := parseJSONFlag("params", opts.Params)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	cb, replies := replyChannel()
	s.conn.Invoke(action, params, cb)

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	reply, err := awaitReply(waitCtx, replies, action)
	if err != nil {
		return err
	}

	return outputReply(formatter, action, reply)
}

// outputReply prints a reply and maps a failure status to ExitFailure.
func outputReply(formatter *OutputFormatter, what string, reply wire.Reply) error {
	out := newReplyOutput(reply)
	if !wire.IsSuccess(reply.Status) {
		if err := formatter.Error(ErrCodeReplyFailed, fmt.Sprintf("%s failed with status %d", what, reply.Status), out); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s failed with status %d", what, reply.Status))
	}
	return formatter.Success(out)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
