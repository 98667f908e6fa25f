package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fqlsync/internal/client"
	"github.com/roach88/fqlsync/internal/wire"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Password string
	Remember bool
	Timeout  time.Duration
}

// LoginOutput is the printable result of a successful login.
type LoginOutput struct {
	User          any  `json:"user,omitempty"`
	Authenticated bool `json:"authenticated"`
	Remembered    bool `json:"remembered"`
}

// String renders the login for text output.
func (o LoginOutput) String() string {
	s := fmt.Sprintf("logged in as %v", o.User)
	if !o.Authenticated {
		s = "logged in anonymously"
	}
	if o.Remembered {
		s += " (remembered)"
	}
	return s
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log a connection in",
		Long: `Log in with a username and password and print the resulting identity.

With --remember the identity is stored in the configured credential store
and restored by later commands connecting to the same instance.

Example:
  fqlsync login ann --password secret --remember --config fqlsync.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Password, "password", "", "password")
	cmd.Flags().BoolVar(&opts.Remember, "remember", false, "remember the login")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for the reply")

	return cmd
}

func runLogin(opts *LoginOptions, username string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	cb, replies := replyChannel()
	s.conn.Login(client.Credentials{Username: username, Password: opts.Password}, cb, opts.Remember)

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	reply, err := awaitReply(waitCtx, replies, "login")
	if err != nil {
		return err
	}

	if !wire.IsSuccess(reply.Status) {
		return outputReply(formatter, "login", reply)
	}
	return formatter.Success(LoginOutput{
		User:          s.conn.User(),
		Authenticated: s.conn.IsAuthenticated(),
		Remembered:    opts.Remember,
	})
}
