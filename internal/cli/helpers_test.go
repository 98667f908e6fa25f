package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/roach88/fqlsync/internal/channel"
	"github.com/roach88/fqlsync/internal/testutil"
)

// executeWithWorker runs the root command against an in-process worker and
// returns stdout and the command error.
func executeWithWorker(t *testing.T, worker *testutil.ScriptedWorker, args ...string) (string, error) {
	t.Helper()

	opts := &RootOptions{}
	if worker != nil {
		opts.Dialer = channel.PipeDialer{Worker: worker}
	}
	cmd := newRootCommand(opts)

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		t.Logf("stderr:\n%s", errOut.String())
	}
	return out.String(), err
}
