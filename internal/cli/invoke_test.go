package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fqlsync/internal/testutil"
	"github.com/roach88/fqlsync/internal/wire"
)

func TestInvokeCommand_Success(t *testing.T) {
	worker := testutil.NewScriptedWorker(true)
	worker.On(wire.ActionRemoteInvoke, testutil.Respond(wire.EventRemoteInvoke, 200, map[string]any{"sent": true}))

	out, err := executeWithWorker(t, worker,
		"--instance", "acme/chat", "--format", "json",
		"invoke", "sendMessage", "--params", `{"text":"hi"}`)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(200), data["status"])
	assert.Equal(t, map[string]any{"sent": true}, data["body"])

	reqs := worker.RequestsFor(wire.ActionRemoteInvoke)
	require.Len(t, reqs, 1)
	assert.NotZero(t, reqs[0].Reference)
	params, err := json.Marshal(reqs[0].Parameters)
	require.NoError(t, err)
	assert.JSONEq(t, `[["sendMessage",{"text":"hi"}]]`, string(params))
}

func TestInvokeCommand_FailureStatus(t *testing.T) {
	worker := testutil.NewScriptedWorker(true)
	worker.On(wire.ActionRemoteInvoke, testutil.Respond(wire.EventRemoteInvoke, 403, nil))

	out, err := executeWithWorker(t, worker, "--instance", "acme/chat", "invoke", "sendMessage")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeReplyFailed+"]")
	assert.Contains(t, out, "status 403")
}

func TestInvokeCommand_NoReply(t *testing.T) {
	worker := testutil.NewScriptedWorker(true)

	_, err := executeWithWorker(t, worker,
		"--instance", "acme/chat", "invoke", "sendMessage", "--timeout", "50ms")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no reply to sendMessage")
}

func TestInvokeCommand_BadParams(t *testing.T) {
	_, err := executeWithWorker(t, testutil.NewScriptedWorker(true),
		"--instance", "acme/chat", "invoke", "sendMessage", "--params", "{not json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --params JSON")
}

func TestInvokeCommand_NoConnectionSelected(t *testing.T) {
	_, err := executeWithWorker(t, testutil.NewScriptedWorker(true), "invoke", "sendMessage")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no connection selected")
}
