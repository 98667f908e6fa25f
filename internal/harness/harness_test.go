package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{
		"login_then_query",
		"unauthorized_broadcast",
		"time_override",
		"unmount_race",
		"prop_change",
		"remember_me",
	} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_BuffersUntilInit(t *testing.T) {
	scenario, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	// No connInit was emitted, so the connect request never left the queue.
	assert.False(t, result.Pass)
	assert.Empty(t, result.Requests())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "0 occurrences")
}

func TestRun_TraceOrder(t *testing.T) {
	result, err := Run(loadTestScenario(t, "login_then_query"))
	require.NoError(t, err)

	var kinds []string
	for _, ev := range result.Trace {
		if ev.Type == KindRequest {
			kinds = append(kinds, "->"+ev.Action)
		} else {
			kinds = append(kinds, "<-"+ev.Event)
		}
	}
	assert.Equal(t, []string{
		"<-connInit",
		"->connect",
		"<-connStatus",
		"->registerQuery",
		"<-setState",
		"->login",
		"<-login",
	}, kinds)

	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario := loadTestScenario(t, "unmount_race")
	scenario.Assertions = []Assertion{
		{Type: AssertComponentState, Component: "inbox", Expect: map[string]any{"status": "loaded"}},
		{Type: AssertRequestCount, Action: "registerQuery", Count: 3},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "component_state")
	assert.Contains(t, result.Errors[1], "3 occurrences of registerQuery")
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantErr string
	}{
		{
			name:    "login before connect",
			steps:   []Step{{Login: &LoginStep{Conn: "chat"}}},
			wantErr: `connection "chat" is not connected`,
		},
		{
			name:    "double connect",
			steps:   []Step{{Connect: "chat"}, {Connect: "chat"}},
			wantErr: `connection "chat" already connected`,
		},
		{
			name:    "bad time",
			steps:   []Step{{Connect: "chat"}, {ForceTime: &ForceTimeStep{Conn: "chat", Time: "yesterday"}}},
			wantErr: "force_time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := ParseScenario([]byte(minimalScenario))
			require.NoError(t, err)
			scenario.Steps = tt.steps

			_, err = Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTargetConn(t *testing.T) {
	result, err := Run(loadTestScenario(t, "remember_me"))
	require.NoError(t, err)

	var statuses []int
	for _, ev := range result.Trace {
		if ev.Event == "connStatus" {
			statuses = append(statuses, ev.Conn)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, statuses, "connect replies are addressed to the new connection")
}
