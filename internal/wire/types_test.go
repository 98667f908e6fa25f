package wire

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_MarshalJSON_NilParams(t *testing.T) {
	data, err := json.Marshal(Request{ConnectionID: 1, Action: ActionLogout, Reference: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"conn":1,"action":"logout","ref":4,"params":[]}`, string(data))
}

func TestRequest_MarshalJSON_OmitsZeroRef(t *testing.T) {
	data, err := json.Marshal(Request{ConnectionID: 0, Action: ActionConnect, Parameters: []any{"x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"conn":0,"action":"connect","params":["x"]}`, string(data))
}

func TestRequest_Canonical_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	req := Request{
		ConnectionID: 2,
		Action:       ActionRegisterQuery,
		Reference:    5,
		Parameters: []any{
			int64(5),
			map[string]any{
				"vars":  []any{"userId"},
				"graph": []any{[]any{"person", map[string]any{"as": "p"}}},
			},
			map[string]any{"vars": map[string]any{"userId": 12}},
		},
	}

	data, err := req.Canonical()
	require.NoError(t, err)
	g.Assert(t, "register_query", data)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event":"setState","conn":3,"ref":9,"data":{"status":"loaded"}}`))
	require.NoError(t, err)

	assert.Equal(t, EventSetState, ev.Name)
	assert.Equal(t, 3, ev.ConnectionID)
	assert.Equal(t, int64(9), ev.Reference)
	assert.JSONEq(t, `{"status":"loaded"}`, string(ev.Data))
}

func TestDecodeEvent_Errors(t *testing.T) {
	_, err := DecodeEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"conn":1}`))
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		status  int
		message string
		body    string
	}{
		{"full", `{"status":200,"message":"ok","body":{"user":1}}`, 200, "ok", `{"user":1}`},
		{"status only", `{"status":401}`, 401, "", ""},
		{"string status ignored", `{"status":"bad"}`, 0, "", ""},
		{"not an object", `[1,2]`, 0, "", ""},
		{"empty", ``, 0, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseReply(json.RawMessage(tt.data))
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.message, r.Message)
			assert.Equal(t, tt.body, string(r.Body))
			assert.Equal(t, tt.data, string(r.Raw))
		})
	}
}

func TestReply_DecodeBody(t *testing.T) {
	r := ParseReply(json.RawMessage(`{"status":200,"body":{"token":"abc"}}`))

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, r.DecodeBody(&body))
	assert.Equal(t, "abc", body.Token)

	assert.Error(t, Reply{}.DecodeBody(&body))
}

func TestStatusClasses(t *testing.T) {
	assert.True(t, IsSuccess(200))
	assert.True(t, IsSuccess(204))
	assert.False(t, IsSuccess(301))
	assert.False(t, IsSuccess(401))

	assert.True(t, IsAuthFailure(401))
	assert.True(t, IsAuthFailure(403))
	assert.False(t, IsAuthFailure(400))
	assert.False(t, IsAuthFailure(500))
}
