package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_Valid(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  bool
	}{
		{"array graph", MustParse(`[["person", {}]]`), true},
		{"object graph", MustParse(`{"graph": [["person", {}]]}`), true},
		{"empty array", MustParse(`[]`), false},
		{"object with empty graph", MustParse(`{"graph": []}`), false},
		{"object without graph", MustParse(`{"vars": ["x"]}`), false},
		{"graph not an array", MustParse(`{"graph": "person"}`), false},
		{"string", MustParse(`"person"`), false},
		{"null", MustParse(`null`), false},
		{"absent", Query{}, false},
		{"typed go value", From([][]any{{"person", map[string]any{}}}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Valid())
		})
	}
}

func TestQuery_IsZero(t *testing.T) {
	assert.True(t, Query{}.IsZero())
	assert.True(t, From(nil).IsZero())
	assert.True(t, MustParse(`null`).IsZero())
	assert.False(t, MustParse(`[]`).IsZero())
}

func TestQuery_DefaultResult(t *testing.T) {
	q := MustParse(`[["person", {"as": "p"}], ["post", {}]]`)

	assert.Equal(t, map[string]any{"p": nil, "post": nil}, q.DefaultResult())
}

func TestQuery_DefaultResultObjectQuery(t *testing.T) {
	q := MustParse(`{"graph": [["_user", {"as": "me"}], ["chat", {"limit": 10}]], "vars": ["userId"]}`)

	assert.Equal(t, map[string]any{"me": nil, "chat": nil}, q.DefaultResult())
}

func TestQuery_DefaultResultSkipsMalformedEntries(t *testing.T) {
	q := MustParse(`[["person"], "junk", [42, {}], ["post", "not-options"]]`)

	assert.Equal(t, map[string]any{"person": nil, "post": nil}, q.DefaultResult())
}

func TestQuery_DefaultResultInvalid(t *testing.T) {
	assert.Empty(t, Query{}.DefaultResult())
	assert.Empty(t, MustParse(`{"graph": 1}`).DefaultResult())
}

func TestQuery_Vars(t *testing.T) {
	q := MustParse(`{"graph": [["person", {}]], "vars": ["userId", 7, "currentUser"]}`)
	assert.Equal(t, []string{"userId", "currentUser"}, q.Vars())

	assert.Nil(t, MustParse(`[["person", {}]]`).Vars())
}

func TestMissing(t *testing.T) {
	q := MustParse(`{"graph": [["person", {}]], "vars": ["userId", "currentUser", "limit", "cleared"]}`)

	missing := Missing(q, map[string]any{"limit": 10, "cleared": nil})

	assert.Equal(t, []Var{
		{Name: "userId", Source: FromProp},
		{Name: "currentUser", Source: FromIdentity},
		{Name: "cleared", Source: FromProp},
	}, missing)
	assert.Equal(t, []string{"userId", "currentUser", "cleared"}, Names(missing))
}

func TestFill(t *testing.T) {
	vars := map[string]any{"limit": 10}
	vs := []Var{
		{Name: "userId", Source: FromProp},
		{Name: "currentUser", Source: FromIdentity},
		{Name: "absent", Source: FromProp},
	}

	Fill(vars, vs, Props{"userId": 12}, "alice")

	assert.Equal(t, map[string]any{
		"limit":       10,
		"userId":      12,
		"currentUser": "alice",
		"absent":      nil,
	}, vars)
}

func TestVarSource_String(t *testing.T) {
	assert.Equal(t, "identity", FromIdentity.String())
	assert.Equal(t, "prop", FromProp.String())
}

func TestOptions_MarshalJSON(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 10_000_000, time.UTC)

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"empty", Options{}, `{"vars":{}}`},
		{"vars", Options{Vars: map[string]any{"userId": 12}}, `{"vars":{"userId":12}}`},
		{"force time", Options{ForceTime: &at}, `{"forceTime":"2024-05-06T07:08:09.010Z","vars":{}}`},
		{"force", Options{Force: true}, `{"force":true,"vars":{}}`},
		{"extra", Options{Extra: map[string]any{"limit": 5}}, `{"limit":5,"vars":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.opts)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestOptions_Clone(t *testing.T) {
	at := time.Unix(1700000000, 0)
	orig := Options{Vars: map[string]any{"a": 1}, ForceTime: &at}

	c := orig.Clone()
	c.Vars["a"] = 2
	*c.ForceTime = time.Unix(0, 0)

	assert.Equal(t, 1, orig.Vars["a"])
	assert.Equal(t, int64(1700000000), orig.ForceTime.Unix())

	assert.NotNil(t, Options{}.Clone().Vars)
}

func TestSource(t *testing.T) {
	static := Static(MustParse(`[["person", {}]]`))
	assert.False(t, static.IsFunc())
	assert.True(t, static.Eval(nil, Context{}).Valid())

	dynamic := Dynamic(func(props Props, ctx Context) Query {
		if props["id"] == nil {
			return Query{}
		}
		return From([]any{[]any{"person", map[string]any{"id": props["id"]}}})
	})
	assert.True(t, dynamic.IsFunc())
	assert.True(t, dynamic.Eval(Props{}, Context{}).IsZero())
	assert.True(t, dynamic.Eval(Props{"id": 1}, Context{}).Valid())
}

func TestValidate(t *testing.T) {
	assert.Nil(t, Validate(Query{}))
	assert.Nil(t, Validate(MustParse(`[["person", {}]]`)))

	err := Validate(MustParse(`{"graph":[]}`))
	require.NotNil(t, err)
	assert.Equal(t, 400, err.Status)
	assert.Equal(t, `Query is not valid: {"graph":[]}`, err.Message)
	assert.Equal(t, `400: Query is not valid: {"graph":[]}`, err.Error())
}
