package binding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fqlsync/internal/callback"
	"github.com/roach88/fqlsync/internal/component"
	"github.com/roach88/fqlsync/internal/query"
)

type registration struct {
	id   int64
	q    query.Query
	opts query.Options
}

type fakeConn struct {
	nextID   int64
	user     any
	at       *time.Time
	calls    []string
	regs     []registration
	unregs   []int64
	attached map[int64]component.Instance
	invoked  []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{attached: make(map[int64]component.Instance)}
}

func (c *fakeConn) ID() int          { return 1 }
func (c *fakeConn) Instance() string { return "acme/test" }
func (c *fakeConn) User() any        { return c.user }
func (c *fakeConn) Time() *time.Time { return c.at }
func (c *fakeConn) NewComponentID() int64 {
	c.nextID++
	return c.nextID
}

func (c *fakeConn) Invoke(action string, params any, cb callback.Func) {
	c.invoked = append(c.invoked, action)
}

func (c *fakeConn) Attach(id int64, inst component.Instance) {
	c.calls = append(c.calls, "attach")
	c.attached[id] = inst
}

func (c *fakeConn) Detach(id int64) {
	c.calls = append(c.calls, "detach")
	delete(c.attached, id)
}

func (c *fakeConn) RegisterQuery(id int64, q query.Query, opts query.Options) {
	c.calls = append(c.calls, "register")
	c.regs = append(c.regs, registration{id: id, q: q, opts: opts})
}

func (c *fakeConn) UnregisterQuery(id int64) {
	c.calls = append(c.calls, "unregister")
	c.unregs = append(c.unregs, id)
}

type renderLog struct {
	frames []Data
}

func (r *renderLog) render(d Data) { r.frames = append(r.frames, d) }

func (r *renderLog) last() Data { return r.frames[len(r.frames)-1] }

var personQuery = query.MustParse(`[["person", {"as": "p"}], ["post", {}]]`)

func TestNew_RequiresConnection(t *testing.T) {
	_, err := New(nil, query.Static(personQuery), query.Options{}, nil, func(Data) {})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrCodeNoConnection, ce.Code)
}

func TestNewProvider_RequiresConnection(t *testing.T) {
	_, err := NewProvider(nil)
	assert.True(t, IsConfigError(err))

	var p *Provider
	_, err = p.Bind(query.Static(personQuery), query.Options{}, nil, func(Data) {})
	assert.True(t, IsConfigError(err))
}

func TestMount_RegistersValidQuery(t *testing.T) {
	conn := newFakeConn()
	r := &renderLog{}
	b, err := New(conn, query.Static(personQuery), query.Options{}, nil, r.render)
	require.NoError(t, err)
	assert.Equal(t, Unbound, b.Lifecycle())

	b.Mount()

	assert.Equal(t, Registered, b.Lifecycle())
	assert.Equal(t, []string{"attach", "register"}, conn.calls)
	require.Len(t, conn.regs, 1)
	assert.Equal(t, b.ID(), conn.regs[0].id)

	data := r.last()
	assert.Equal(t, map[string]any{"p": nil, "post": nil}, data.Result)
	assert.Equal(t, StatusPending, data.Status)
	assert.True(t, data.Loading)
	assert.Nil(t, data.Error)
	assert.Empty(t, data.Warning)
}

func TestMount_AbsentQueryWarns(t *testing.T) {
	conn := newFakeConn()
	r := &renderLog{}
	b, err := New(conn, query.Static(query.Query{}), query.Options{}, nil, r.render)
	require.NoError(t, err)

	b.Mount()

	assert.Equal(t, Pending, b.Lifecycle())
	assert.Equal(t, []string{"attach"}, conn.calls)
	assert.Equal(t, WarningNoQuery, r.last().Warning)
	assert.Nil(t, r.last().Error)
}

func TestMount_InvalidQueryErrors(t *testing.T) {
	conn := newFakeConn()
	r := &renderLog{}
	b, err := New(conn, query.Static(query.MustParse(`{"graph":[]}`)), query.Options{}, nil, r.render)
	require.NoError(t, err)

	b.Mount()

	assert.Equal(t, Pending, b.Lifecycle())
	assert.Empty(t, conn.regs)

	verr, ok := r.last().Error.(*query.ValidationError)
	require.True(t, ok)
	assert.Equal(t, 400, verr.Status)
	assert.Equal(t, `Query is not valid: {"graph":[]}`, verr.Message)
}

func TestMount_ResolvesVariables(t *testing.T) {
	conn := newFakeConn()
	conn.user = []any{"_user/username", "alice"}
	q := query.MustParse(`{"graph": [["chat", {}]], "vars": ["userId", "currentUser", "limit"]}`)

	b, err := New(conn, query.Static(q),
		query.Options{Vars: map[string]any{"limit": 5}},
		query.Props{"userId": 12},
		func(Data) {})
	require.NoError(t, err)

	b.Mount()

	require.Len(t, conn.regs, 1)
	assert.Equal(t, map[string]any{
		"userId":      12,
		"currentUser": []any{"_user/username", "alice"},
		"limit":       5,
	}, conn.regs[0].opts.Vars)
	assert.Equal(t, []query.Var{
		{Name: "userId", Source: query.FromProp},
		{Name: "currentUser", Source: query.FromIdentity},
	}, b.ResolvedVars())
}

func TestMount_InjectsTimeOverride(t *testing.T) {
	conn := newFakeConn()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conn.at = &at

	b, err := New(conn, query.Static(personQuery), query.Options{}, nil, func(Data) {})
	require.NoError(t, err)
	b.Mount()

	require.Len(t, conn.regs, 1)
	require.NotNil(t, conn.regs[0].opts.ForceTime)
	assert.True(t, at.Equal(*conn.regs[0].opts.ForceTime))
}

func TestUpdateProps_StaticReRegistersOnlyOnRelevantChange(t *testing.T) {
	conn := newFakeConn()
	q := query.MustParse(`{"graph": [["person", {}]], "vars": ["userId", "orgId"]}`)

	b, err := New(conn, query.Static(q), query.Options{},
		query.Props{"userId": 1, "orgId": 7, "color": "red"}, func(Data) {})
	require.NoError(t, err)
	b.Mount()
	require.Len(t, conn.regs, 1)

	// Unrelated prop change
	b.UpdateProps(query.Props{"userId": 1, "orgId": 7, "color": "blue"})
	assert.Len(t, conn.regs, 1)

	// Relevant prop change refills every resolved variable
	b.UpdateProps(query.Props{"userId": 2, "orgId": 8, "color": "blue"})
	require.Len(t, conn.regs, 2)
	assert.Equal(t, b.ID(), conn.regs[1].id, "same component id is reused")
	assert.Equal(t, map[string]any{"userId": 2, "orgId": 8}, conn.regs[1].opts.Vars)
}

func TestUpdateProps_StaticIgnoresExplicitVars(t *testing.T) {
	conn := newFakeConn()
	q := query.MustParse(`{"graph": [["person", {}]], "vars": ["userId"]}`)

	b, err := New(conn, query.Static(q), query.Options{Vars: map[string]any{"userId": 1}},
		query.Props{"userId": 1}, func(Data) {})
	require.NoError(t, err)
	b.Mount()

	b.UpdateProps(query.Props{"userId": 2})
	assert.Len(t, conn.regs, 1)
}

func TestUpdateProps_FunctionQuery(t *testing.T) {
	conn := newFakeConn()
	r := &renderLog{}
	src := query.Dynamic(func(props query.Props, _ query.Context) query.Query {
		id, ok := props["id"]
		if !ok {
			return query.Query{}
		}
		if id == "bad" {
			return query.MustParse(`[]`)
		}
		return query.MustParse(`{"graph": [["person", {"as": "p"}]], "vars": ["id"]}`)
	})

	b, err := New(conn, src, query.Options{}, query.Props{}, r.render)
	require.NoError(t, err)
	b.Mount()
	assert.Equal(t, Pending, b.Lifecycle())
	assert.Equal(t, WarningNoQuery, r.last().Warning)

	b.UpdateProps(query.Props{"id": 1})
	assert.Equal(t, Registered, b.Lifecycle())
	require.Len(t, conn.regs, 1)
	assert.Equal(t, map[string]any{"id": 1}, conn.regs[0].opts.Vars)
	assert.Equal(t, map[string]any{"p": nil}, r.last().Result)
	assert.Empty(t, r.last().Warning)

	b.UpdateProps(query.Props{"id": 2})
	require.Len(t, conn.regs, 2)
	assert.Equal(t, map[string]any{"id": 2}, conn.regs[1].opts.Vars)

	b.UpdateProps(query.Props{"id": "bad"})
	assert.Len(t, conn.regs, 2)
	_, isValidation := r.last().Error.(*query.ValidationError)
	assert.True(t, isValidation)
}

func TestForceUpdate(t *testing.T) {
	conn := newFakeConn()
	r := &renderLog{}
	b, err := New(conn, query.Static(personQuery), query.Options{}, nil, r.render)
	require.NoError(t, err)
	b.Mount()

	r.last().ForceUpdate()

	require.Len(t, conn.regs, 2)
	assert.False(t, conn.regs[0].opts.Force)
	assert.True(t, conn.regs[1].opts.Force)
	assert.False(t, b.Options().Force, "force applies to one request only")
}

func TestRetime(t *testing.T) {
	conn := newFakeConn()
	b, err := New(conn, query.Static(personQuery), query.Options{}, nil, func(Data) {})
	require.NoError(t, err)
	b.Mount()

	at := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	b.Retime(&at)
	require.Len(t, conn.regs, 2)
	require.NotNil(t, conn.regs[1].opts.ForceTime)
	assert.True(t, at.Equal(*conn.regs[1].opts.ForceTime))

	b.Retime(nil)
	require.Len(t, conn.regs, 3)
	assert.Nil(t, conn.regs[2].opts.ForceTime)
}

func TestRetime_PendingDoesNotRegister(t *testing.T) {
	conn := newFakeConn()
	b, err := New(conn, query.Static(query.Query{}), query.Options{}, nil, func(Data) {})
	require.NoError(t, err)
	b.Mount()

	at := time.Now()
	b.Retime(&at)
	assert.Empty(t, conn.regs)
	assert.NotNil(t, b.Options().ForceTime)
}

func TestUnmount_UnregistersBeforeDetach(t *testing.T) {
	conn := newFakeConn()
	b, err := New(conn, query.Static(personQuery), query.Options{}, nil, func(Data) {})
	require.NoError(t, err)
	b.Mount()

	b.Unmount()

	assert.Equal(t, []string{"attach", "register", "unregister", "detach"}, conn.calls)
	assert.Equal(t, Unregistered, b.Lifecycle())
	assert.Empty(t, conn.attached)

	// Terminal
	b.Unmount()
	b.ForceUpdate()
	b.UpdateProps(query.Props{"x": 1})
	assert.Len(t, conn.calls, 4)
}

func TestApplyState(t *testing.T) {
	conn := newFakeConn()
	r := &renderLog{}
	b, err := New(conn, query.Static(personQuery), query.Options{}, nil, r.render)
	require.NoError(t, err)
	b.Mount()

	b.ApplyState(component.State{
		"result": map[string]any{"p": map[string]any{"name": "Ada"}, "post": []any{}},
		"status": StatusLoaded,
	})

	data := r.last()
	assert.False(t, data.Loading)
	assert.Equal(t, StatusLoaded, data.Status)
	assert.Equal(t, "Ada", data.Get([]any{"p", "name"}))

	b.ApplyState(component.State{"status": StatusError, "error": map[string]any{"status": 500}})
	assert.False(t, r.last().Loading)
	assert.Equal(t, map[string]any{"status": 500}, r.last().Error)
}

func TestData_Invoke(t *testing.T) {
	conn := newFakeConn()
	r := &renderLog{}
	b, err := New(conn, query.Static(personQuery), query.Options{}, nil, r.render)
	require.NoError(t, err)
	b.Mount()

	r.last().Invoke("sendMessage", []any{"hi"}, nil)
	assert.Equal(t, []string{"sendMessage"}, conn.invoked)
	assert.Equal(t, b.ID(), r.last().ID)
}
