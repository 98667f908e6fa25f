package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct {
	patches []State
}

func (f *fakeInstance) ApplyState(patch State) {
	f.patches = append(f.patches, patch)
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry()
	inst := &fakeInstance{}
	r.Register(7, 1, inst)

	ok := r.Dispatch(7, State{"status": "loaded"})
	require.True(t, ok)
	require.Len(t, inst.patches, 1)
	assert.Equal(t, "loaded", inst.patches[0]["status"])
}

func TestRegistry_DispatchAfterUnregisterIsDropped(t *testing.T) {
	r := NewRegistry()
	inst := &fakeInstance{}
	r.Register(7, 1, inst)

	var dropped []int64
	r.OnDrop = func(id int64) { dropped = append(dropped, id) }

	require.True(t, r.Unregister(7))

	assert.NotPanics(t, func() {
		assert.False(t, r.Dispatch(7, State{"status": "loaded"}))
	})
	assert.Empty(t, inst.patches)
	assert.Equal(t, []int64{7}, dropped)
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unregister(99))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	first := &fakeInstance{}
	second := &fakeInstance{}
	r.Register(1, 1, first)
	r.Register(1, 1, second)

	r.Dispatch(1, State{"x": 1})

	assert.Empty(t, first.patches)
	assert.Len(t, second.patches, 1)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EachFiltersByConnection(t *testing.T) {
	r := NewRegistry()
	r.Register(3, 1, &fakeInstance{})
	r.Register(1, 1, &fakeInstance{})
	r.Register(2, 2, &fakeInstance{})

	var ids []int64
	r.Each(1, func(id int64, _ Instance) { ids = append(ids, id) })

	assert.Equal(t, []int64{1, 3}, ids)
}

func TestRegistry_EachAllowsMutation(t *testing.T) {
	r := NewRegistry()
	r.Register(1, 1, &fakeInstance{})
	r.Register(2, 1, &fakeInstance{})

	assert.NotPanics(t, func() {
		r.Each(1, func(id int64, _ Instance) {
			r.Unregister(id)
			r.Register(id+100, 1, &fakeInstance{})
		})
	})
	assert.Equal(t, 2, r.Len())
}
