package plugin

import (
	"testing"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func ids(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestSortIsTopologicalAndDeterministic(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(Descriptor{ID: "writers", Requires: []string{"formats"}}))
	require.NoError(t, r.Register(Descriptor{ID: "formats", Requires: []string{"core"}}))
	require.NoError(t, r.Register(Descriptor{ID: "core"}))
	require.NoError(t, r.Register(Descriptor{ID: "aaa-extra"}))
	require.NoError(t, r.Register(Descriptor{ID: "readers", Requires: []string{"formats", "core"}}))

	for i := 0; i < 5; i++ {
		order, err := r.Sort()
		require.NoError(t, err)
		assert.Equal(t, []string{"aaa-extra", "core", "formats", "readers", "writers"}, ids(order))
	}
}

func TestSortErrors(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Descriptor{ID: "a", Requires: []string{"missing"}}))
	_, err := r.Sort()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	r = NewRegistry(nil)
	require.NoError(t, r.Register(Descriptor{ID: "a", Requires: []string{"b"}}))
	require.NoError(t, r.Register(Descriptor{ID: "b", Requires: []string{"a"}}))
	require.NoError(t, r.Register(Descriptor{ID: "c"}))
	_, err = r.Sort()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a, b")

	assert.Error(t, r.Register(Descriptor{ID: "c"}))
	assert.Error(t, r.Register(Descriptor{ID: " "}))
}

func TestActivateAll(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	var order []string
	record := func(id string) func(*Context) error {
		return func(ctx *Context) error {
			order = append(order, id)
			return ctx.Components.Register(id, func(string, graph.Properties) (graph.Node, error) { return nil, nil })
		}
	}
	require.NoError(t, r.Register(Descriptor{ID: "two", Requires: []string{"one"}, Activate: record("two")}))
	require.NoError(t, r.Register(Descriptor{ID: "one", Version: "1.0", Activate: record("one")}))

	components := graph.NewRegistry()
	require.NoError(t, r.ActivateAll(components))
	assert.Equal(t, []string{"one", "two"}, order)
	assert.Equal(t, []string{"one", "two"}, components.Types())

	info, ok := r.Lookup("one")
	require.True(t, ok)
	assert.Equal(t, StateActive, info.State)
	assert.Equal(t, "1.0", info.Version)

	// already active plugins are not activated twice
	require.NoError(t, r.ActivateAll(components))
	assert.Len(t, order, 2)
}

func TestActivationFailure(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Descriptor{ID: "bad", Activate: func(*Context) error { panic("nope") }}))
	require.NoError(t, r.Register(Descriptor{ID: "later", Requires: []string{"bad"}}))

	err := r.ActivateAll(graph.NewRegistry())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	info, _ := r.Lookup("bad")
	assert.Equal(t, StateFailed, info.State)
	info, _ = r.Lookup("later")
	assert.Equal(t, StateRegistered, info.State)
	assert.Len(t, r.List(), 2)
}
