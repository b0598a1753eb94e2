package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewConsole(t *testing.T) {
	l, err := New(Config{Level: "debug", Encoding: "console", Development: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestFromContextAddsRunFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := context.WithValue(context.Background(), RunIDKey, "r1")
	ctx = context.WithValue(ctx, NodeKey, "READ")
	FromContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "r1", fields["run_id"])
	assert.Equal(t, "READ", fields["node"])
	assert.NotContains(t, fields, "graph")
}

func TestFromContextWithoutValues(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestSetAndGet(t *testing.T) {
	prev := Get()
	t.Cleanup(func() { Set(prev) })

	l := zap.NewNop()
	Set(l)
	assert.Same(t, l, Get())
	assert.NoError(t, Sync())
}
