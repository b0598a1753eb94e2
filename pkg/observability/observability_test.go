package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStdoutExporter(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Environment = "test"
	cfg.Output = &out
	cfg.BatchTimeout = 10 * time.Millisecond

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "node.READER")
	span.SetAttribute("node.type", "reader")
	span.SetAttribute("records", int64(3))
	span.Finish(errors.New(errors.ErrorTypeIO, "disk gone"))

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "node.READER")
	assert.Contains(t, out.String(), "disk gone")
	assert.Contains(t, out.String(), "error.type")
}

func TestToAttribute(t *testing.T) {
	assert.Equal(t, int64(7), toAttribute("n", uint64(7)).Value.AsInt64())
	assert.Equal(t, "config", toAttribute("t", errors.ErrorTypeConfig).Value.AsString())
	assert.Equal(t, "[1 2]", toAttribute("s", []int{1, 2}).Value.AsString())
}

func TestUnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"
	_, err := Init(context.Background(), cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
