package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/token"
)

const ordersYAML = `
name: orders
metadata:
  order:
    type: delimited
    fields:
      - {name: id, type: long, delimiter: ","}
      - {name: customer, type: string, delimiter: "\n"}
nodes:
  - id: READ
    type: source
    properties: {file_url: "${ORDERS_INPUT:-orders.csv}", skip_rows: 1, header: true}
  - id: WRITE
    type: sink
    phase: 1
edges:
  - {from: "READ:0", to: "WRITE", metadata: order, capacity: 8}
tracking: {enabled: true, sink: log}
`

type stub struct {
	*graph.BaseNode
}

func newStub(id, typ string, ports graph.PortSpec) *stub {
	return &stub{graph.NewBaseNode(id, typ, ports)}
}

func (s *stub) Execute(context.Context) graph.Result { return graph.OK() }

func registry(t *testing.T, created map[string]graph.Properties) *graph.Registry {
	t.Helper()
	reg := graph.NewRegistry()
	require.NoError(t, reg.Register("source", func(id string, props graph.Properties) (graph.Node, error) {
		created[id] = props
		return newStub(id, "source", graph.PortSpec{MinOutputs: 1, MaxOutputs: 1}), nil
	}))
	require.NoError(t, reg.Register("sink", func(id string, props graph.Properties) (graph.Node, error) {
		created[id] = props
		return newStub(id, "sink", graph.PortSpec{MinInputs: 1, MaxInputs: 1}), nil
	}))
	return reg
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("QUASAR_TEST_BUCKET", "raw")
	assert.Equal(t, "s3://raw/in", substituteEnvVars("s3://${QUASAR_TEST_BUCKET}/in"))
	assert.Equal(t, "a=x, b=", substituteEnvVars("a=${QUASAR_TEST_UNSET:-x}, b=${QUASAR_TEST_UNSET}"))
	assert.Equal(t, "open ${", substituteEnvVars("open ${"))
}

func TestParseGraphAndBuild(t *testing.T) {
	t.Setenv("ORDERS_INPUT", "s3://bucket/orders.csv")
	cfg, err := ParseGraph([]byte(ordersYAML))
	require.NoError(t, err)
	assert.Equal(t, "order", cfg.Metadata["order"].Name, "metadata name defaults to its key")

	created := map[string]graph.Properties{}
	g, err := cfg.Build(registry(t, created), 0)
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	assert.Equal(t, graph.Properties{"file_url": "s3://bucket/orders.csv", "skip_rows": "1", "header": "true"}, created["READ"])
	assert.Equal(t, []int{0, 1}, g.Phases())
	require.Len(t, g.Edges(), 1)
	assert.Equal(t, "order", g.Edges()[0].Metadata().Name)
}

func TestGraphValidation(t *testing.T) {
	tests := map[string]string{
		"no name":         "nodes: [{id: A, type: source}]",
		"no nodes":        "name: g",
		"duplicate node":  "name: g\nnodes: [{id: A, type: source}, {id: A, type: sink}]",
		"unknown meta":    "name: g\nnodes: [{id: A, type: source}]\nedges: [{from: A, to: B, metadata: nope}]",
		"bad metadata":    "name: g\nmetadata: {m: {fields: []}}\nnodes: [{id: A, type: source}]",
		"unknown sink":    "name: g\nnodes: [{id: A, type: source}]\ntracking: {sink: kafka}",
		"json needs path": "name: g\nnodes: [{id: A, type: source}]\ntracking: {enabled: true, sink: json}",
		"bad yaml":        "name: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGraph([]byte(doc))
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "%v", err)
		})
	}
}

func TestBuildReportsUnknownType(t *testing.T) {
	cfg, err := ParseGraph([]byte("name: g\nnodes: [{id: A, type: mystery}]"))
	require.NoError(t, err)
	_, err = cfg.Build(registry(t, map[string]graph.Properties{}), 16)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoadGraphFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ordersYAML), 0o644))
	cfg, err := LoadGraph(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Nodes, 2)

	_, err = LoadGraph(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestTrackingLineage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineage.jsonl")
	l, err := TrackingConfig{Enabled: true, Sink: SinkJSON, Path: path}.NewLineage(zaptest.NewLogger(t))
	require.NoError(t, err)

	tr := token.NewTracker(l, "READER")
	tok := token.New(nil)
	require.NoError(t, tr.InitToken(tok))
	require.NoError(t, tr.FreeToken(tok))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	l, err = TrackingConfig{History: true}.NewLineage(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Live())
}

func TestLoadRuntime(t *testing.T) {
	t.Setenv("QUASAR_LOG_LEVEL", "debug")
	t.Setenv("QUASAR_ENGINE_MEMORY_INTERVAL", "5s")
	t.Setenv("QUASAR_TRACING_ENABLED", "true")

	cfg, err := LoadRuntime(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.Engine.MemoryInterval)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, graph.DefaultEdgeCapacity, cfg.Engine.EdgeCapacity)
}

func TestLoadRuntimeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quasar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: console\nengine:\n  edge_capacity: 64\n"), 0o644))
	cfg, err := LoadRuntime(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 64, cfg.Engine.EdgeCapacity)
}

func TestRuntimeValidation(t *testing.T) {
	for name, mutate := range map[string]func(*RuntimeConfig){
		"level":    func(c *RuntimeConfig) { c.Log.Level = "loud" },
		"format":   func(c *RuntimeConfig) { c.Log.Format = "xml" },
		"sampling": func(c *RuntimeConfig) { c.Tracing.SampleRate = 2 },
		"capacity": func(c *RuntimeConfig) { c.Engine.EdgeCapacity = 0 },
		"interval": func(c *RuntimeConfig) { c.Engine.MemoryInterval = -time.Second },
	} {
		cfg := NewRuntimeConfig()
		mutate(cfg)
		assert.True(t, errors.IsType(cfg.Validate(), errors.ErrorTypeConfig), name)
	}
	assert.NoError(t, NewRuntimeConfig().Validate())
}
