package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/token"
)

// GraphConfig is the YAML definition of a graph
type GraphConfig struct {
	Name     string                        `yaml:"name" json:"name"`
	Metadata map[string]*metadata.Metadata `yaml:"metadata" json:"metadata"`
	Nodes    []NodeConfig                  `yaml:"nodes" json:"nodes"`
	Edges    []EdgeConfig                  `yaml:"edges" json:"edges"`
	Tracking TrackingConfig                `yaml:"tracking" json:"tracking"`
}

// NodeConfig declares one component instance
type NodeConfig struct {
	ID    string `yaml:"id" json:"id"`
	Type  string `yaml:"type" json:"type"`
	Phase int    `yaml:"phase" json:"phase"`
	// Properties are passed to the component factory as strings
	Properties map[string]interface{} `yaml:"properties" json:"properties"`
}

// EdgeConfig connects an output port to an input port. Ports are written
// as "node:port"; the port defaults to 0.
type EdgeConfig struct {
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to" json:"to"`
	Metadata string `yaml:"metadata" json:"metadata"`
	Capacity int    `yaml:"capacity,omitempty" json:"capacity,omitempty"`
}

// Tracking sinks
const (
	SinkNone = "none"
	SinkLog  = "log"
	SinkJSON = "json"
)

// TrackingConfig selects where token lineage events go
type TrackingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Sink    string `yaml:"sink" json:"sink"`
	// Path is the output file of the json sink
	Path string `yaml:"path" json:"path"`
	// History keeps events in memory for lineage queries
	History bool `yaml:"history" json:"history"`
}

// LoadGraph reads and validates a graph definition
func LoadGraph(path string) (*GraphConfig, error) {
	var cfg GraphConfig
	if err := Load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseGraph decodes and validates a graph definition
func ParseGraph(data []byte) (*GraphConfig, error) {
	var cfg GraphConfig
	if err := Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the definition without creating components. Metadata
// blocks without a name take their key.
func (c *GraphConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New(errors.ErrorTypeConfig, "graph name is required")
	}
	if len(c.Nodes) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "graph %s has no nodes", c.Name)
	}
	for _, key := range sortedKeys(c.Metadata) {
		m := c.Metadata[key]
		if m == nil {
			return errors.Newf(errors.ErrorTypeConfig, "metadata %s is empty", key)
		}
		if m.Name == "" {
			m.Name = key
		}
		if err := m.Validate(); err != nil {
			return err
		}
	}
	ids := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.ID == "" || n.Type == "" {
			return errors.Newf(errors.ErrorTypeConfig, "node %d needs an id and a type", i)
		}
		if ids[n.ID] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate node id %s", n.ID)
		}
		ids[n.ID] = true
	}
	for _, e := range c.Edges {
		if e.Metadata != "" {
			if _, ok := c.Metadata[e.Metadata]; !ok {
				return errors.Newf(errors.ErrorTypeConfig, "edge %s -> %s: unknown metadata %s", e.From, e.To, e.Metadata)
			}
		}
		if e.Capacity < 0 {
			return errors.Newf(errors.ErrorTypeConfig, "edge %s -> %s: negative capacity", e.From, e.To)
		}
	}
	switch c.Tracking.Sink {
	case "", SinkNone, SinkLog:
	case SinkJSON:
		if c.Tracking.Enabled && c.Tracking.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "json tracking sink needs a path")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown tracking sink %q", c.Tracking.Sink)
	}
	return nil
}

func sortedKeys(m map[string]*metadata.Metadata) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Props converts the node properties to the strings factories expect
func (n NodeConfig) Props() graph.Properties {
	props := make(graph.Properties, len(n.Properties))
	for k, v := range n.Properties {
		if v == nil {
			continue
		}
		props[k] = fmt.Sprint(v)
	}
	return props
}

// Build creates the components through reg and wires them. Edges without a
// capacity get defaultCapacity.
func (c *GraphConfig) Build(reg *graph.Registry, defaultCapacity int) (*graph.Graph, error) {
	if defaultCapacity <= 0 {
		defaultCapacity = graph.DefaultEdgeCapacity
	}
	g := graph.New(c.Name)
	for _, nc := range c.Nodes {
		n, err := reg.Create(nc.Type, nc.ID, nc.Props())
		if err != nil {
			return nil, err
		}
		if err := g.AddNode(n, nc.Phase); err != nil {
			return nil, err
		}
	}
	for _, ec := range c.Edges {
		from, err := graph.ParsePortRef(ec.From)
		if err != nil {
			return nil, err
		}
		to, err := graph.ParsePortRef(ec.To)
		if err != nil {
			return nil, err
		}
		capacity := ec.Capacity
		if capacity == 0 {
			capacity = defaultCapacity
		}
		var meta *metadata.Metadata
		if ec.Metadata != "" {
			meta = c.Metadata[ec.Metadata]
		}
		if _, err := g.Connect(from, to, meta, capacity); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// NewLineage creates the lineage store for a run. Disabled tracking still
// enforces the token contract; it only discards the events.
func (t TrackingConfig) NewLineage(logger *zap.Logger) (*token.Lineage, error) {
	var opts []token.LineageOption
	if t.History {
		opts = append(opts, token.WithHistory())
	}
	if !t.Enabled {
		return token.NewLineage(opts...), nil
	}
	switch t.Sink {
	case SinkLog:
		opts = append(opts, token.WithSink(token.NewLogSink(logger)))
	case SinkJSON:
		f, err := os.Create(t.Path) //nolint:gosec // G304: path comes from the graph definition
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to create tracking file").
				WithDetail("path", t.Path)
		}
		opts = append(opts, token.WithSink(token.NewJSONSink(f)))
	}
	return token.NewLineage(opts...), nil
}
