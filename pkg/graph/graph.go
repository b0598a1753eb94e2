// Package graph runs dataflow graphs.
//
// A Graph holds nodes grouped into phases and the edges connecting their
// ports. The Watchdog initializes every node, then runs the phases in order;
// within a phase each node executes in its own goroutine and nodes exchange
// tokens over bounded edges, so a full edge blocks its producer. A node
// reports a Result; errors fail the node's branch while fatal errors cancel
// the whole run.
package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
)

// PortRef names a port of a node
type PortRef struct {
	Node string
	Port int
}

func (p PortRef) String() string { return fmt.Sprintf("%s:%d", p.Node, p.Port) }

// ParsePortRef parses "node:port". A missing port means port 0.
func ParsePortRef(s string) (PortRef, error) {
	node, port, found := strings.Cut(strings.TrimSpace(s), ":")
	if node == "" {
		return PortRef{}, errors.Newf(errors.ErrorTypeConfig, "invalid port reference %q", s)
	}
	if !found {
		return PortRef{Node: node}, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 {
		return PortRef{}, errors.Newf(errors.ErrorTypeConfig, "invalid port number in %q", s)
	}
	return PortRef{Node: node, Port: n}, nil
}

// Graph is a set of nodes and edges
type Graph struct {
	name  string
	nodes []Node
	byID  map[string]Node
	edges []*Edge
}

// New creates an empty graph
func New(name string) *Graph {
	return &Graph{name: name, byID: make(map[string]Node)}
}

func (g *Graph) Name() string   { return g.name }
func (g *Graph) Nodes() []Node  { return g.nodes }
func (g *Graph) Edges() []*Edge { return g.edges }
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// AddNode adds n to phase
func (g *Graph) AddNode(n Node, phase int) error {
	if n.ID() == "" {
		return errors.New(errors.ErrorTypeConfig, "node id is empty")
	}
	if _, dup := g.byID[n.ID()]; dup {
		return errors.Newf(errors.ErrorTypeConfig, "duplicate node id %q", n.ID())
	}
	if phase < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "node %s has negative phase %d", n.ID(), phase)
	}
	n.Base().phase = phase
	g.nodes = append(g.nodes, n)
	g.byID[n.ID()] = n
	return nil
}

// Connect creates the edge from an output port to an input port. Edges may
// not point to an earlier phase; edges crossing phases are unbounded.
func (g *Graph) Connect(from, to PortRef, meta *metadata.Metadata, capacity int) (*Edge, error) {
	src, ok := g.byID[from.Node]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "edge source %s: no such node", from)
	}
	dst, ok := g.byID[to.Node]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "edge target %s: no such node", to)
	}
	if src.Base().OutputPort(from.Port) != nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "output port %s is already connected", from)
	}
	if dst.Base().InputPort(to.Port) != nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "input port %s is already connected", to)
	}

	sp, dp := src.Base().phase, dst.Base().phase
	if dp < sp {
		return nil, errors.Newf(errors.ErrorTypeConfig, "edge %s -> %s goes from phase %d back to phase %d", from, to, sp, dp)
	}

	id := from.String() + "->" + to.String()
	var e *Edge
	if dp > sp {
		e = newPhaseEdge(id, meta)
	} else {
		e = NewEdge(id, meta, capacity)
	}
	e.from, e.to = from, to
	src.Base().setOutput(from.Port, e)
	dst.Base().setInput(to.Port, e)
	g.edges = append(g.edges, e)
	return e, nil
}

// Validate checks port bounds and rejects cycles. It touches no data.
func (g *Graph) Validate() error {
	if len(g.nodes) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "graph %q has no nodes", g.name)
	}
	for _, n := range g.nodes {
		if err := checkPorts(n.Base()); err != nil {
			return err
		}
	}
	return g.checkCycles()
}

func checkPorts(b *BaseNode) error {
	spec := b.ports
	for i := 0; i < spec.MinInputs; i++ {
		if b.InputPort(i) == nil {
			return errors.Newf(errors.ErrorTypeConfig, "input port %d of %s (%s) is not connected", i, b.id, b.typ)
		}
	}
	for i := 0; i < spec.MinOutputs; i++ {
		if b.OutputPort(i) == nil {
			return errors.Newf(errors.ErrorTypeConfig, "output port %d of %s (%s) is not connected", i, b.id, b.typ)
		}
	}
	if spec.MaxInputs >= 0 && b.NumInputs() > spec.MaxInputs {
		return errors.Newf(errors.ErrorTypeConfig, "%s (%s) accepts at most %d inputs", b.id, b.typ, spec.MaxInputs)
	}
	if spec.MaxOutputs >= 0 && b.NumOutputs() > spec.MaxOutputs {
		return errors.Newf(errors.ErrorTypeConfig, "%s (%s) accepts at most %d outputs", b.id, b.typ, spec.MaxOutputs)
	}
	return nil
}

// checkCycles runs Kahn's algorithm over the node graph
func (g *Graph) checkCycles() error {
	indegree := make(map[string]int, len(g.nodes))
	next := make(map[string][]string, len(g.nodes))
	for _, e := range g.edges {
		indegree[e.to.Node]++
		next[e.from.Node] = append(next[e.from.Node], e.to.Node)
	}
	var queue []string
	for _, n := range g.nodes {
		if indegree[n.ID()] == 0 {
			queue = append(queue, n.ID())
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range next[id] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if visited == len(g.nodes) {
		return nil
	}
	var cyclic []string
	for _, n := range g.nodes {
		if indegree[n.ID()] > 0 {
			cyclic = append(cyclic, n.ID())
		}
	}
	sort.Strings(cyclic)
	return errors.Newf(errors.ErrorTypeConfig, "graph %q has a cycle through %s", g.name, strings.Join(cyclic, ", "))
}

// Phases returns the phase numbers in execution order
func (g *Graph) Phases() []int {
	seen := make(map[int]bool)
	var phases []int
	for _, n := range g.nodes {
		if p := n.Base().phase; !seen[p] {
			seen[p] = true
			phases = append(phases, p)
		}
	}
	sort.Ints(phases)
	return phases
}

// PhaseNodes returns the nodes of phase in insertion order
func (g *Graph) PhaseNodes(phase int) []Node {
	var out []Node
	for _, n := range g.nodes {
		if n.Base().phase == phase {
			out = append(out, n)
		}
	}
	return out
}
