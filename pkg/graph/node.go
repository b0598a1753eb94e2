package graph

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/fs"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/token"
	"go.uber.org/zap"
)

// yieldEvery is how many Yield calls pass between scheduler yields
const yieldEvery = 1024

// Env carries the run-wide collaborators handed to every node
type Env struct {
	RunID   string
	Graph   string
	Logger  *zap.Logger
	Lineage *token.Lineage
	FS      *fs.Registry
}

// Node is one component of a graph. Execute runs in its own goroutine and
// must return when its inputs are exhausted or when it is no longer
// Running.
type Node interface {
	ID() string
	Type() string
	Base() *BaseNode
	// Init validates configuration and prepares resources. It runs for
	// every node of the graph before any node executes.
	Init(ctx context.Context, env *Env) error
	Execute(ctx context.Context) Result
	// Free releases resources after the run
	Free()
}

// PortSpec bounds the ports of a node. A negative maximum is unbounded.
// Ports below the minimum must be connected.
type PortSpec struct {
	MinInputs, MaxInputs   int
	MinOutputs, MaxOutputs int
}

// BaseNode implements the port bookkeeping, cancellation flag and tracker
// wiring shared by all nodes. Concrete nodes embed a *BaseNode.
type BaseNode struct {
	id      string
	typ     string
	ports   PortSpec
	inputs  []*Edge
	outputs []*Edge
	phase   int

	env        *Env
	logger     *zap.Logger
	tracker    *token.PrimitiveTracker
	throughput *metrics.ThroughputTracker
	running    atomic.Bool
	yields     uint32
}

// NewBaseNode creates the base of a node
func NewBaseNode(id, typ string, ports PortSpec) *BaseNode {
	return &BaseNode{id: id, typ: typ, ports: ports, logger: zap.NewNop()}
}

func (b *BaseNode) ID() string      { return b.id }
func (b *BaseNode) Type() string    { return b.typ }
func (b *BaseNode) Base() *BaseNode { return b }
func (b *BaseNode) Ports() PortSpec { return b.ports }
func (b *BaseNode) Phase() int      { return b.phase }

// Init does nothing; nodes override it
func (b *BaseNode) Init(context.Context, *Env) error { return nil }

// Free does nothing; nodes override it
func (b *BaseNode) Free() {}

// attach wires the node to the run. The watchdog calls it before Init.
func (b *BaseNode) attach(env *Env) {
	b.env = env
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b.logger = logger.With(zap.String("node", b.id), zap.String("node_type", b.typ))
	lineage := env.Lineage
	if lineage == nil {
		lineage = token.NewLineage()
	}
	b.tracker = token.NewTracker(lineage, b.id)
	b.throughput = metrics.NewThroughputTracker(b.id)
	b.running.Store(true)
}

func (b *BaseNode) Env() *Env                        { return b.env }
func (b *BaseNode) Logger() *zap.Logger              { return b.logger }
func (b *BaseNode) Tracker() *token.PrimitiveTracker { return b.tracker }

func (b *BaseNode) setInput(port int, e *Edge) {
	for len(b.inputs) <= port {
		b.inputs = append(b.inputs, nil)
	}
	b.inputs[port] = e
}

func (b *BaseNode) setOutput(port int, e *Edge) {
	for len(b.outputs) <= port {
		b.outputs = append(b.outputs, nil)
	}
	b.outputs[port] = e
}

// InputPort returns the edge connected to input port i, or nil
func (b *BaseNode) InputPort(i int) *Edge {
	if i < 0 || i >= len(b.inputs) {
		return nil
	}
	return b.inputs[i]
}

// OutputPort returns the edge connected to output port i, or nil
func (b *BaseNode) OutputPort(i int) *Edge {
	if i < 0 || i >= len(b.outputs) {
		return nil
	}
	return b.outputs[i]
}

// NumInputs returns one past the highest connected input port
func (b *BaseNode) NumInputs() int { return len(b.inputs) }

// NumOutputs returns one past the highest connected output port
func (b *BaseNode) NumOutputs() int { return len(b.outputs) }

// Running reports whether the node should keep processing
func (b *BaseNode) Running(ctx context.Context) bool {
	return b.running.Load() && ctx.Err() == nil
}

// Stop clears the run flag. Execute notices it at the next record.
func (b *BaseNode) Stop() { b.running.Store(false) }

// Yield is the cooperative cancellation point of CPU bound loops. It returns
// a canceled error once the node should stop.
func (b *BaseNode) Yield(ctx context.Context) error {
	b.yields++
	if b.yields%yieldEvery == 0 {
		runtime.Gosched()
	}
	if !b.Running(ctx) {
		return errors.New(errors.ErrorTypeCanceled, "node stopped").WithDetail("node", b.id)
	}
	return nil
}

// Emit writes t to output port and counts it
func (b *BaseNode) Emit(ctx context.Context, port int, t *token.Token) error {
	e := b.OutputPort(port)
	if e == nil {
		return errors.Newf(errors.ErrorTypeContract, "output port %d of %s is not connected", port, b.id)
	}
	if err := e.Write(ctx, t); err != nil {
		return err
	}
	if b.throughput != nil {
		b.throughput.Increment(1)
	}
	return nil
}

// BroadcastEOF closes every connected output
func (b *BaseNode) BroadcastEOF() {
	for _, e := range b.outputs {
		if e != nil {
			e.Close()
		}
	}
}

// DrainInputs discards whatever is still queued on the inputs, freeing the
// dropped tokens.
func (b *BaseNode) DrainInputs() int {
	n := 0
	for _, e := range b.inputs {
		if e == nil {
			continue
		}
		n += e.Drain(func(t *token.Token) {
			if b.tracker != nil && t.ID() != 0 {
				_ = b.tracker.FreeToken(t)
			}
			t.Record().Release()
		})
	}
	if n > 0 {
		b.logger.Debug("dropped unread records", zap.Int("count", n))
	}
	return n
}

// Throughput returns the per node throughput tracker
func (b *BaseNode) Throughput() *metrics.ThroughputTracker { return b.throughput }
