package components

import (
	"context"
	"io"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/record"
	"github.com/ajitpratap0/quasar/pkg/token"
)

// Reformat applies a named transform to every input record. The first
// output of an input keeps its identity; further outputs are linked to it.
type Reformat struct {
	*graph.BaseNode
	name      string
	transform Transform
}

// NewReformat is the factory of the reformat component
func NewReformat(id string, props graph.Properties) (graph.Node, error) {
	name, err := props.Required("transform")
	if err != nil {
		return nil, err
	}
	tf, err := Transforms.Create(name, props)
	if err != nil {
		return nil, err
	}
	return &Reformat{
		BaseNode:  graph.NewBaseNode(id, TypeReformat, graph.PortSpec{MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: -1}),
		name:      name,
		transform: tf,
	}, nil
}

func (r *Reformat) Execute(ctx context.Context) graph.Result {
	policy := token.NewReformat(r.Tracker())
	out := &emitter{ctx: ctx, node: r.BaseNode, policy: policy}
	in := r.InputPort(0)
	for r.Running(ctx) {
		t, err := in.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return graph.Finished(err)
		}
		if err := policy.Read(0, t); err != nil {
			return graph.Finished(err)
		}
		if err := r.transform(t.Record(), out); err != nil {
			return graph.Finished(err)
		}
		if err := policy.Done(); err != nil {
			return graph.Finished(err)
		}
		t.Record().Release()
	}
	return graph.Finished(policy.Close())
}

// emitter turns transform outputs into tracked tokens
type emitter struct {
	ctx    context.Context
	node   *graph.BaseNode
	policy token.Policy
}

func (e *emitter) Connected(port int) bool { return e.node.OutputPort(port) != nil }

func (e *emitter) NewRecord(port int) (*record.Record, error) {
	out := e.node.OutputPort(port)
	if out == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "output port %d of %s is not connected", port, e.node.ID())
	}
	if out.Metadata() == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "output port %d of %s has no metadata", port, e.node.ID())
	}
	return record.New(out.Metadata()), nil
}

func (e *emitter) Emit(port int, rec *record.Record) error {
	t := token.New(rec)
	if err := e.policy.Write(port, t); err != nil {
		return err
	}
	return e.node.Emit(e.ctx, port, t)
}
