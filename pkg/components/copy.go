package components

import (
	"context"
	"io"

	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/token"
)

// Copy sends a copy of every input record to each connected output
type Copy struct {
	*graph.BaseNode
}

// NewCopy is the factory of the copy component
func NewCopy(id string, _ graph.Properties) (graph.Node, error) {
	return &Copy{graph.NewBaseNode(id, TypeCopy, graph.PortSpec{MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: -1})}, nil
}

func (c *Copy) Execute(ctx context.Context) graph.Result {
	policy := token.NewOneToMany(c.Tracker())
	in := c.InputPort(0)
	for c.Running(ctx) {
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
		for port := 0; port < c.NumOutputs(); port++ {
			if c.OutputPort(port) == nil {
				continue
			}
			out := token.New(t.Record().Copy())
			if err := policy.Write(port, out); err != nil {
				return graph.Finished(err)
			}
			if err := c.Emit(ctx, port, out); err != nil {
				return graph.Finished(err)
			}
		}
		if err := policy.Done(); err != nil {
			return graph.Finished(err)
		}
	}
	return graph.Finished(policy.Close())
}
