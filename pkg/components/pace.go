package components

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
)

// Pace forwards records unchanged at no more than rate records per second
type Pace struct {
	*graph.BaseNode
	limiter *rate.Limiter
}

// NewPace is the factory of the pace component
func NewPace(id string, props graph.Properties) (graph.Node, error) {
	r, err := props.Float("rate", 0)
	if err != nil {
		return nil, err
	}
	if r <= 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "pace %s: rate must be positive", id)
	}
	burst, err := props.Int("burst", 1)
	if err != nil {
		return nil, err
	}
	if burst < 1 {
		burst = 1
	}
	return &Pace{
		BaseNode: graph.NewBaseNode(id, TypePace, graph.PortSpec{MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1}),
		limiter:  rate.NewLimiter(rate.Limit(r), burst),
	}, nil
}

// Execute passes every token through, keeping its identity
func (p *Pace) Execute(ctx context.Context) graph.Result {
	tr := p.Tracker()
	in := p.InputPort(0)
	for p.Running(ctx) {
		t, err := in.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return graph.Finished(err)
		}
		if err := tr.ReadToken(0, t); err != nil {
			return graph.Finished(err)
		}
		if err := p.limiter.Wait(ctx); err != nil {
			_ = tr.FreeToken(t)
			return graph.Finished(errors.Wrap(err, errors.ErrorTypeCanceled, "pace interrupted"))
		}
		if err := tr.WriteToken(0, t); err != nil {
			return graph.Finished(err)
		}
		if err := p.Emit(ctx, 0, t); err != nil {
			return graph.Finished(err)
		}
	}
	return graph.OK()
}
