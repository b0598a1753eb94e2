package components

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/record"
	"github.com/ajitpratap0/quasar/pkg/token"
)

// DefaultLineageCache is how many inputs of a group an output is linked to
const DefaultLineageCache = 64

// Group aggregates runs of adjacent records with equal key fields. Each run
// produces one record holding the last values of the run and, when the
// output metadata declares it, the run length in count_field.
type Group struct {
	*graph.BaseNode
	keys       []string
	countField string
	cache      int

	keyIdx  []int
	outMeta *metadata.Metadata
}

// NewGroup is the factory of the group component
func NewGroup(id string, props graph.Properties) (graph.Node, error) {
	keys := props.List("key")
	if len(keys) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "group %s: property \"key\" is required", id)
	}
	cache, err := props.Int("lineage_cache", DefaultLineageCache)
	if err != nil {
		return nil, err
	}
	return &Group{
		BaseNode:   graph.NewBaseNode(id, TypeGroup, graph.PortSpec{MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1}),
		keys:       keys,
		countField: props.String("count_field", "count"),
		cache:      cache,
	}, nil
}

// Init checks the key fields against the input metadata
func (g *Group) Init(ctx context.Context, env *graph.Env) error {
	in, out := g.InputPort(0), g.OutputPort(0)
	if in.Metadata() == nil || out.Metadata() == nil {
		return errors.Newf(errors.ErrorTypeConfig, "group %s: ports need metadata", g.ID())
	}
	g.keyIdx = g.keyIdx[:0]
	var missing []string
	for _, k := range g.keys {
		i := in.Metadata().FieldIndex(k)
		if i < 0 {
			missing = append(missing, k)
		}
		g.keyIdx = append(g.keyIdx, i)
	}
	if len(missing) > 0 {
		return errors.Newf(errors.ErrorTypeConfig, "group %s: key fields %s not in %s",
			g.ID(), strings.Join(missing, ","), in.Metadata().Name)
	}
	g.outMeta = out.Metadata()
	return nil
}

func (g *Group) sameKey(a, b *record.Record) bool {
	for _, i := range g.keyIdx {
		if !a.Field(i).Equal(b.Field(i)) {
			return false
		}
	}
	return true
}

func (g *Group) Execute(ctx context.Context) graph.Result {
	policy := token.NewManyToOne(g.Tracker(), g.cache)
	in := g.InputPort(0)

	var last *record.Record
	count := 0
	flush := func() error {
		if last == nil {
			return nil
		}
		rec := record.New(g.outMeta)
		rec.CopyByName(last)
		if f := rec.FieldByName(g.countField); f != nil {
			if err := f.FromString(strconv.Itoa(count)); err != nil {
				return err
			}
		}
		t := token.New(rec)
		if err := policy.Write(0, t); err != nil {
			return err
		}
		if err := g.Emit(ctx, 0, t); err != nil {
			return err
		}
		return policy.Done()
	}

	for g.Running(ctx) {
		t, err := in.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return graph.Finished(err)
		}
		// the look-ahead record is registered only after the previous group
		// is out, so it is not linked to it
		if last != nil && !g.sameKey(last, t.Record()) {
			if err := flush(); err != nil {
				return graph.Finished(err)
			}
			count = 0
		}
		if err := policy.Read(0, t); err != nil {
			return graph.Finished(err)
		}
		last = t.Record()
		count++
		if err := g.Yield(ctx); err != nil {
			return graph.Finished(err)
		}
	}
	if ctx.Err() == nil {
		if err := flush(); err != nil {
			return graph.Finished(err)
		}
	}
	return graph.Finished(policy.Close())
}
