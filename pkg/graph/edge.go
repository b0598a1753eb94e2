package graph

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/token"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultEdgeCapacity is used when an edge does not set its own capacity
const DefaultEdgeCapacity = 1024

// Edge is a bounded FIFO between one producer and one consumer. Closing the
// edge signals end of stream.
//
// An edge between two phases is unbounded instead: its producer finishes
// before its consumer starts, so writes never block.
type Edge struct {
	id       string
	meta     *metadata.Metadata
	ch       chan *token.Token
	closed   atomic.Bool
	once     sync.Once
	written  atomic.Int64
	depth    prometheus.Gauge
	from, to PortRef

	phased bool
	mu     sync.Mutex
	queue  []*token.Token
}

// NewEdge creates an edge carrying records of meta
func NewEdge(id string, meta *metadata.Metadata, capacity int) *Edge {
	if capacity <= 0 {
		capacity = DefaultEdgeCapacity
	}
	return &Edge{
		id:    id,
		meta:  meta,
		ch:    make(chan *token.Token, capacity),
		depth: metrics.EdgeDepth.WithLabelValues(id),
	}
}

// newPhaseEdge creates an unbounded edge
func newPhaseEdge(id string, meta *metadata.Metadata) *Edge {
	e := NewEdge(id, meta, 1)
	e.phased = true
	return e
}

func (e *Edge) ID() string                   { return e.id }
func (e *Edge) Metadata() *metadata.Metadata { return e.meta }
func (e *Edge) From() PortRef                { return e.from }
func (e *Edge) To() PortRef                  { return e.to }

// Written returns the number of tokens written so far
func (e *Edge) Written() int64 { return e.written.Load() }

// Write blocks until t is queued or ctx is done
func (e *Edge) Write(ctx context.Context, t *token.Token) error {
	if e.closed.Load() {
		return errors.Newf(errors.ErrorTypeContract, "write to edge %s after end of stream", e.id)
	}
	if e.phased {
		e.mu.Lock()
		e.queue = append(e.queue, t)
		e.depth.Set(float64(len(e.queue)))
		e.mu.Unlock()
		e.written.Add(1)
		return nil
	}
	select {
	case e.ch <- t:
		e.written.Add(1)
		e.depth.Set(float64(len(e.ch)))
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeCanceled, "edge write canceled").
			WithDetail("edge", e.id)
	}
}

// Read blocks until a token is available. It returns (nil, io.EOF) once the
// producer closed the edge and every queued token was consumed.
func (e *Edge) Read(ctx context.Context) (*token.Token, error) {
	if e.phased {
		return e.readQueued()
	}
	select {
	case t, ok := <-e.ch:
		if !ok {
			return nil, io.EOF
		}
		e.depth.Set(float64(len(e.ch)))
		return t, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeCanceled, "edge read canceled").
			WithDetail("edge", e.id)
	}
}

func (e *Edge) readQueued() (*token.Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		if e.closed.Load() {
			return nil, io.EOF
		}
		return nil, errors.Newf(errors.ErrorTypeContract, "read from phase edge %s before its producer finished", e.id)
	}
	t := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	e.depth.Set(float64(len(e.queue)))
	return t, nil
}

// Close sends end of stream. It is idempotent.
func (e *Edge) Close() {
	e.once.Do(func() {
		e.closed.Store(true)
		close(e.ch)
	})
}

// Drain hands queued tokens to discard until end of stream and returns how
// many were dropped. discard may be nil.
func (e *Edge) Drain(discard func(*token.Token)) int {
	n := 0
	if e.phased {
		e.mu.Lock()
		queued := e.queue
		e.queue = nil
		e.mu.Unlock()
		for _, t := range queued {
			if discard != nil {
				discard(t)
			}
			n++
		}
		e.depth.Set(0)
		return n
	}
	for t := range e.ch {
		if discard != nil {
			discard(t)
		}
		n++
	}
	e.depth.Set(0)
	return n
}
