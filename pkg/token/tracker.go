package token

import (
	"github.com/ajitpratap0/quasar/pkg/errors"
)

// Tracker receives the token events of one node
type Tracker interface {
	InitToken(t *Token) error
	ReadToken(port int, t *Token) error
	WriteToken(port int, t *Token) error
	FreeToken(t *Token) error
	LinkTokens(parent, child *Token) error
	UnifyTokens(source, target *Token) error
}

// PrimitiveTracker reports the events of one node to a shared Lineage. It
// is safe for concurrent use; events of a single node keep their call order.
type PrimitiveTracker struct {
	node    string
	lineage *Lineage
}

var _ Tracker = (*PrimitiveTracker)(nil)

// NewTracker creates the tracker of node
func NewTracker(lineage *Lineage, node string) *PrimitiveTracker {
	return &PrimitiveTracker{node: node, lineage: lineage}
}

// Node returns the id of the node the tracker reports for
func (p *PrimitiveTracker) Node() string { return p.node }

// Lineage returns the shared store
func (p *PrimitiveTracker) Lineage() *Lineage { return p.lineage }

func (p *PrimitiveTracker) nilToken(op string) error {
	return errors.Newf(errors.ErrorTypeContract, "%s called with a nil token", op).
		WithDetail("node", p.node)
}

// InitToken assigns a fresh id to t
func (p *PrimitiveTracker) InitToken(t *Token) error {
	if t == nil {
		return p.nilToken("InitToken")
	}
	return p.lineage.initToken(p.node, t)
}

// ReadToken records that t was read from an input port
func (p *PrimitiveTracker) ReadToken(port int, t *Token) error {
	if t == nil {
		return p.nilToken("ReadToken")
	}
	return p.lineage.portEvent(p.node, EventRead, port, t)
}

// WriteToken records that t was written to an output port
func (p *PrimitiveTracker) WriteToken(port int, t *Token) error {
	if t == nil {
		return p.nilToken("WriteToken")
	}
	return p.lineage.portEvent(p.node, EventWrite, port, t)
}

// FreeToken ends the life of t. Any later event on its id is a contract
// violation.
func (p *PrimitiveTracker) FreeToken(t *Token) error {
	if t == nil {
		return p.nilToken("FreeToken")
	}
	return p.lineage.freeToken(p.node, t)
}

// LinkTokens records that child was derived from parent
func (p *PrimitiveTracker) LinkTokens(parent, child *Token) error {
	if parent == nil || child == nil {
		return p.nilToken("LinkTokens")
	}
	return p.lineage.linkTokens(p.node, parent, child)
}

// UnifyTokens makes target continue the identity of source. target must be
// uninitialized or must not have emitted events beyond its init.
func (p *PrimitiveTracker) UnifyTokens(source, target *Token) error {
	if source == nil || target == nil {
		return p.nilToken("UnifyTokens")
	}
	return p.lineage.unifyTokens(p.node, source, target)
}
