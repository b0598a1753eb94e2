// Package token tracks the identity of records moving through a graph.
//
// Every record travelling over an edge is wrapped in a Token. Nodes report
// what they do with tokens to a Tracker: a token is initialized when a node
// creates it, read and written on ports, linked to the tokens it was derived
// from, unified with the token it replaces, and freed when it leaves the
// graph. The shared Lineage store checks that the calls form a valid
// lifecycle and answers provenance queries; sinks serialize every event.
//
// Nodes rarely call the Tracker directly. A Policy composes the primitive
// calls for the common shapes: one-to-one, one-to-many, many-to-one and
// reformat.
package token

import (
	"sync/atomic"

	"github.com/ajitpratap0/quasar/pkg/record"
)

// Token carries a record and the identity the tracker assigned to it. An id
// of 0 means the token was never initialized.
type Token struct {
	id  int64
	rec *record.Record
}

// New wraps rec in an uninitialized token
func New(rec *record.Record) *Token {
	return &Token{rec: rec}
}

// ID returns the tracked identity, 0 before InitToken
func (t *Token) ID() int64 { return t.id }

// Record returns the carried record
func (t *Token) Record() *record.Record { return t.rec }

// SetRecord replaces the carried record
func (t *Token) SetRecord(rec *record.Record) { t.rec = rec }

// IDSource hands out token ids. Ids are strictly increasing and never
// reused within the root source.
type IDSource struct {
	parent *IDSource
	last   atomic.Int64
}

// NewIDSource creates a root id source
func NewIDSource() *IDSource {
	return &IDSource{}
}

// NewChildIDSource returns a source for a nested execution context. It
// delegates to parent so that ids stay unique and ordered across the whole
// run.
func NewChildIDSource(parent *IDSource) *IDSource {
	return &IDSource{parent: parent}
}

// Next returns a fresh id
func (s *IDSource) Next() int64 {
	if s.parent != nil {
		return s.parent.Next()
	}
	return s.last.Add(1)
}

// Last returns the most recently issued id
func (s *IDSource) Last() int64 {
	if s.parent != nil {
		return s.parent.Last()
	}
	return s.last.Load()
}
