// Package record provides the typed tuple that flows through a Quasar graph.
//
// A Record is created from a validated metadata.Metadata and holds one Field
// per declared field. Parsers populate records in place, transforms mutate
// them, and formatters serialize them. Records are not safe for concurrent
// use; ownership moves with the token that wraps them.
package record

import (
	"strings"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/pool"
)

// Record is an ordered, named tuple of typed fields
type Record struct {
	meta   *metadata.Metadata
	fields []Field
	// owner is set while the record is checked out of a Pool
	owner *Pool
}

// New creates a record with every field null
func New(meta *metadata.Metadata) *Record {
	r := &Record{
		meta:   meta,
		fields: make([]Field, len(meta.Fields)),
	}
	for i := range meta.Fields {
		r.fields[i] = newField(&meta.Fields[i])
	}
	return r
}

// Pool recycles records of one metadata. A record taken with Get goes back
// with Release once its token has been freed.
type Pool struct {
	records *pool.Pool[*Record]
}

// NewPool returns an empty pool for meta
func NewPool(meta *metadata.Metadata) *Pool {
	return &Pool{
		records: pool.New(
			func() *Record { return New(meta) },
			func(r *Record) { r.Reset() },
		),
	}
}

// Get returns a record with every field null
func (p *Pool) Get() *Record {
	r := p.records.Get()
	r.owner = p
	return r
}

// Stats reports the pool counters
func (p *Pool) Stats() pool.Stats { return p.records.Stats() }

// Release returns a pooled record to its pool. It does nothing for records
// created with New or already released, so terminal nodes may call it on
// every record they consume.
func (r *Record) Release() {
	if r == nil || r.owner == nil {
		return
	}
	owner := r.owner
	r.owner = nil
	owner.records.Put(r)
}

// Metadata returns the record description
func (r *Record) Metadata() *metadata.Metadata { return r.meta }

// NumFields returns the number of fields
func (r *Record) NumFields() int { return len(r.fields) }

// Field returns the i-th field
func (r *Record) Field(i int) *Field { return &r.fields[i] }

// FieldByName returns the named field or nil
func (r *Record) FieldByName(name string) *Field {
	i := r.meta.FieldIndex(name)
	if i < 0 {
		return nil
	}
	return &r.fields[i]
}

// Reset makes every field null
func (r *Record) Reset() {
	for i := range r.fields {
		r.fields[i].SetNull()
	}
}

// Copy returns a deep copy sharing the metadata
func (r *Record) Copy() *Record {
	c := New(r.meta)
	for i := range r.fields {
		c.fields[i].copyFrom(&r.fields[i])
	}
	return c
}

// CopyFrom copies values from o. Both records must have the same number of
// fields with the same types.
func (r *Record) CopyFrom(o *Record) error {
	if len(o.fields) != len(r.fields) {
		return errors.Newf(errors.ErrorTypeContract, "cannot copy %s into %s: field count differs", o.meta.Name, r.meta.Name)
	}
	for i := range r.fields {
		if r.fields[i].meta.Type != o.fields[i].meta.Type {
			return errors.Newf(errors.ErrorTypeContract, "cannot copy field %s into %s: type differs",
				o.fields[i].meta.Name, r.fields[i].meta.Name)
		}
		r.fields[i].copyFrom(&o.fields[i])
	}
	return nil
}

// CopyByName copies values of same-named, same-typed fields from o and
// leaves the remaining fields untouched.
func (r *Record) CopyByName(o *Record) {
	for i := range r.fields {
		src := o.FieldByName(r.fields[i].meta.Name)
		if src != nil && src.meta.Type == r.fields[i].meta.Type {
			r.fields[i].copyFrom(src)
		}
	}
}

// Equal compares two records field by field
func (r *Record) Equal(o *Record) bool {
	if len(r.fields) != len(o.fields) {
		return false
	}
	for i := range r.fields {
		if !r.fields[i].Equal(&o.fields[i]) {
			return false
		}
	}
	return true
}

// String renders the record as name=value pairs separated by ';'
func (r *Record) String() string {
	var sb strings.Builder
	for i := range r.fields {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(r.fields[i].meta.Name)
		sb.WriteByte('=')
		sb.WriteString(r.fields[i].String())
	}
	return sb.String()
}
