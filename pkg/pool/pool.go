// Package pool recycles records and scratch buffers.
//
// Parsers and formatters own their buffers exclusively while a stream is
// open; the buffers go back to Buffers when the stream closes so that a
// graph reading many small files does not churn the allocator.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed sync.Pool with an optional reset hook
type Pool[T any] struct {
	pool      sync.Pool
	reset     func(T)
	allocated atomic.Int64
	inUse     atomic.Int64
}

// Stats is a snapshot of a pool's counters
type Stats struct {
	// Allocated counts objects created because the pool was empty
	Allocated int64
	// InUse counts objects taken and not yet returned
	InUse int64
}

// New creates a pool. reset, when set, runs on every Put.
func New[T any](alloc func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		p.allocated.Add(1)
		return alloc()
	}
	return p
}

// Get takes an object, allocating one when the pool is empty
func (p *Pool[T]) Get() T {
	p.inUse.Add(1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.inUse.Add(-1)
	p.pool.Put(obj)
}

// Stats returns the current counters
func (p *Pool[T]) Stats() Stats {
	return Stats{Allocated: p.allocated.Load(), InUse: p.inUse.Load()}
}

// bucketSizes grow by 4x from 512B to 16MB
var bucketSizes = []int{512, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20, 16 << 20}

// BufferPool hands out byte slices from size buckets. Requests above the
// largest bucket are allocated directly and dropped on Put.
type BufferPool struct {
	buckets   []*Pool[[]byte]
	oversized atomic.Int64
}

// NewBufferPool creates an empty buffer pool
func NewBufferPool() *BufferPool {
	b := &BufferPool{buckets: make([]*Pool[[]byte], len(bucketSizes))}
	for i, size := range bucketSizes {
		size := size
		b.buckets[i] = New(func() []byte { return make([]byte, size) }, nil)
	}
	return b
}

func bucketFor(size int) int {
	for i, s := range bucketSizes {
		if s >= size {
			return i
		}
	}
	return -1
}

// Get returns a buffer of length size whose capacity is the bucket size
func (b *BufferPool) Get(size int) []byte {
	i := bucketFor(size)
	if i < 0 {
		b.oversized.Add(1)
		return make([]byte, size)
	}
	return b.buckets[i].Get()[:size]
}

// Put returns a buffer obtained from Get
func (b *BufferPool) Put(buf []byte) {
	i := bucketFor(cap(buf))
	if i < 0 || bucketSizes[i] != cap(buf) {
		return
	}
	b.buckets[i].Put(buf[:cap(buf)])
}

// InUse counts pooled buffers handed out and not yet returned
func (b *BufferPool) InUse() int64 {
	var n int64
	for _, p := range b.buckets {
		n += p.Stats().InUse
	}
	return n
}

// Oversized counts requests that were too large for any bucket
func (b *BufferPool) Oversized() int64 {
	return b.oversized.Load()
}

// Buffers is shared by every parser and formatter
var Buffers = NewBufferPool()
