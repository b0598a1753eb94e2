package token

import (
	"sync"
	"time"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/record"
)

// EventKind names a lifecycle event
type EventKind string

const (
	EventInit  EventKind = "init"
	EventRead  EventKind = "read"
	EventWrite EventKind = "write"
	EventLink  EventKind = "link"
	EventUnify EventKind = "unify"
	EventFree  EventKind = "free"
)

// Event is one tracked call. Port is -1 when the event has no port and Peer
// is 0 when it involves a single token.
type Event struct {
	Time time.Time
	Node string
	Kind EventKind
	ID   int64
	Port int
	Peer int64
}

type tokenState struct {
	// events counts the events emitted under this id besides init
	events int
}

// Lineage is the shared, synchronized store behind all trackers of a run.
// It validates the lifecycle of every id and, when history is retained,
// keeps events and parent links for provenance queries.
//
// Only live ids are kept in memory for validation. An id that was issued but
// is no longer live has been freed or unified away.
type Lineage struct {
	mu      sync.Mutex
	ids     *IDSource
	sink    Sink
	retain  bool
	live    map[int64]*tokenState
	alias   map[int64]int64
	history map[int64][]Event
	parents map[int64][]int64
}

// LineageOption configures a Lineage
type LineageOption func(*Lineage)

// WithSink sets the serializer of events
func WithSink(s Sink) LineageOption {
	return func(l *Lineage) { l.sink = s }
}

// WithHistory keeps events and parent links for Root, History and Parents
func WithHistory() LineageOption {
	return func(l *Lineage) { l.retain = true }
}

// WithIDSource sets the id allocator, for nested execution contexts
func WithIDSource(s *IDSource) LineageOption {
	return func(l *Lineage) { l.ids = s }
}

// NewLineage creates an empty store
func NewLineage(opts ...LineageOption) *Lineage {
	l := &Lineage{
		sink:    NopSink{},
		live:    make(map[int64]*tokenState),
		alias:   make(map[int64]int64),
		history: make(map[int64][]Event),
		parents: make(map[int64][]int64),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ids == nil {
		l.ids = NewIDSource()
	}
	return l
}

// IDs returns the id source of the store
func (l *Lineage) IDs() *IDSource { return l.ids }

func contractError(node string, id int64, msg string) error {
	return errors.Newf(errors.ErrorTypeContract, "token #%d: %s", id, msg).
		WithDetail("node", node).
		WithDetail("token", id)
}

// checkLive fails unless id was initialized and is still live
func (l *Lineage) checkLive(node string, id int64) (*tokenState, error) {
	if id == 0 {
		return nil, contractError(node, id, "token was never initialized")
	}
	st, ok := l.live[id]
	if !ok {
		if id <= l.ids.Last() {
			return nil, contractError(node, id, "token was already freed")
		}
		return nil, contractError(node, id, "unknown token")
	}
	return st, nil
}

// emit stores and serializes ev. The caller holds the lock.
func (l *Lineage) emit(ev Event, rec *record.Record) {
	ev.Time = time.Now()
	if l.retain {
		l.history[ev.ID] = append(l.history[ev.ID], ev)
	}
	metrics.TokenEvents.WithLabelValues(string(ev.Kind)).Inc()
	l.sink.Emit(ev, rec)
}

func (l *Lineage) initToken(node string, t *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.id != 0 {
		if _, ok := l.live[t.id]; ok {
			return contractError(node, t.id, "token initialized twice")
		}
	}
	t.id = l.ids.Next()
	l.live[t.id] = &tokenState{}
	metrics.TokensLive.Inc()
	l.emit(Event{Node: node, Kind: EventInit, ID: t.id, Port: -1}, t.rec)
	return nil
}

func (l *Lineage) portEvent(node string, kind EventKind, port int, t *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.checkLive(node, t.id)
	if err != nil {
		return err
	}
	st.events++
	l.emit(Event{Node: node, Kind: kind, ID: t.id, Port: port}, t.rec)
	return nil
}

func (l *Lineage) freeToken(node string, t *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.checkLive(node, t.id); err != nil {
		return err
	}
	l.emit(Event{Node: node, Kind: EventFree, ID: t.id, Port: -1}, t.rec)
	delete(l.live, t.id)
	metrics.TokensLive.Dec()
	return nil
}

func (l *Lineage) linkTokens(node string, parent, child *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	// the parent may already be gone downstream, it only has to exist
	if parent.id == 0 || parent.id > l.ids.Last() {
		return contractError(node, parent.id, "parent token was never initialized")
	}
	st, err := l.checkLive(node, child.id)
	if err != nil {
		return err
	}
	st.events++
	if l.retain {
		l.parents[child.id] = append(l.parents[child.id], parent.id)
	}
	l.emit(Event{Node: node, Kind: EventLink, ID: child.id, Port: -1, Peer: parent.id}, child.rec)
	return nil
}

func (l *Lineage) unifyTokens(node string, source, target *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if source == target || (target.id != 0 && target.id == source.id) {
		return contractError(node, source.id, "token cannot be unified with itself")
	}
	if _, err := l.checkLive(node, source.id); err != nil {
		return err
	}
	if target.id != 0 {
		st, err := l.checkLive(node, target.id)
		if err != nil {
			return err
		}
		if st.events > 0 {
			return contractError(node, target.id, "token cannot be unified after it emitted events")
		}
		delete(l.live, target.id)
		metrics.TokensLive.Dec()
		l.alias[target.id] = source.id
		if l.retain {
			delete(l.history, target.id)
		}
	}
	old := target.id
	target.id = source.id
	l.emit(Event{Node: node, Kind: EventUnify, ID: source.id, Port: -1, Peer: old}, target.rec)
	return nil
}

// Resolve follows unify aliases to the identity an id was merged into
func (l *Lineage) Resolve(id int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolve(id)
}

func (l *Lineage) resolve(id int64) int64 {
	for {
		to, ok := l.alias[id]
		if !ok {
			return id
		}
		id = to
	}
}

// IsLive reports whether id can still take events
func (l *Lineage) IsLive(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.live[l.resolve(id)]
	return ok
}

// Live returns the number of live tokens
func (l *Lineage) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// History returns the events of id in order. It is empty unless the store
// retains history.
func (l *Lineage) History(id int64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.history[l.resolve(id)]...)
}

// Parents returns the ids id was linked to
func (l *Lineage) Parents(id int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.parents[l.resolve(id)]...)
}

// Root follows the first parent of each ancestor to the token that started
// the chain.
func (l *Lineage) Root(id int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id = l.resolve(id)
	seen := make(map[int64]bool)
	for !seen[id] {
		seen[id] = true
		ps := l.parents[id]
		if len(ps) == 0 {
			break
		}
		id = l.resolve(ps[0])
	}
	return id
}

// Roots returns every ancestor without parents, in discovery order
func (l *Lineage) Roots(id int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var roots []int64
	seen := make(map[int64]bool)
	stack := []int64{l.resolve(id)}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		ps := l.parents[cur]
		if len(ps) == 0 {
			roots = append(roots, cur)
			continue
		}
		for i := len(ps) - 1; i >= 0; i-- {
			stack = append(stack, l.resolve(ps[i]))
		}
	}
	return roots
}

// Close flushes the sink
func (l *Lineage) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Close()
}
