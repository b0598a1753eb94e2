// Package plugin activates optional feature modules in prerequisite order.
//
// A plugin is a Descriptor with an Activate hook. Activation receives a
// Context through which the plugin contributes component factories to the
// graph registry. Registries are plain values injected where needed; the
// package-level Default registry only exists so that packages can register
// themselves from init.
package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
)

// Descriptor describes one plugin
type Descriptor struct {
	ID       string
	Version  string
	Requires []string
	Activate func(ctx *Context) error
}

// Context is handed to Activate
type Context struct {
	Plugin     string
	Components *graph.Registry
	Logger     *zap.Logger
}

// State is the activation state of a plugin
type State int

const (
	StateRegistered State = iota
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Info is the listing form of a plugin
type Info struct {
	ID       string
	Version  string
	Requires []string
	State    State
	Err      error
}

type entry struct {
	desc  Descriptor
	state State
	err   error
}

// Registry holds plugin descriptors
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{entries: make(map[string]*entry), logger: logger.Named("plugins")}
}

// Register adds d. Ids are unique.
func (r *Registry) Register(d Descriptor) error {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		return errors.New(errors.ErrorTypeConfig, "plugin id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[d.ID]; dup {
		return errors.Newf(errors.ErrorTypeConfig, "plugin %s already registered", d.ID)
	}
	r.entries[d.ID] = &entry{desc: d}
	return nil
}

// Sort orders the plugins so that every plugin follows its prerequisites.
// Among plugins whose prerequisites are satisfied the smallest id comes
// first, so the order is deterministic. A missing prerequisite or a cycle is
// a config error.
func (r *Registry) Sort() ([]Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sort()
}

func (r *Registry) sort() ([]Descriptor, error) {
	indegree := make(map[string]int, len(r.entries))
	dependents := make(map[string][]string, len(r.entries))
	for id, e := range r.entries {
		indegree[id] += 0
		for _, req := range e.desc.Requires {
			if _, ok := r.entries[req]; !ok {
				return nil, errors.Newf(errors.ErrorTypeConfig, "plugin %s requires unknown plugin %s", id, req)
			}
			indegree[id]++
			dependents[req] = append(dependents[req], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	out := make([]Descriptor, 0, len(r.entries))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, r.entries[id].desc)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(out) != len(r.entries) {
		var cyclic []string
		for id, n := range indegree {
			if n > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return nil, errors.Newf(errors.ErrorTypeConfig, "plugin prerequisites form a cycle: %s", strings.Join(cyclic, ", "))
	}
	return out, nil
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// ActivateAll activates every registered plugin in sorted order, handing
// each the components registry. It stops at the first failure; the failed
// plugin is marked and the error returned.
func (r *Registry) ActivateAll(components *graph.Registry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, err := r.sort()
	if err != nil {
		return err
	}
	for _, d := range order {
		e := r.entries[d.ID]
		if e.state == StateActive {
			continue
		}
		if d.Activate != nil {
			ctx := &Context{Plugin: d.ID, Components: components, Logger: r.logger.With(zap.String("plugin", d.ID))}
			if err := activate(d, ctx); err != nil {
				e.state, e.err = StateFailed, err
				r.logger.Error("plugin activation failed", zap.String("plugin", d.ID), zap.Error(err))
				return errors.Wrap(err, errors.ErrorTypeConfig, "failed to activate plugin "+d.ID)
			}
		}
		e.state = StateActive
		r.logger.Debug("plugin activated", zap.String("plugin", d.ID), zap.String("version", d.Version))
	}
	return nil
}

func activate(d Descriptor, ctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New(errors.ErrorTypeInternal, fmt.Sprintf("plugin %s panicked: %v", d.ID, rec))
		}
	}()
	return d.Activate(ctx)
}

// Lookup returns the plugin registered under id
func (r *Registry) Lookup(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Info{}, false
	}
	return info(e), true
}

// List returns every plugin sorted by id
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, info(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func info(e *entry) Info {
	return Info{
		ID:       e.desc.ID,
		Version:  e.desc.Version,
		Requires: append([]string(nil), e.desc.Requires...),
		State:    e.state,
		Err:      e.err,
	}
}

// Default is the registry init functions register into
var Default = NewRegistry(nil)

// Register adds d to Default
func Register(d Descriptor) error {
	return Default.Register(d)
}

// MustRegister is Register for init functions
func MustRegister(d Descriptor) {
	if err := Register(d); err != nil {
		panic(err)
	}
}
