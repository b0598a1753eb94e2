package graph

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// Properties are the configuration strings of one node
type Properties map[string]string

// String returns the value of key or def when unset
func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Required returns the value of key or a config error
func (p Properties) Required(key string) (string, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return "", errors.Newf(errors.ErrorTypeConfig, "property %q is required", key)
	}
	return v, nil
}

// Int parses key as an integer
func (p Properties) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Newf(errors.ErrorTypeConfig, "property %q: %q is not an integer", key, v)
	}
	return n, nil
}

// Float parses key as a float
func (p Properties) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, errors.Newf(errors.ErrorTypeConfig, "property %q: %q is not a number", key, v)
	}
	return f, nil
}

// Bool parses key as a boolean
func (p Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, errors.Newf(errors.ErrorTypeConfig, "property %q: %q is not a boolean", key, v)
	}
	return b, nil
}

// Duration parses key as a Go duration
func (p Properties) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Newf(errors.ErrorTypeConfig, "property %q: %q is not a duration", key, v)
	}
	return d, nil
}

// List splits key on commas, dropping blanks
func (p Properties) List(key string) []string {
	var out []string
	for _, s := range strings.Split(p[key], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Factory creates a node from its configuration
type Factory func(id string, props Properties) (Node, error)

// Registry maps component type names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds the factory of typ
func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "component type %s already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Create builds a node of typ
func (r *Registry) Create(typ, id string, props Properties) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown component type %q", typ).
			WithDetail("node", id)
	}
	if props == nil {
		props = Properties{}
	}
	n, err := f(id, props)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create component "+id)
	}
	return n, nil
}

// Types lists the registered component types
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
