package components

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/record"
)

// Emitter receives the outputs of a transform
type Emitter interface {
	// NewRecord returns an empty record shaped for output port
	NewRecord(port int) (*record.Record, error)
	// Emit sends rec to output port
	Emit(port int, rec *record.Record) error
	// Connected reports whether output port has an edge
	Connected(port int) bool
}

// Transform maps one input record to zero or more outputs
type Transform func(in *record.Record, out Emitter) error

// TransformFactory builds a transform from the node properties
type TransformFactory func(props graph.Properties) (Transform, error)

// TransformRegistry maps transform names to factories
type TransformRegistry struct {
	mu        sync.RWMutex
	factories map[string]TransformFactory
}

// NewTransformRegistry creates an empty registry
func NewTransformRegistry() *TransformRegistry {
	return &TransformRegistry{factories: make(map[string]TransformFactory)}
}

// Register adds f under name. Names are unique.
func (r *TransformRegistry) Register(name string, f TransformFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" || f == nil {
		return errors.New(errors.ErrorTypeConfig, "transform name and factory are required")
	}
	if _, dup := r.factories[name]; dup {
		return errors.Newf(errors.ErrorTypeConfig, "transform %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Create builds the transform registered under name
func (r *TransformRegistry) Create(name string, props graph.Properties) (Transform, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown transform %q", name).
			WithDetail("known", strings.Join(r.Names(), ","))
	}
	return f(props)
}

// Names returns the registered names, sorted
func (r *TransformRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Transforms holds the transforms available to reformat nodes
var Transforms = NewTransformRegistry()

func init() {
	for name, f := range map[string]TransformFactory{
		"map":    newMapTransform,
		"filter": newFilterTransform,
		"split":  newSplitTransform,
		"upper":  newUpperTransform,
	} {
		if err := Transforms.Register(name, f); err != nil {
			panic(err)
		}
	}
}

// map copies fields by name to port 0
func newMapTransform(graph.Properties) (Transform, error) {
	return func(in *record.Record, out Emitter) error {
		rec, err := out.NewRecord(0)
		if err != nil {
			return err
		}
		rec.CopyByName(in)
		return out.Emit(0, rec)
	}, nil
}

// filter passes records whose filter_field renders as filter_value. With
// two outputs the other records go to port 1.
func newFilterTransform(props graph.Properties) (Transform, error) {
	field, err := props.Required("filter_field")
	if err != nil {
		return nil, err
	}
	want := props.String("filter_value", "")
	return func(in *record.Record, out Emitter) error {
		f := in.FieldByName(field)
		if f == nil {
			return errors.Newf(errors.ErrorTypeConfig, "filter field %s not in record %s", field, in.Metadata().Name)
		}
		port := 0
		if f.String() != want {
			port = 1
		}
		if !out.Connected(port) {
			return nil
		}
		rec, err := out.NewRecord(port)
		if err != nil {
			return err
		}
		rec.CopyByName(in)
		return out.Emit(port, rec)
	}, nil
}

// split emits one record per separator-delimited part of split_field
func newSplitTransform(props graph.Properties) (Transform, error) {
	field, err := props.Required("split_field")
	if err != nil {
		return nil, err
	}
	sep := props.String("separator", ",")
	return func(in *record.Record, out Emitter) error {
		f := in.FieldByName(field)
		if f == nil {
			return errors.Newf(errors.ErrorTypeConfig, "split field %s not in record %s", field, in.Metadata().Name)
		}
		if f.IsNull() {
			return nil
		}
		for _, part := range strings.Split(f.String(), sep) {
			rec, err := out.NewRecord(0)
			if err != nil {
				return err
			}
			rec.CopyByName(in)
			if target := rec.FieldByName(field); target != nil {
				if err := target.FromString(part); err != nil {
					return errors.Wrap(err, errors.ErrorTypeData, "split part does not fit field "+field)
				}
			}
			if err := out.Emit(0, rec); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// upper upper-cases every string field, or only the fields listed in fields
func newUpperTransform(props graph.Properties) (Transform, error) {
	only := props.List("fields")
	caser := cases.Upper(language.Und)
	return func(in *record.Record, out Emitter) error {
		rec, err := out.NewRecord(0)
		if err != nil {
			return err
		}
		rec.CopyByName(in)
		for i := 0; i < rec.NumFields(); i++ {
			f := rec.Field(i)
			if f.Metadata().Type != metadata.TypeString || f.IsNull() {
				continue
			}
			if len(only) > 0 && !contains(only, f.Name()) {
				continue
			}
			if err := f.SetValue(caser.String(f.Value().(string))); err != nil {
				return err
			}
		}
		return out.Emit(0, rec)
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
