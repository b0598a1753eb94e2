// Package components provides the standard graph nodes: file readers and
// writers for every supported format, record transforms, fan-out, grouping
// and pacing.
//
// The nodes register themselves through the "quasar.components" plugin, so a
// graph registry populated by plugin.Default.ActivateAll knows every type
// below. Register can also be called directly.
package components

import (
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/plugin"
)

// Component type names as used in graph definitions
const (
	TypeReader   = "reader"
	TypeWriter   = "writer"
	TypeReformat = "reformat"
	TypeCopy     = "copy"
	TypeGroup    = "group"
	TypePace     = "pace"
)

// PluginID is the id the components register under
const PluginID = "quasar.components"

// Version of the component set
const Version = "1.0.0"

var factories = map[string]graph.Factory{
	TypeReader:   NewReader,
	TypeWriter:   NewWriter,
	TypeReformat: NewReformat,
	TypeCopy:     NewCopy,
	TypeGroup:    NewGroup,
	TypePace:     NewPace,
}

// Register adds every component factory to reg
func Register(reg *graph.Registry) error {
	for _, typ := range []string{TypeReader, TypeWriter, TypeReformat, TypeCopy, TypeGroup, TypePace} {
		if err := reg.Register(typ, factories[typ]); err != nil {
			return err
		}
	}
	return nil
}

// Descriptor returns the plugin that contributes the components
func Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		ID:      PluginID,
		Version: Version,
		Activate: func(ctx *plugin.Context) error {
			ctx.Logger.Debug("registering components")
			return Register(ctx.Components)
		},
	}
}

func init() {
	plugin.MustRegister(Descriptor())
}
