package management

import (
	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/resource"
)

// Description lists what the generic path can reach on one resource.
type Description struct {
	Name       string        `json:"name"`
	Kind       resource.Kind `json:"kind"`
	Attributes []string      `json:"attributes"`
	Operations []string      `json:"operations"`
}

// Describe resolves a composite resource name. Describing is not
// authorized separately; member lists carry no resource state.
func (g *Gateway) Describe(resourceName string) (Description, bool) {
	c, ok := g.reg.GetByName(resourceName)
	if !ok {
		return Description{}, false
	}
	return Description{
		Name:       control.ResourceName(c),
		Kind:       c.Kind(),
		Attributes: nonNil(c.Attributes()),
		Operations: nonNil(c.Operations()),
	}, true
}

// ResourceNames lists the composite names registered for kind, or for every
// kind when kind is empty.
func (g *Gateway) ResourceNames(kind resource.Kind) []string {
	kinds := resource.Kinds
	if kind != "" {
		kinds = []resource.Kind{kind}
	}
	out := []string{}
	for _, k := range kinds {
		for _, name := range g.reg.Names(k) {
			out = append(out, resource.Name(k, name))
		}
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
