package management

import (
	"log/slog"

	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/resource"
)

// RegisterUntypedControl registers obj under its literal name. obj may
// implement control.AttributeReader and control.Invoker to take part in
// generic access.
func (g *Gateway) RegisterUntypedControl(name string, obj any, handle string) error {
	if obj == nil {
		return errNilResource
	}
	return g.register(control.NewOpaque(name, obj, handle), handle)
}

func (g *Gateway) UnregisterUntypedControl(name, handle string) error {
	if _, tracked := g.exposed.Load(name); !tracked && handle != "" && g.exposer != nil {
		if err := g.exposer.Unexpose(handle); err != nil {
			g.logger.Debug("unexpose_failed", slog.String("name", name), slog.String("handle", handle), slog.Any("err", err))
		}
	}
	return g.unregister(resource.KindUntyped, name)
}

// UntypedControl returns the object registered under name, or nil.
func (g *Gateway) UntypedControl(name string) any {
	o, ok := g.reg.Untyped().Get(name)
	if !ok {
		return nil
	}
	return o.Value()
}

func (g *Gateway) UntypedControls(match func(any) bool) []any {
	var out []any
	for _, o := range g.reg.Untyped().List(nil) {
		if match == nil || match(o.Value()) {
			out = append(out, o.Value())
		}
	}
	return out
}

// RegisterObject exposes obj under handle without registering a control.
//
// Deprecated: use the typed Register methods or RegisterUntypedControl.
func (g *Gateway) RegisterObject(handle string, obj any) error {
	if g.exposer == nil {
		return nil
	}
	return g.exposer.Expose(handle, obj)
}

// UnregisterObject reverses RegisterObject.
//
// Deprecated: use the typed Unregister methods or UnregisterUntypedControl.
func (g *Gateway) UnregisterObject(handle string) error {
	if g.exposer == nil {
		return nil
	}
	return g.exposer.Unexpose(handle)
}

// Resource resolves a composite resource name to its control, or to the
// registered object for untyped names. It returns nil when nothing is
// registered.
//
// Deprecated: use the typed accessors or UntypedControl.
func (g *Gateway) Resource(name string) any {
	c, ok := g.reg.GetByName(name)
	if !ok {
		return nil
	}
	if o, ok := c.(*control.Opaque); ok {
		return o.Value()
	}
	return c
}

// Resources returns every registered control and untyped object accepted
// by match.
//
// Deprecated: use the typed list accessors or UntypedControls.
func (g *Gateway) Resources(match func(any) bool) []any {
	var out []any
	for _, kind := range resource.Kinds {
		for _, c := range g.reg.List(kind) {
			var v any = c
			if o, ok := c.(*control.Opaque); ok {
				v = o.Value()
			}
			if match == nil || match(v) {
				out = append(out, v)
			}
		}
	}
	return out
}
