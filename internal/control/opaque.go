package control

import (
	"context"
	"fmt"
	"sort"

	"github.com/nuetzliches/brokeradmin/internal/resource"
)

// AttributeReader is implemented by untyped values that expose attributes.
type AttributeReader interface {
	Attribute(name string) (any, error)
	Attributes() []string
}

// Invoker is implemented by untyped values that expose operations.
type Invoker interface {
	Invoke(ctx context.Context, name string, params []any) (any, error)
	Operations() []string
}

// Opaque holds an object of no known kind, registered by its literal name.
// Attribute and operation calls are forwarded when the object implements
// AttributeReader or Invoker; map[string]any values serve their keys as
// attributes.
type Opaque struct {
	name   string
	handle string
	value  any
}

func NewOpaque(name string, value any, handle string) *Opaque {
	return &Opaque{name: name, handle: handle, value: value}
}

func (o *Opaque) Kind() resource.Kind { return resource.KindUntyped }
func (o *Opaque) Name() string        { return o.name }
func (o *Opaque) Handle() string      { return o.handle }
func (o *Opaque) Value() any          { return o.value }

func (o *Opaque) Attribute(name string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("attribute %s.%s panicked: %v", o.name, name, r)
		}
	}()
	switch x := o.value.(type) {
	case AttributeReader:
		return x.Attribute(name)
	case map[string]any:
		if val, ok := x[name]; ok {
			return val, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, o.name, name)
}

func (o *Opaque) Invoke(ctx context.Context, name string, params []any) (v any, err error) {
	inv, ok := o.value.(Invoker)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOperation, o.name, name)
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("operation %s.%s panicked: %v", o.name, name, r)
		}
	}()
	return inv.Invoke(ctx, name, params)
}

func (o *Opaque) Attributes() []string {
	switch x := o.value.(type) {
	case AttributeReader:
		return x.Attributes()
	case map[string]any:
		return sortedKeys(x)
	}
	return []string{}
}

func (o *Opaque) Operations() []string {
	if inv, ok := o.value.(Invoker); ok {
		out := append([]string(nil), inv.Operations()...)
		sort.Strings(out)
		return out
	}
	return []string{}
}
