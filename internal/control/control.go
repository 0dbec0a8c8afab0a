// Package control wraps live broker resources in management controls.
//
// Every control exposes its attributes and operations through a capability
// table built once per kind, so the generic management path is a name
// lookup instead of runtime introspection.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/nuetzliches/brokeradmin/internal/resource"
)

var (
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Control is implemented by every control kind, including Opaque.
type Control interface {
	Kind() resource.Kind
	// Name is the unprefixed resource name; singletons return "".
	Name() string
	Attribute(name string) (any, error)
	Invoke(ctx context.Context, name string, params []any) (any, error)
	Attributes() []string
	Operations() []string
}

// ResourceName returns the composite name c is addressed by.
func ResourceName(c Control) string {
	return resource.Name(c.Kind(), c.Name())
}

// ParamError reports a bad operation argument list.
type ParamError struct {
	Operation string
	Index     int
	Reason    string
}

func (e *ParamError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s: param %d: %s", e.Operation, e.Index, e.Reason)
}

type operation[C any] struct {
	minArgs int
	maxArgs int
	fn      func(ctx context.Context, c C, args Args) (any, error)
}

// Table maps attribute and operation names of one control kind to typed
// accessors. Tables are immutable after package init.
type Table[C any] struct {
	kind  resource.Kind
	attrs map[string]func(C) any
	ops   map[string]operation[C]
}

func newTable[C any](kind resource.Kind) *Table[C] {
	return &Table[C]{
		kind:  kind,
		attrs: make(map[string]func(C) any),
		ops:   make(map[string]operation[C]),
	}
}

func (t *Table[C]) attr(name string, fn func(C) any) *Table[C] {
	if _, dup := t.attrs[name]; dup {
		panic(fmt.Sprintf("control %s: duplicate attribute %q", t.kind, name))
	}
	t.attrs[name] = fn
	return t
}

// op registers an operation taking between minArgs and maxArgs parameters.
func (t *Table[C]) op(name string, minArgs, maxArgs int, fn func(context.Context, C, Args) (any, error)) *Table[C] {
	if _, dup := t.ops[name]; dup {
		panic(fmt.Sprintf("control %s: duplicate operation %q", t.kind, name))
	}
	t.ops[name] = operation[C]{minArgs: minArgs, maxArgs: maxArgs, fn: fn}
	return t
}

// action registers a parameterless operation with no result.
func (t *Table[C]) action(name string, fn func(C) error) *Table[C] {
	return t.op(name, 0, 0, func(_ context.Context, c C, _ Args) (any, error) {
		return nil, fn(c)
	})
}

func (t *Table[C]) get(c C, name string) (v any, err error) {
	fn, ok := t.attrs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, t.kind, name)
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("attribute %s.%s panicked: %v", t.kind, name, r)
		}
	}()
	return fn(c), nil
}

func (t *Table[C]) invoke(ctx context.Context, c C, name string, params []any) (v any, err error) {
	op, ok := t.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOperation, t.kind, name)
	}
	if len(params) < op.minArgs || len(params) > op.maxArgs {
		want := strconv.Itoa(op.minArgs)
		if op.maxArgs != op.minArgs {
			want = fmt.Sprintf("%d to %d", op.minArgs, op.maxArgs)
		}
		return nil, &ParamError{Operation: name, Index: -1, Reason: fmt.Sprintf("expected %s params, got %d", want, len(params))}
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("operation %s.%s panicked: %v", t.kind, name, r)
		}
	}()
	return op.fn(ctx, c, Args{op: name, values: params})
}

func (t *Table[C]) attributeNames() []string {
	return sortedKeys(t.attrs)
}

func (t *Table[C]) operationNames() []string {
	return sortedKeys(t.ops)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Args gives typed access to operation parameters. Parameters arrive from
// JSON or protobuf Struct values, so numbers may be float64, json.Number or
// numeric strings.
type Args struct {
	op     string
	values []any
}

func (a Args) Len() int {
	return len(a.values)
}

func (a Args) String(i int) (string, error) {
	if i >= len(a.values) || a.values[i] == nil {
		return "", nil
	}
	switch v := a.values[i].(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", &ParamError{Operation: a.op, Index: i, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
}

// Int returns def when parameter i is absent.
func (a Args) Int(i, def int) (int, error) {
	if i >= len(a.values) || a.values[i] == nil {
		return def, nil
	}
	bad := func(reason string) error {
		return &ParamError{Operation: a.op, Index: i, Reason: reason}
	}
	switch v := a.values[i].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, bad(fmt.Sprintf("expected integer, got %v", v))
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, bad(fmt.Sprintf("expected integer, got %q", v.String()))
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, bad(fmt.Sprintf("expected integer, got %q", v))
		}
		return n, nil
	default:
		return 0, bad(fmt.Sprintf("expected integer, got %T", v))
	}
}
