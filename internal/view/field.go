package view

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field describes one queryable attribute of an entity kind. Extract returns
// nil when the value cannot be resolved for an entity.
type Field[T any] struct {
	Name       string
	Extract    func(T) any
	Sortable   bool
	Filterable bool
}

// Kind is the ordered field set of an entity kind. The field order drives the
// key order of the JSON rendering.
type Kind[T any] struct {
	name         string
	defaultOrder string
	fields       []Field[T]
	index        map[string]int
}

// NewKind panics on duplicate field names or a default order column that is
// not a sortable field; kinds are package-level values built at init.
func NewKind[T any](name, defaultOrder string, fields ...Field[T]) *Kind[T] {
	k := &Kind[T]{
		name:         name,
		defaultOrder: defaultOrder,
		fields:       fields,
		index:        make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if _, dup := k.index[f.Name]; dup {
			panic(fmt.Sprintf("view %s: duplicate field %q", name, f.Name))
		}
		k.index[f.Name] = i
	}
	if defaultOrder != "" {
		f, ok := k.Field(defaultOrder)
		if !ok || !f.Sortable {
			panic(fmt.Sprintf("view %s: default order column %q is not sortable", name, defaultOrder))
		}
	}
	return k
}

func (k *Kind[T]) Name() string {
	return k.name
}

func (k *Kind[T]) DefaultOrderColumn() string {
	return k.defaultOrder
}

func (k *Kind[T]) Field(name string) (Field[T], bool) {
	i, ok := k.index[name]
	if !ok {
		return Field[T]{}, false
	}
	return k.fields[i], true
}

func (k *Kind[T]) Fields() []Field[T] {
	return append([]Field[T](nil), k.fields...)
}

func (k *Kind[T]) FieldNames() []string {
	out := make([]string, len(k.fields))
	for i, f := range k.fields {
		out[i] = f.Name
	}
	return out
}

// matcher builds the filter predicate for opts. A nil matcher means every
// entity passes.
func (k *Kind[T]) matcher(opts Options) func(T) bool {
	if !opts.HasFilter() {
		return nil
	}
	f, ok := k.Field(opts.Field)
	if !ok || !f.Filterable || f.Extract == nil {
		return func(T) bool { return false }
	}
	cmp, ok := operators[opts.Operation]
	if !ok {
		return func(T) bool { return false }
	}
	want := opts.Value
	return func(e T) bool {
		v := f.Extract(e)
		if v == nil {
			return false
		}
		return cmp(v, want)
	}
}

var operators = map[Operation]func(v any, want string) bool{
	OpEquals:      matchEquals,
	OpNotEquals:   func(v any, want string) bool { return !matchEquals(v, want) },
	OpContains:    func(v any, want string) bool { return strings.Contains(render(v), want) },
	OpNotContains: func(v any, want string) bool { return !strings.Contains(render(v), want) },
	OpGreaterThan: func(v any, want string) bool { return compareNumeric(v, want, func(c int) bool { return c > 0 }) },
	OpLessThan:    func(v any, want string) bool { return compareNumeric(v, want, func(c int) bool { return c < 0 }) },
}

func matchEquals(v any, want string) bool {
	if n, ok := number(v); ok {
		if w, err := strconv.ParseFloat(strings.TrimSpace(want), 64); err == nil {
			return n == w
		}
	}
	if b, ok := v.(bool); ok {
		if w, err := strconv.ParseBool(strings.TrimSpace(want)); err == nil {
			return b == w
		}
	}
	return render(v) == want
}

func compareNumeric(v any, want string, accept func(int) bool) bool {
	n, ok := number(v)
	if !ok {
		return false
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(want), 64)
	if err != nil || math.IsNaN(w) {
		return false
	}
	switch {
	case n < w:
		return accept(-1)
	case n > w:
		return accept(1)
	default:
		return accept(0)
	}
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case time.Duration:
		return float64(x.Milliseconds()), true
	default:
		return 0, false
	}
}

// render is the string form used for CONTAINS and string equality.
func render(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		return strings.Join(x, ",")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// compareValues orders nil before everything else, numbers numerically,
// booleans false before true, and everything else by its string form.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(render(a), render(b))
}
