// Package view implements the filter, sort and page engine behind the
// list* management operations.
package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// View runs one query over one snapshot. It is not safe for concurrent use;
// each query builds its own View.
type View[T any] struct {
	kind    *Kind[T]
	logger  *slog.Logger
	options Options
	items   []T
}

func New[T any](kind *Kind[T], logger *slog.Logger) *View[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &View[T]{
		kind:    kind,
		logger:  logger,
		options: Options{SortOrder: Asc},
	}
}

// SetOptions accepts any input. Malformed options are logged at debug and
// replaced by no filter with the default sort.
func (v *View[T]) SetOptions(raw string) {
	opts, err := ParseOptions(raw)
	if err != nil {
		v.logger.Debug("view_options_ignored",
			slog.String("kind", v.kind.Name()),
			slog.Any("err", err),
		)
		opts = Options{SortOrder: Asc}
	}
	v.options = opts
}

func (v *View[T]) Options() Options {
	return v.options
}

// SetCollection stores a copy of items; later changes to the caller's slice
// do not affect the view.
func (v *View[T]) SetCollection(items []T) {
	v.items = append([]T(nil), items...)
}

// SortField is the requested sort field, or the kind's default order column
// when none was requested.
func (v *View[T]) SortField() string {
	if v.options.SortField != "" {
		return v.options.SortField
	}
	return v.kind.DefaultOrderColumn()
}

func (v *View[T]) SortOrder() SortOrder {
	if v.options.SortOrder == Desc {
		return Desc
	}
	return Asc
}

func (v *View[T]) DefaultOrderColumn() string {
	return v.kind.DefaultOrderColumn()
}

// Results filters and sorts the snapshot. The snapshot itself is left
// untouched so the same view can be evaluated repeatedly.
func (v *View[T]) Results() []T {
	out := make([]T, 0, len(v.items))
	match := v.kind.matcher(v.options)
	for _, item := range v.items {
		if match == nil || match(item) {
			out = append(out, item)
		}
	}

	field, ok := v.sortColumn()
	if !ok {
		return out
	}
	desc := v.SortOrder() == Desc
	sort.SliceStable(out, func(i, j int) bool {
		c := compareValues(field.Extract(out[i]), field.Extract(out[j]))
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func (v *View[T]) sortColumn() (Field[T], bool) {
	if name := v.options.SortField; name != "" {
		if f, ok := v.kind.Field(name); ok && f.Sortable && f.Extract != nil {
			return f, true
		}
	}
	f, ok := v.kind.Field(v.kind.DefaultOrderColumn())
	if !ok || f.Extract == nil {
		return Field[T]{}, false
	}
	return f, true
}

// PagedResult returns one page of Results. page or pageSize of -1 returns
// everything; page 0, non-positive sizes and pages past the end are empty.
func (v *View[T]) PagedResult(page, pageSize int) []T {
	return Page(v.Results(), page, pageSize)
}

// Page slices items into [(page-1)*pageSize, page*pageSize) clipped to the
// slice bounds.
func Page[T any](items []T, page, pageSize int) []T {
	if page == -1 || pageSize == -1 {
		return items
	}
	if page <= 0 || pageSize <= 0 {
		return []T{}
	}
	pages := len(items) / pageSize
	if len(items)%pageSize != 0 {
		pages++
	}
	if page > pages {
		return []T{}
	}
	// page <= pages keeps start below len(items), so nothing here overflows.
	start := (page - 1) * pageSize
	end := len(items)
	if pageSize < end-start {
		end = start + pageSize
	}
	return items[start:end]
}

// ResultsJSON renders {"count": N, "data": [...]}, where N counts the
// filtered set before paging.
func (v *View[T]) ResultsJSON(page, pageSize int) ([]byte, error) {
	all := v.Results()
	paged := Page(all, page, pageSize)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"count":%d,"data":[`, len(all))
	for i, item := range paged {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := v.writeEntity(&buf, item); err != nil {
			return nil, err
		}
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

func (v *View[T]) writeEntity(buf *bytes.Buffer, item T) error {
	buf.WriteByte('{')
	for i, f := range v.kind.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.Name)
		buf.Write(key)
		buf.WriteByte(':')
		var val any
		if f.Extract != nil {
			val = f.Extract(item)
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", v.kind.Name(), f.Name, err)
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return nil
}
