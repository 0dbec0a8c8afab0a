package view

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Operation string

const (
	OpEquals      Operation = "EQUALS"
	OpNotEquals   Operation = "NOT_EQUALS"
	OpContains    Operation = "CONTAINS"
	OpNotContains Operation = "NOT_CONTAINS"
	OpGreaterThan Operation = "GREATER_THAN"
	OpLessThan    Operation = "LESS_THAN"
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

var errOptionsNotObject = errors.New("options must be a JSON object")

// Options is a parsed query: at most one filter and one sort.
type Options struct {
	Field     string
	Operation Operation
	Value     string
	SortField string
	SortOrder SortOrder
}

// HasFilter reports whether both a field and an operation were supplied.
func (o Options) HasFilter() bool {
	return o.Field != "" && o.Operation != ""
}

// ParseOptions decodes the current ({..., "sortField"}) and the legacy
// ({..., "sortColumn"}) query shapes. It never fails hard: "" and "null"
// yield the zero Options, and malformed input yields the zero Options
// together with a non-nil error describing what was ignored.
func ParseOptions(raw string) (Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Options{SortOrder: Asc}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Options{SortOrder: Asc}, fmt.Errorf("decode options: %w", err)
	}
	if obj == nil {
		return Options{SortOrder: Asc}, errOptionsNotObject
	}

	var errs []error
	str := func(key string) string {
		v, ok := obj[key]
		if !ok || v == nil {
			return ""
		}
		s, ok := scalarString(v)
		if !ok {
			errs = append(errs, fmt.Errorf("options.%s: expected a scalar, got %T", key, v))
			return ""
		}
		return strings.TrimSpace(s)
	}

	out := Options{
		Field:     str("field"),
		Operation: Operation(strings.ToUpper(str("operation"))),
		Value:     str("value"),
		SortField: str("sortField"),
		SortOrder: Asc,
	}
	if legacy := str("sortColumn"); out.SortField == "" {
		out.SortField = legacy
	}
	if strings.EqualFold(str("sortOrder"), string(Desc)) {
		out.SortOrder = Desc
	}
	return out, errors.Join(errs...)
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}
