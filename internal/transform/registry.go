// Package transform is the registry of named dataset transformations.
//
// Operations skip work when the referenced column is absent, and casts are
// best effort: a value that cannot be converted leaves the column unchanged
// and is reported as a warning on the supplied logger. A returned error means
// the parameters were unusable and the caller should abort.
package transform

import (
	"fmt"
	"log/slog"
	"sort"

	"data-cleaning-service/internal/table"
)

// Operation transforms a table. It may mutate t in place.
type Operation func(t *table.Table, p Params, log *slog.Logger) (*table.Table, error)

const (
	OpDropNullRows           = "drop_null_rows"
	OpFillNulls              = "fill_nulls"
	OpCastType               = "cast_type"
	OpDropColumn             = "drop_column"
	OpStandardizeCase        = "standardize_case"
	OpStandardizeColumnNames = "standardize_column_names"
	OpReplaceNonValues       = "replace_non_values"
	OpAutoCastType           = "auto_cast_type"
	OpAutoCastDatetime       = "auto_cast_datetime"
	OpRemoveDuplicates       = "remove_duplicates"
)

// Registry maps operation names to implementations. It is immutable once built.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry returns a registry holding every built-in operation.
func NewRegistry() *Registry {
	return &Registry{ops: map[string]Operation{
		OpDropNullRows:           dropNullRows,
		OpFillNulls:              fillNulls,
		OpCastType:               castType,
		OpDropColumn:             dropColumn,
		OpStandardizeCase:        standardizeCase,
		OpStandardizeColumnNames: standardizeColumnNames,
		OpReplaceNonValues:       replaceNonValues,
		OpAutoCastType:           autoCastType,
		OpAutoCastDatetime:       autoCastDatetime,
		OpRemoveDuplicates:       removeDuplicates,
	}}
}

// Lookup returns the named operation.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Names lists registered operation names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params are the arguments of a single operation.
type Params map[string]any

// String returns a string parameter.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Column returns the required "column" parameter.
func (p Params) Column() (string, error) {
	col, ok := p.String("column")
	if !ok || col == "" {
		return "", fmt.Errorf("missing %q parameter", "column")
	}
	return col, nil
}

// Strings returns a list parameter given as []string or []any of strings.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
