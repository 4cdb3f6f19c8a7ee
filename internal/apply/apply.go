// Package apply runs an ordered list of suggestions against a dataset.
//
// Unknown operation names are skipped with a warning so that suggestions from
// any source can be applied. Any operation error aborts the whole run; no
// partially cleaned table is returned.
package apply

import (
	"context"
	"fmt"
	"log/slog"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/table"
	"data-cleaning-service/internal/telemetry"
	"data-cleaning-service/internal/transform"
)

// TypeMetadata records column types of a cleaned table, which its CSV form
// cannot carry on its own.
type TypeMetadata struct {
	ColumnTypes     map[string]string `json:"column_types"`
	DatetimeColumns []string          `json:"datetime_columns"`
}

type Engine struct {
	registry *transform.Registry
	log      *slog.Logger
}

func New(registry *transform.Registry, log *slog.Logger) *Engine {
	return &Engine{registry: registry, log: log}
}

// Apply executes suggestions in order against a copy of t.
func (e *Engine) Apply(ctx context.Context, t *table.Table, suggestions []models.Suggestion) (*table.Table, TypeMetadata, error) {
	work := t.Clone()
	for i, s := range suggestions {
		if err := ctx.Err(); err != nil {
			return nil, TypeMetadata{}, err
		}
		op, ok := e.registry.Lookup(s.Operation)
		if !ok {
			e.log.Warn("skipping unknown operation", "step", i+1, "operation", s.Operation)
			telemetry.SkippedOperations.WithLabelValues(s.Operation).Inc()
			continue
		}
		next, err := run(op, work, s.Params, e.log.With("step", i+1, "operation", s.Operation))
		if err != nil {
			return nil, TypeMetadata{}, &models.OperationError{Step: i + 1, Operation: s.Operation, Err: err}
		}
		work = next
	}
	return work, Describe(work), nil
}

func run(op transform.Operation, t *table.Table, params map[string]any, log *slog.Logger) (out *table.Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return op(t, transform.Params(params), log)
}

// Describe derives type metadata from a table.
func Describe(t *table.Table) TypeMetadata {
	md := TypeMetadata{
		ColumnTypes:     make(map[string]string, len(t.Columns)),
		DatetimeColumns: []string{},
	}
	for _, col := range t.Columns {
		md.ColumnTypes[col.Name] = col.Kind.String()
		if col.Kind == table.KindDatetime {
			md.DatetimeColumns = append(md.DatetimeColumns, col.Name)
		}
	}
	return md
}
