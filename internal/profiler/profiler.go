// Package profiler computes the observed shape of a dataset.
package profiler

import (
	"io"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/table"
)

// Profile reports row count, declared column types and null counts in a single pass.
func Profile(t *table.Table) models.ProfilingResult {
	res := models.ProfilingResult{
		RowCount:    t.Len(),
		ColumnCount: len(t.Columns),
		ColumnTypes: make(map[string]string, len(t.Columns)),
		NullCounts:  make(map[string]int, len(t.Columns)),
	}
	for _, col := range t.Columns {
		res.ColumnTypes[col.Name] = col.Kind.String()
		res.NullCounts[col.Name] = col.NullCount()
	}
	return res
}

// ProfileCSV decodes r and profiles it. Unparseable input yields models.ErrDataUnreadable.
func ProfileCSV(r io.Reader) (models.ProfilingResult, *table.Table, error) {
	t, err := table.Decode(r)
	if err != nil {
		return models.ProfilingResult{}, nil, err
	}
	return Profile(t), t, nil
}
