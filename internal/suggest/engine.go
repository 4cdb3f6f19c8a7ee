// Package suggest proposes ordered cleaning operations for a dataset.
package suggest

import (
	"context"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/table"
)

// Engine produces an ordered suggestion list. The table may be nil, in which
// case only the profiling statistics are available.
type Engine interface {
	Suggest(ctx context.Context, prof models.ProfilingResult, t *table.Table) ([]models.Suggestion, error)
}
