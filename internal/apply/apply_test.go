package apply

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/profiler"
	"data-cleaning-service/internal/suggest"
	"data-cleaning-service/internal/table"
	"data-cleaning-service/internal/transform"
)

func newEngine() *Engine {
	return New(transform.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func col(column string) map[string]any { return map[string]any{"column": column} }

func TestApply_MarkersThenNumericCast(t *testing.T) {
	tbl := table.New(&table.Column{Name: "total", Kind: table.KindString, Values: []any{"4.0", "12.0", "ERROR", "10.0", "4.0"}})
	out, md, err := newEngine().Apply(context.Background(), tbl, []models.Suggestion{
		{Operation: transform.OpReplaceNonValues, Params: col("total")},
		{Operation: transform.OpAutoCastType, Params: col("total")},
	})
	require.NoError(t, err)

	total, _ := out.Column("total")
	assert.True(t, total.Kind.Numeric())
	assert.Equal(t, []any{int64(4), int64(12), nil, int64(10), int64(4)}, total.Values)
	assert.Equal(t, "int64", md.ColumnTypes["total"])

	orig, _ := tbl.Column("total")
	assert.Equal(t, "ERROR", orig.Values[2], "input table is not modified")
}

func TestApply_SkipsUnknownOperations(t *testing.T) {
	tbl := table.New(
		&table.Column{Name: "a", Kind: table.KindInt, Values: []any{int64(1), int64(2)}},
		&table.Column{Name: "b", Kind: table.KindString, Values: []any{"x", "y"}},
	)
	out, _, err := newEngine().Apply(context.Background(), tbl, []models.Suggestion{
		{Operation: "explode", Params: map[string]any{}},
		{Operation: transform.OpDropColumn, Params: col("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Names())
}

func TestApply_OperationErrorAborts(t *testing.T) {
	tbl := table.New(&table.Column{Name: "a", Kind: table.KindInt, Values: []any{int64(1), nil}})
	out, _, err := newEngine().Apply(context.Background(), tbl, []models.Suggestion{
		{Operation: transform.OpDropColumn, Params: col("zzz")},
		{Operation: transform.OpFillNulls, Params: col("a")},
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, models.ErrOperationFailure))

	var opErr *models.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, 2, opErr.Step)
	assert.Equal(t, transform.OpFillNulls, opErr.Operation)
}

func TestApply_TypeMetadataListsDatetimes(t *testing.T) {
	tbl := table.New(&table.Column{Name: "when", Kind: table.KindString, Values: []any{"2024-01-01", "2024-01-02"}})
	_, md, err := newEngine().Apply(context.Background(), tbl, []models.Suggestion{
		{Operation: transform.OpAutoCastDatetime, Params: col("when")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"when"}, md.DatetimeColumns)
	assert.Equal(t, "datetime", md.ColumnTypes["when"])
}

func TestApply_RuleSuggestionsEndToEnd(t *testing.T) {
	csv := "Transaction ID,Total Spent,Location,Transaction Date\n" +
		"T1,4.0,In-store,2023-09-08\n" +
		"T2,12.0,TakeAway,2023-09-09\n" +
		"T3,ERROR,In-store,2023-09-10\n" +
		"T4,10.0,,2023-09-11\n" +
		"T5,4.0,Takeaway,UNKNOWN\n"
	prof, tbl, err := profiler.ProfileCSV(strings.NewReader(csv))
	require.NoError(t, err)
	suggestions, err := suggest.NewRuleBased().Suggest(context.Background(), prof, tbl)
	require.NoError(t, err)

	render := func() string {
		out, _, err := newEngine().Apply(context.Background(), tbl, suggestions)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, table.Encode(&buf, out))
		return buf.String()
	}

	first := render()
	want := "transaction_id,total_spent,location,transaction_date\n" +
		"T1,4,in_store,2023-09-08\n" +
		"T2,12,takeaway,2023-09-09\n" +
		"T3,,in_store,2023-09-10\n" +
		"T5,4,takeaway,\n"
	assert.Equal(t, want, first)
	assert.Equal(t, first, render(), "applying twice is byte-identical")
}
