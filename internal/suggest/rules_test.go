package suggest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/profiler"
	"data-cleaning-service/internal/transform"
)

func suggestCSV(t *testing.T, csv string) []models.Suggestion {
	t.Helper()
	prof, tbl, err := profiler.ProfileCSV(strings.NewReader(csv))
	require.NoError(t, err)
	out, err := NewRuleBased().Suggest(context.Background(), prof, tbl)
	require.NoError(t, err)
	return out
}

func ops(s []models.Suggestion) []string {
	out := make([]string, len(s))
	for i, sg := range s {
		out[i] = sg.Operation
		if col, ok := sg.Params["column"].(string); ok {
			out[i] += ":" + col
		}
	}
	return out
}

func TestRuleBased_MarkersBeforeCaseAndNoDrop(t *testing.T) {
	got := suggestCSV(t, "status,n\nActive,1\nUNKNOWN,2\nActive,3\nERROR,4\n")
	assert.Equal(t, []string{"replace_non_values:status"}, ops(got))
}

func TestRuleBased_FullOrdering(t *testing.T) {
	csv := "Transaction ID,Total Spent,Location,Transaction Date\n" +
		"T1,4.0,In-store,2023-09-08\n" +
		"T2,12.0,TakeAway,2023-09-09\n" +
		"T3,ERROR,In-store,2023-09-10\n" +
		"T4,10.0,,2023-09-11\n" +
		"T5,4.0,Takeaway,UNKNOWN\n"
	got := suggestCSV(t, csv)
	assert.Equal(t, []string{
		"standardize_column_names",
		"replace_non_values:total_spent",
		"replace_non_values:transaction_date",
		"standardize_case:location",
		"auto_cast_type:total_spent",
		"auto_cast_datetime:transaction_date",
		"drop_null_rows:location",
	}, ops(got))
}

func TestRuleBased_NullHandlingByType(t *testing.T) {
	got := suggestCSV(t, "a,b,qty\n1,,1\n2,,\n3,,3\n4,,10\n")
	require.Equal(t, []string{"fill_nulls:b", "fill_nulls:qty"}, ops(got))
	assert.Equal(t, 0.0, got[0].Params["value"])
	assert.Equal(t, int64(3), got[1].Params["value"])

	got = suggestCSV(t, "a,name\n1,x\n2,\n")
	assert.Equal(t, []string{"drop_null_rows:name"}, ops(got))
}

func TestRuleBased_Duplicates(t *testing.T) {
	got := suggestCSV(t, "a,b\n1,2\n1,2\n3,4\n")
	assert.Equal(t, []string{transform.OpRemoveDuplicates}, ops(got))
}

func TestRuleBased_IDColumnsKeepCase(t *testing.T) {
	got := suggestCSV(t, "order_code,city\nAb-1,Paris\nxY-2,paris\n")
	assert.Equal(t, []string{"standardize_case:city"}, ops(got))
}

func TestRuleBased_DatetimeNeedsDateLikeName(t *testing.T) {
	got := suggestCSV(t, "created,label\n2024-01-01,2024-01-01\n2024-01-02,2024-01-02\n")
	assert.Equal(t, []string{"auto_cast_datetime:created"}, ops(got))
}

func TestRuleBased_ProfileOnly(t *testing.T) {
	prof := models.ProfilingResult{
		ColumnTypes: map[string]string{"Score": "float64", "name": "string"},
		NullCounts:  map[string]int{"Score": 2, "name": 1},
	}
	got, err := NewRuleBased().Suggest(context.Background(), prof, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"standardize_column_names", "fill_nulls:score", "drop_null_rows:name"}, ops(got))
}

func TestRuleBased_MixedNumericColumnGetsCase(t *testing.T) {
	got := suggestCSV(t, "size\n10\n20\n30\nBig\nsmall\n")
	assert.Equal(t, []string{"standardize_case:size", "auto_cast_type:size"}, ops(got))
}

func TestRuleBased_ProfileOnlySkipsCollidingNames(t *testing.T) {
	prof := models.ProfilingResult{
		ColumnTypes: map[string]string{"A B": "float64", "a_b": "string", "Score": "float64"},
		NullCounts:  map[string]int{"A B": 1, "a_b": 1, "Score": 2},
	}
	got, err := NewRuleBased().Suggest(context.Background(), prof, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"standardize_column_names", "fill_nulls:score"}, ops(got))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
}

func TestNeedsCase(t *testing.T) {
	assert.False(t, needsCase([]string{"Active", "Active"}))
	assert.False(t, needsCase([]string{"Red", "Blue"}))
	assert.True(t, needsCase([]string{"red", "Blue"}))
	assert.False(t, needsCase([]string{"1", "2"}))
}

var (
	_ Engine = (*RuleBased)(nil)
	_ Engine = (*Agent)(nil)
)
