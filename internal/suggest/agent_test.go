package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/models"
)

type fakeGenerator struct {
	reply  string
	err    error
	system string
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.reply, f.err
}

func TestAgent_SendsProfilingAndParsesObject(t *testing.T) {
	gen := &fakeGenerator{reply: `{"suggestions":[{"operation":"drop_column","params":{"column":"x"}},{"operation":"standardize_column_names"}]}`}
	agent := NewAgent(gen, []string{"drop_column", "standardize_column_names"})

	prof := models.ProfilingResult{JobID: "j1", RowCount: 3, ColumnTypes: map[string]string{"x": "string"}}
	got, err := agent.Suggest(context.Background(), prof, nil)
	require.NoError(t, err)

	assert.Equal(t, []models.Suggestion{
		{Operation: "drop_column", Params: map[string]any{"column": "x"}},
		{Operation: "standardize_column_names", Params: map[string]any{}},
	}, got)
	assert.Contains(t, gen.system, "drop_column, standardize_column_names")
	assert.Contains(t, gen.prompt, `"row_count":3`)
}

func TestAgent_GeneratorError(t *testing.T) {
	agent := NewAgent(&fakeGenerator{err: errors.New("offline")}, nil)
	_, err := agent.Suggest(context.Background(), models.ProfilingResult{}, nil)
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	got, err := ParseReply("```json\n[{\"operation\":\"fill_nulls\",\"params\":{\"column\":\"a\",\"value\":0}}]\n```")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fill_nulls", got[0].Operation)
	assert.Equal(t, 0.0, got[0].Params["value"])

	// Unknown operations pass through; apply skips them.
	got, err = ParseReply(`[{"operation":"explode"}]`)
	require.NoError(t, err)
	assert.Equal(t, "explode", got[0].Operation)

	for _, bad := range []string{
		"not json",
		`{"other": []}`,
		`[1, 2]`,
		`[{"params": {}}]`,
		`[{"operation": "drop_column", "params": "column=x"}]`,
	} {
		_, err := ParseReply(bad)
		assert.ErrorIs(t, err, models.ErrInvalidSuggestion, strings.TrimSpace(bad))
	}
}
