package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createJob(t *testing.T, s *Store, id string, created time.Time) {
	t.Helper()
	require.NoError(t, s.CreateJob(context.Background(), models.Job{
		ID: id, OriginalFilename: id + ".csv", Status: models.StatusPending, CreatedAt: created,
	}))
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	var n int
	require.NoError(t, s2.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	createJob(t, s, "a", base)
	createJob(t, s, "b", base.Add(time.Second))

	job, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.csv", job.OriginalFilename)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.True(t, base.Equal(job.CreatedAt))
	assert.Nil(t, job.CompletedAt)

	_, err = s.GetJob(ctx, "zzz")
	assert.ErrorIs(t, err, models.ErrNotFound)

	jobs, err := s.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].ID)
}

func TestUpdateStatusIsCompareAndSwap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createJob(t, s, "a", time.Now())

	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusPending, models.StatusProfiling, nil))
	err := s.UpdateStatus(ctx, "a", models.StatusPending, models.StatusProfiling, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	done := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusProfiling, models.StatusFailed, &done))
	job, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, done.Equal(*job.CompletedAt))

	require.NoError(t, s.UpdateStatus(ctx, "a", models.StatusFailed, models.StatusProfiling, nil))
	job, _ = s.GetJob(ctx, "a")
	assert.Nil(t, job.CompletedAt)
}

func TestEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createJob(t, s, "a", time.Now())

	require.NoError(t, s.AppendEvent(ctx, models.JobEvent{JobID: "a", FromStatus: models.StatusPending, ToStatus: models.StatusProfiling, Recorded: time.Now()}))
	require.NoError(t, s.AppendEvent(ctx, models.JobEvent{JobID: "a", FromStatus: models.StatusProfiling, ToStatus: models.StatusFailed, Detail: "boom", Recorded: time.Now()}))

	events, err := s.ListEvents(ctx, "a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.StatusFailed, events[1].ToStatus)
	assert.Equal(t, "boom", events[1].Detail)
}

func TestProfilingIsReplaced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createJob(t, s, "a", time.Now())

	_, err := s.GetProfiling(ctx, "a")
	assert.ErrorIs(t, err, models.ErrNotFound)

	first := models.ProfilingResult{JobID: "a", RowCount: 3, ColumnCount: 1,
		ColumnTypes: map[string]string{"x": "int64"}, NullCounts: map[string]int{"x": 1}}
	require.NoError(t, s.ReplaceProfiling(ctx, first))
	second := first
	second.RowCount = 5
	require.NoError(t, s.ReplaceProfiling(ctx, second))

	got, err := s.GetProfiling(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestLatestSuggestions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createJob(t, s, "a", time.Now())

	_, err := s.LatestSuggestions(ctx, "a")
	assert.ErrorIs(t, err, models.ErrNotFound)

	now := time.Now()
	require.NoError(t, s.AddSuggestions(ctx, models.SuggestionSet{ID: "s1", JobID: "a", CreatedAt: now,
		Suggestions: []models.Suggestion{{Operation: "drop_column", Params: map[string]any{"column": "x"}}}}))
	require.NoError(t, s.AddSuggestions(ctx, models.SuggestionSet{ID: "s2", JobID: "a", CreatedAt: now,
		Suggestions: []models.Suggestion{
			{Operation: "standardize_column_names", Params: map[string]any{}},
			{Operation: "fill_nulls", Params: map[string]any{"column": "y", "value": 0.0}},
		}}))

	set, err := s.LatestSuggestions(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "s2", set.ID)
	require.Len(t, set.Suggestions, 2)
	assert.Equal(t, "standardize_column_names", set.Suggestions[0].Operation)
	assert.Equal(t, 0.0, set.Suggestions[1].Params["value"])
}
