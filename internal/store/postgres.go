package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"data-cleaning-service/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job models.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, original_filename, status, created_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $4)
	`, job.ID, job.OriginalFilename, job.Status, job.CreatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, original_filename, status, created_at, completed_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var completed pgtype.Timestamptz
	if err := row.Scan(&job.ID, &job.OriginalFilename, &job.Status, &job.CreatedAt, &completed); err != nil {
		return models.Job{}, err
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// ListJobs returns the newest jobs first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateStatus moves a job from one status to another. It fails with
// models.ErrInvalidTransition when the stored status is no longer from.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to models.Status, completedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $3, completed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, completedAt)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is no longer %s", models.ErrInvalidTransition, id, from)
	}
	return nil
}

// AppendEvent adds a status history row.
func (s *Store) AppendEvent(ctx context.Context, ev models.JobEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_events (job_id, from_status, to_status, detail, ts)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.JobID, ev.FromStatus, ev.ToStatus, ev.Detail, ev.Recorded)
	return err
}

// ListEvents returns a job's status history, oldest first.
func (s *Store) ListEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, from_status, to_status, detail, ts FROM job_events WHERE job_id = $1 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var ev models.JobEvent
		if err := rows.Scan(&ev.JobID, &ev.FromStatus, &ev.ToStatus, &ev.Detail, &ev.Recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReplaceProfiling swaps the job's profiling record for res.
func (s *Store) ReplaceProfiling(ctx context.Context, res models.ProfilingResult) error {
	types, err := json.Marshal(res.ColumnTypes)
	if err != nil {
		return fmt.Errorf("marshal column types: %w", err)
	}
	nulls, err := json.Marshal(res.NullCounts)
	if err != nil {
		return fmt.Errorf("marshal null counts: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `DELETE FROM profiling_results WHERE job_id = $1`, res.JobID); err != nil {
		return fmt.Errorf("delete profiling: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO profiling_results (job_id, row_count, column_count, column_types, null_counts)
		VALUES ($1, $2, $3, $4, $5)
	`, res.JobID, res.RowCount, res.ColumnCount, types, nulls); err != nil {
		return fmt.Errorf("insert profiling: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetProfiling fetches the job's profiling record.
func (s *Store) GetProfiling(ctx context.Context, jobID string) (models.ProfilingResult, error) {
	res := models.ProfilingResult{JobID: jobID}
	var types, nulls []byte
	err := s.pool.QueryRow(ctx, `
		SELECT row_count, column_count, column_types, null_counts FROM profiling_results WHERE job_id = $1
	`, jobID).Scan(&res.RowCount, &res.ColumnCount, &types, &nulls)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ProfilingResult{}, fmt.Errorf("profiling for job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return models.ProfilingResult{}, fmt.Errorf("scan profiling: %w", err)
	}
	if err := json.Unmarshal(types, &res.ColumnTypes); err != nil {
		return models.ProfilingResult{}, fmt.Errorf("unmarshal column types: %w", err)
	}
	if err := json.Unmarshal(nulls, &res.NullCounts); err != nil {
		return models.ProfilingResult{}, fmt.Errorf("unmarshal null counts: %w", err)
	}
	return res, nil
}

// AddSuggestions appends a suggestion set to the job's history.
func (s *Store) AddSuggestions(ctx context.Context, set models.SuggestionSet) error {
	body, err := json.Marshal(set.Suggestions)
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO suggestion_sets (id, job_id, suggestions, created_at) VALUES ($1, $2, $3, $4)
	`, set.ID, set.JobID, body, set.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert suggestions: %w", err)
	}
	return nil
}

// LatestSuggestions returns the most recently added set for the job.
func (s *Store) LatestSuggestions(ctx context.Context, jobID string) (models.SuggestionSet, error) {
	set := models.SuggestionSet{JobID: jobID}
	var body []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, suggestions, created_at FROM suggestion_sets WHERE job_id = $1 ORDER BY seq DESC LIMIT 1
	`, jobID).Scan(&set.ID, &body, &set.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SuggestionSet{}, fmt.Errorf("suggestions for job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return models.SuggestionSet{}, fmt.Errorf("scan suggestions: %w", err)
	}
	if err := json.Unmarshal(body, &set.Suggestions); err != nil {
		return models.SuggestionSet{}, fmt.Errorf("unmarshal suggestions: %w", err)
	}
	return set, nil
}
