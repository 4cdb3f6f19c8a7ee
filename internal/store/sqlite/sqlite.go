// Package sqlite is an embedded record store used by the local CLI and tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"data-cleaning-service/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed-width UTC timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding jobs, profiling and suggestions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a database in dataDir and runs pending migrations.
// Pass ":memory:" for an in-memory database.
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "cleaning.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// --- Jobs ---

func (s *Store) CreateJob(ctx context.Context, job models.Job) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, original_filename, status, created_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.OriginalFilename, string(job.Status), formatTime(job.CreatedAt), nullTime(job.CompletedAt), now)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (models.Job, error) {
	var job models.Job
	var status, created string
	var completed sql.NullString
	if err := row.Scan(&job.ID, &job.OriginalFilename, &status, &created, &completed); err != nil {
		return models.Job{}, err
	}
	job.Status = models.Status(status)
	var err error
	if job.CreatedAt, err = parseTime(created); err != nil {
		return models.Job{}, fmt.Errorf("parse created_at: %w", err)
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return models.Job{}, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &t
	}
	return job, nil
}

const jobColumns = `id, original_filename, status, created_at, completed_at`

func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
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

// UpdateStatus writes to only when the stored status still equals from.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to models.Status, completedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), nullTime(completedAt), formatTime(time.Now()), id, string(from))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s is no longer %s", models.ErrInvalidTransition, id, from)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, ev models.JobEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_events (job_id, from_status, to_status, detail, ts) VALUES (?, ?, ?, ?, ?)`,
		ev.JobID, string(ev.FromStatus), string(ev.ToStatus), ev.Detail, formatTime(ev.Recorded))
	return err
}

func (s *Store) ListEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, from_status, to_status, detail, ts FROM job_events WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var ev models.JobEvent
		var from, to, ts string
		if err := rows.Scan(&ev.JobID, &from, &to, &ev.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.FromStatus, ev.ToStatus = models.Status(from), models.Status(to)
		if ev.Recorded, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Profiling ---

func (s *Store) ReplaceProfiling(ctx context.Context, res models.ProfilingResult) error {
	types, err := json.Marshal(res.ColumnTypes)
	if err != nil {
		return fmt.Errorf("marshal column types: %w", err)
	}
	nulls, err := json.Marshal(res.NullCounts)
	if err != nil {
		return fmt.Errorf("marshal null counts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM profiling_results WHERE job_id = ?`, res.JobID); err != nil {
		return fmt.Errorf("delete profiling: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiling_results (job_id, row_count, column_count, column_types, null_counts)
		VALUES (?, ?, ?, ?, ?)`,
		res.JobID, res.RowCount, res.ColumnCount, string(types), string(nulls)); err != nil {
		return fmt.Errorf("insert profiling: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetProfiling(ctx context.Context, jobID string) (models.ProfilingResult, error) {
	res := models.ProfilingResult{JobID: jobID}
	var types, nulls string
	err := s.db.QueryRowContext(ctx, `
		SELECT row_count, column_count, column_types, null_counts FROM profiling_results WHERE job_id = ?`,
		jobID).Scan(&res.RowCount, &res.ColumnCount, &types, &nulls)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProfilingResult{}, fmt.Errorf("profiling for job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return models.ProfilingResult{}, fmt.Errorf("scan profiling: %w", err)
	}
	if err := json.Unmarshal([]byte(types), &res.ColumnTypes); err != nil {
		return models.ProfilingResult{}, fmt.Errorf("unmarshal column types: %w", err)
	}
	if err := json.Unmarshal([]byte(nulls), &res.NullCounts); err != nil {
		return models.ProfilingResult{}, fmt.Errorf("unmarshal null counts: %w", err)
	}
	return res, nil
}

// --- Suggestions ---

func (s *Store) AddSuggestions(ctx context.Context, set models.SuggestionSet) error {
	body, err := json.Marshal(set.Suggestions)
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suggestion_sets (id, job_id, suggestions, created_at) VALUES (?, ?, ?, ?)`,
		set.ID, set.JobID, string(body), formatTime(set.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert suggestions: %w", err)
	}
	return nil
}

func (s *Store) LatestSuggestions(ctx context.Context, jobID string) (models.SuggestionSet, error) {
	set := models.SuggestionSet{JobID: jobID}
	var body, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, suggestions, created_at FROM suggestion_sets WHERE job_id = ? ORDER BY seq DESC LIMIT 1`,
		jobID).Scan(&set.ID, &body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SuggestionSet{}, fmt.Errorf("suggestions for job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return models.SuggestionSet{}, fmt.Errorf("scan suggestions: %w", err)
	}
	if set.CreatedAt, err = parseTime(created); err != nil {
		return models.SuggestionSet{}, fmt.Errorf("parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &set.Suggestions); err != nil {
		return models.SuggestionSet{}, fmt.Errorf("unmarshal suggestions: %w", err)
	}
	return set, nil
}
