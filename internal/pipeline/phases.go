package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/profiler"
	"data-cleaning-service/internal/table"
	"data-cleaning-service/internal/telemetry"
)

// phaseBody does the work of one phase and returns the task to dispatch next,
// if any. It runs with the job lock held.
type phaseBody func(ctx context.Context, job models.Job) (*models.Task, error)

// accepts lists the job statuses each phase may run under.
var accepts = map[models.Phase][]models.Status{
	models.PhaseProfile: {models.StatusProfiling},
	models.PhaseSuggest: {models.StatusSuggesting},
	models.PhaseApply:   {models.StatusApplying, models.StatusDone},
}

// Handle runs the phase named by task.
func (s *Service) Handle(ctx context.Context, task models.Task) error {
	h := s.Handler(task.Phase)
	if h == nil {
		return fmt.Errorf("unknown phase %q", task.Phase)
	}
	return h(ctx, task)
}

// Handler returns the runner for a phase, or nil for an unknown phase.
func (s *Service) Handler(phase models.Phase) func(ctx context.Context, task models.Task) error {
	switch phase {
	case models.PhaseProfile:
		return func(ctx context.Context, task models.Task) error { return s.RunProfile(ctx, task.JobID) }
	case models.PhaseSuggest:
		return func(ctx context.Context, task models.Task) error { return s.RunSuggest(ctx, task.JobID) }
	case models.PhaseApply:
		return func(ctx context.Context, task models.Task) error { return s.RunApply(ctx, task.JobID) }
	default:
		return nil
	}
}

// RunProfile profiles the uploaded dataset and advances the job to suggesting.
func (s *Service) RunProfile(ctx context.Context, id string) error {
	return s.runPhase(ctx, models.Task{JobID: id, Phase: models.PhaseProfile}, s.profile)
}

// RunSuggest generates suggestions and advances the job to applying.
func (s *Service) RunSuggest(ctx context.Context, id string) error {
	return s.runPhase(ctx, models.Task{JobID: id, Phase: models.PhaseSuggest}, s.suggest)
}

// RunApply applies the latest suggestions and writes the cleaned dataset.
func (s *Service) RunApply(ctx context.Context, id string) error {
	return s.runPhase(ctx, models.Task{JobID: id, Phase: models.PhaseApply}, s.apply)
}

func (s *Service) runPhase(ctx context.Context, task models.Task, body phaseBody) error {
	release, err := s.locks.Acquire(ctx, task.JobID)
	if err != nil {
		return err
	}
	job, err := s.store.GetJob(ctx, task.JobID)
	if err != nil {
		release()
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: %s task: %w", models.ErrInvalidTransition, task.Phase, err)
		}
		return err
	}
	if !statusIn(job.Status, accepts[task.Phase]) {
		release()
		s.log.Debug("dropping stale task", "job_id", task.JobID, "phase", task.Phase, "status", job.Status)
		return fmt.Errorf("%w: %s task for job in %s", models.ErrInvalidTransition, task.Phase, job.Status)
	}

	log := s.log.With("job_id", task.JobID, "phase", task.Phase)
	log.Info("phase started")
	start := time.Now()
	next, err := body(ctx, job)
	release()
	telemetry.PhaseDuration.WithLabelValues(string(task.Phase)).Observe(time.Since(start).Seconds())
	if err != nil {
		return s.failPhase(ctx, task, err)
	}
	telemetry.PhaseSuccess.WithLabelValues(string(task.Phase)).Inc()
	log.Info("phase finished", "duration", time.Since(start))

	if next == nil {
		return nil
	}
	if err := s.dispatch.Dispatch(ctx, *next); err != nil {
		return s.failPhase(ctx, *next, fmt.Errorf("dispatch %s: %w", next.Phase, err))
	}
	return nil
}

func statusIn(st models.Status, set []models.Status) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func (s *Service) loadUpload(ctx context.Context, id string) (*table.Table, error) {
	raw, err := s.blobs.Get(ctx, uploadKey(id))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return table.Decode(bytes.NewReader(raw))
}

func (s *Service) profile(ctx context.Context, job models.Job) (*models.Task, error) {
	raw, err := s.blobs.Get(ctx, uploadKey(job.ID))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	res, _, err := profiler.ProfileCSV(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	res.JobID = job.ID
	if err := s.store.ReplaceProfiling(ctx, res); err != nil {
		return nil, fmt.Errorf("save profiling: %w", err)
	}
	detail := fmt.Sprintf("profiled %d rows, %d columns", res.RowCount, res.ColumnCount)
	if _, err := s.tracker.TransitionFrom(ctx, job.ID, models.StatusProfiling, models.StatusSuggesting, detail); err != nil {
		return nil, err
	}
	return &models.Task{JobID: job.ID, Phase: models.PhaseSuggest}, nil
}

func (s *Service) suggest(ctx context.Context, job models.Job) (*models.Task, error) {
	prof, err := s.store.GetProfiling(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	t, err := s.loadUpload(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	suggestions, err := s.engine.Suggest(ctx, prof, t)
	if err != nil {
		return nil, err
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}
	set := models.SuggestionSet{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Suggestions: suggestions,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.AddSuggestions(ctx, set); err != nil {
		return nil, fmt.Errorf("save suggestions: %w", err)
	}
	s.dropReport(ctx, job.ID)
	detail := fmt.Sprintf("%d suggestions", len(suggestions))
	if _, err := s.tracker.TransitionFrom(ctx, job.ID, models.StatusSuggesting, models.StatusApplying, detail); err != nil {
		return nil, err
	}
	return &models.Task{JobID: job.ID, Phase: models.PhaseApply}, nil
}

func (s *Service) apply(ctx context.Context, job models.Job) (*models.Task, error) {
	set, err := s.store.LatestSuggestions(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	t, err := s.loadUpload(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	cleaned, md, err := s.applier.Apply(ctx, t, set.Suggestions)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := table.Encode(&buf, cleaned); err != nil {
		return nil, fmt.Errorf("encode cleaned dataset: %w", err)
	}
	if err := s.blobs.Put(ctx, cleanedKey(job.ID), buf.Bytes(), "text/csv"); err != nil {
		return nil, fmt.Errorf("store cleaned dataset: %w", err)
	}
	// Type metadata is auxiliary; the cleaned dataset stands without it.
	if raw, err := json.Marshal(md); err != nil {
		s.log.Warn("encode type metadata", "job_id", job.ID, "error", err)
	} else if err := s.blobs.Put(ctx, typesKey(job.ID), raw, "application/json"); err != nil {
		s.log.Warn("store type metadata", "job_id", job.ID, "error", err)
	}
	s.dropReport(ctx, job.ID)

	if job.Status == models.StatusDone {
		s.log.Info("cleaned dataset rebuilt", "job_id", job.ID, "rows", cleaned.Len())
		return nil, nil
	}
	detail := fmt.Sprintf("cleaned %d rows, %d columns", cleaned.Len(), len(cleaned.Columns))
	if _, err := s.tracker.TransitionFrom(ctx, job.ID, models.StatusApplying, models.StatusDone, detail); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Service) dropReport(ctx context.Context, id string) {
	if err := s.blobs.Delete(ctx, reportKey(id)); err != nil {
		s.log.Warn("drop cached report", "job_id", id, "error", err)
	}
}

func decodeJSON(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
