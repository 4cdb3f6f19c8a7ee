// Package pipeline runs cleaning jobs through profiling, suggestion and apply.
//
// A phase never calls the next one directly. On success it moves the job
// forward and hands a Task for the next phase to a Dispatcher, so every phase
// can be retried on its own. Phases for one job are serialized by a Locker;
// the status gate turns duplicate or late tasks into ErrInvalidTransition.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"data-cleaning-service/internal/apply"
	"data-cleaning-service/internal/blob"
	"data-cleaning-service/internal/lifecycle"
	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/suggest"
	"data-cleaning-service/internal/table"
	"data-cleaning-service/internal/telemetry"
	"data-cleaning-service/internal/transform"
)

// Store holds job, profiling and suggestion records.
type Store interface {
	lifecycle.StatusStore
	CreateJob(ctx context.Context, job models.Job) error
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
	ListEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)
	ReplaceProfiling(ctx context.Context, res models.ProfilingResult) error
	GetProfiling(ctx context.Context, jobID string) (models.ProfilingResult, error)
	AddSuggestions(ctx context.Context, set models.SuggestionSet) error
	LatestSuggestions(ctx context.Context, jobID string) (models.SuggestionSet, error)
}

// Dispatcher schedules a phase task for asynchronous execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, task models.Task) error
}

// Locker grants exclusive access to a job. Acquire returns models.ErrJobBusy
// when another holder has it.
type Locker interface {
	Acquire(ctx context.Context, jobID string) (release func(), err error)
}

// Options configures a Service. Engine, Locker and Log default to the
// rule-based engine, an in-process KeyedLocker and slog.Default.
type Options struct {
	Store      Store
	Blobs      blob.Store
	Dispatcher Dispatcher
	Engine     suggest.Engine
	Locker     Locker
	Definition *lifecycle.Definition
	Log        *slog.Logger
}

// Service exposes job operations and the phase bodies run by dispatchers.
type Service struct {
	store    Store
	blobs    blob.Store
	dispatch Dispatcher
	engine   suggest.Engine
	locks    Locker
	tracker  *lifecycle.Tracker
	registry *transform.Registry
	applier  *apply.Engine
	log      *slog.Logger
	now      func() time.Time
}

func New(opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	engine := opts.Engine
	if engine == nil {
		engine = suggest.NewRuleBased()
	}
	locks := opts.Locker
	if locks == nil {
		locks = NewKeyedLocker()
	}
	def := lifecycle.Default()
	if opts.Definition != nil {
		def = *opts.Definition
	}
	registry := transform.NewRegistry()
	return &Service{
		store:    opts.Store,
		blobs:    opts.Blobs,
		dispatch: opts.Dispatcher,
		engine:   engine,
		locks:    locks,
		tracker:  lifecycle.NewTracker(lifecycle.NewMachine(def), opts.Store, log),
		registry: registry,
		applier:  apply.New(registry, log),
		log:      log,
		now:      time.Now,
	}
}

func uploadKey(id string) string { return "uploads/" + id + ".csv" }
func cleanedKey(id string) string { return "cleaned/" + id + ".csv" }
func typesKey(id string) string { return "cleaned/" + id + ".types.json" }
func reportKey(id string) string { return "reports/" + id + ".md" }
func artifactKeys(id string) []string {
	return []string{uploadKey(id), cleanedKey(id), typesKey(id), reportKey(id)}
}

// CreateJob stores an uploaded dataset and registers a pending job for it.
func (s *Service) CreateJob(ctx context.Context, filename string, data []byte) (models.Job, error) {
	return s.CreateJobWithID(ctx, uuid.NewString(), filename, data)
}

// CreateJobWithID is CreateJob with a caller-chosen id.
func (s *Service) CreateJobWithID(ctx context.Context, id, filename string, data []byte) (models.Job, error) {
	if _, err := table.Decode(bytes.NewReader(data)); err != nil {
		return models.Job{}, err
	}
	if err := s.blobs.Put(ctx, uploadKey(id), data, "text/csv"); err != nil {
		return models.Job{}, fmt.Errorf("store upload: %w", err)
	}
	job := models.Job{
		ID:               id,
		OriginalFilename: filename,
		Status:           models.StatusPending,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		_ = s.blobs.Delete(ctx, uploadKey(id))
		return models.Job{}, err
	}
	telemetry.UploadCounter.Inc()
	s.log.Info("job created", "job_id", id, "filename", filename, "bytes", len(data))
	return job, nil
}

// StartProfiling moves a pending or failed job into profiling and dispatches
// the profile phase.
func (s *Service) StartProfiling(ctx context.Context, id string) (models.Job, error) {
	job, err := s.tracker.Transition(ctx, id, models.StatusProfiling, "profiling requested")
	if err != nil {
		return job, err
	}
	return s.dispatchPhase(ctx, job, models.PhaseProfile)
}

// Retry restarts a failed job from profiling.
func (s *Service) Retry(ctx context.Context, id string) (models.Job, error) {
	job, err := s.tracker.TransitionFrom(ctx, id, models.StatusFailed, models.StatusProfiling, "retry requested")
	if err != nil {
		return job, err
	}
	return s.dispatchPhase(ctx, job, models.PhaseProfile)
}

// StartSuggesting dispatches the suggest phase for a job waiting in suggesting.
func (s *Service) StartSuggesting(ctx context.Context, id string) (models.Job, error) {
	job, err := s.gate(ctx, id, models.StatusSuggesting)
	if err != nil {
		return job, err
	}
	return s.dispatchPhase(ctx, job, models.PhaseSuggest)
}

// StartApplying dispatches the apply phase for a job in applying, or for a
// done job, in which case the cleaned output is rebuilt from the latest
// suggestions without a status change.
func (s *Service) StartApplying(ctx context.Context, id string) (models.Job, error) {
	job, err := s.gate(ctx, id, models.StatusApplying, models.StatusDone)
	if err != nil {
		return job, err
	}
	return s.dispatchPhase(ctx, job, models.PhaseApply)
}

// gate loads a job and checks its status is one of allowed.
func (s *Service) gate(ctx context.Context, id string, allowed ...models.Status) (models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return job, err
	}
	for _, st := range allowed {
		if job.Status == st {
			return job, nil
		}
	}
	return job, fmt.Errorf("%w: job %s is %s", models.ErrInvalidTransition, id, job.Status)
}

func (s *Service) dispatchPhase(ctx context.Context, job models.Job, phase models.Phase) (models.Job, error) {
	if err := s.dispatch.Dispatch(ctx, models.Task{JobID: job.ID, Phase: phase}); err != nil {
		err = fmt.Errorf("dispatch %s: %w", phase, err)
		if job.Status != models.StatusDone {
			if ferr := s.tracker.Fail(ctx, job.ID, err); ferr != nil {
				s.log.Error("mark job failed", "job_id", job.ID, "error", ferr)
			}
		}
		return job, err
	}
	return job, nil
}

// Cancel stops a job by forcing it to failed. Queued tasks for it become
// stale and are dropped when they run.
func (s *Service) Cancel(ctx context.Context, id string) (models.Job, error) {
	if err := s.tracker.Fail(ctx, id, errors.New("cancelled by request")); err != nil {
		return models.Job{}, err
	}
	return s.store.GetJob(ctx, id)
}

// DescribeTransformations lists registered operation names in sorted order.
func (s *Service) DescribeTransformations() []string {
	return s.registry.Names()
}

func (s *Service) GetJob(ctx context.Context, id string) (models.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	return s.store.ListJobs(ctx, limit)
}

func (s *Service) Events(ctx context.Context, id string) ([]models.JobEvent, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

func (s *Service) GetProfiling(ctx context.Context, id string) (models.ProfilingResult, error) {
	return s.store.GetProfiling(ctx, id)
}

func (s *Service) LatestSuggestions(ctx context.Context, id string) (models.SuggestionSet, error) {
	return s.store.LatestSuggestions(ctx, id)
}

// Download returns the cleaned dataset of a job.
func (s *Service) Download(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, cleanedKey(id))
}

// TypeMetadata returns the column types recorded with the cleaned dataset.
func (s *Service) TypeMetadata(ctx context.Context, id string) (apply.TypeMetadata, error) {
	var md apply.TypeMetadata
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return md, err
	}
	raw, err := s.blobs.Get(ctx, typesKey(id))
	if err != nil {
		return md, err
	}
	if err := decodeJSON(raw, &md); err != nil {
		return md, fmt.Errorf("decode type metadata: %w", err)
	}
	return md, nil
}

// failPhase forces the job to failed and records the phase failure.
func (s *Service) failPhase(ctx context.Context, task models.Task, cause error) error {
	telemetry.PhaseFailures.WithLabelValues(string(task.Phase)).Inc()
	s.log.Error("phase failed", "job_id", task.JobID, "phase", task.Phase, "error", cause)
	if err := s.tracker.Fail(context.WithoutCancel(ctx), task.JobID, cause); err != nil {
		return errors.Join(cause, fmt.Errorf("mark job failed: %w", err))
	}
	return cause
}
