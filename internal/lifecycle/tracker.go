package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"data-cleaning-service/internal/models"
)

// StatusStore persists job status. UpdateStatus must only write when the
// stored status still equals from, and return models.ErrInvalidTransition
// otherwise.
type StatusStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status, completedAt *time.Time) error
	AppendEvent(ctx context.Context, ev models.JobEvent) error
}

// Tracker is the only writer of job status.
type Tracker struct {
	machine *Machine
	store   StatusStore
	log     *slog.Logger
	now     func() time.Time
}

func NewTracker(m *Machine, st StatusStore, log *slog.Logger) *Tracker {
	return &Tracker{machine: m, store: st, log: log, now: time.Now}
}

// Machine returns the graph the tracker enforces.
func (t *Tracker) Machine() *Machine { return t.machine }

// Transition moves the job to target when the edge from its current status
// is allowed and no concurrent writer got there first.
func (t *Tracker) Transition(ctx context.Context, id string, target models.Status, detail string) (models.Job, error) {
	job, err := t.store.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	if err := t.machine.Validate(job.Status, target); err != nil {
		return job, err
	}
	return t.write(ctx, job, target, detail)
}

// TransitionFrom is Transition gated on an expected current status.
func (t *Tracker) TransitionFrom(ctx context.Context, id string, from, target models.Status, detail string) (models.Job, error) {
	job, err := t.store.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != from {
		return job, fmt.Errorf("%w: job is %s, not %s", models.ErrInvalidTransition, job.Status, from)
	}
	if err := t.machine.Validate(job.Status, target); err != nil {
		return job, err
	}
	return t.write(ctx, job, target, detail)
}

const failRetries = 5

// Fail forces the job into the failed state from whatever status it holds.
func (t *Tracker) Fail(ctx context.Context, id string, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	var err error
	for i := 0; i < failRetries; i++ {
		var job models.Job
		job, err = t.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status == models.StatusFailed {
			return nil
		}
		if _, err = t.write(ctx, job, models.StatusFailed, detail); !errors.Is(err, models.ErrInvalidTransition) {
			return err
		}
	}
	return err
}

func (t *Tracker) write(ctx context.Context, job models.Job, target models.Status, detail string) (models.Job, error) {
	var completed *time.Time
	now := t.now().UTC()
	if t.machine.Terminal(target) || target == t.machine.escape {
		completed = &now
	}
	if err := t.store.UpdateStatus(ctx, job.ID, job.Status, target, completed); err != nil {
		return job, err
	}
	ev := models.JobEvent{JobID: job.ID, FromStatus: job.Status, ToStatus: target, Detail: detail, Recorded: now}
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		t.log.Warn("record job event", "job_id", job.ID, "error", err)
	}
	t.log.Info("job status changed", "job_id", job.ID, "from", job.Status, "to", target)

	job.Status = target
	job.CompletedAt = completed
	return job, nil
}
