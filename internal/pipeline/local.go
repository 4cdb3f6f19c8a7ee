package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/telemetry"
)

// HandlerFunc runs one phase task.
type HandlerFunc func(ctx context.Context, task models.Task) error

// LocalDispatcher runs tasks on goroutines in this process, at most limit at
// a time. Tasks that find their job busy are retried with a short backoff.
type LocalDispatcher struct {
	base    context.Context
	sem     *semaphore.Weighted
	handler HandlerFunc
	log     *slog.Logger
	wg      sync.WaitGroup

	retries int
	backoff time.Duration

	mu   sync.Mutex
	errs []error
}

// NewLocalDispatcher creates a dispatcher whose tasks run under base, so they
// outlive the request that dispatched them.
func NewLocalDispatcher(base context.Context, limit int64, log *slog.Logger) *LocalDispatcher {
	if limit < 1 {
		limit = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &LocalDispatcher{
		base:    base,
		sem:     semaphore.NewWeighted(limit),
		log:     log,
		retries: 5,
		backoff: 20 * time.Millisecond,
	}
}

// Bind sets the function tasks are handed to. It must be called before the
// first Dispatch.
func (d *LocalDispatcher) Bind(h HandlerFunc) { d.handler = h }

func (d *LocalDispatcher) Dispatch(_ context.Context, task models.Task) error {
	if d.handler == nil {
		return fmt.Errorf("local dispatcher has no handler")
	}
	telemetry.PhaseDispatched.WithLabelValues(string(task.Phase)).Inc()
	d.wg.Add(1)
	go d.run(task)
	return nil
}

func (d *LocalDispatcher) run(task models.Task) {
	defer d.wg.Done()
	if err := d.sem.Acquire(d.base, 1); err != nil {
		d.record(task, err)
		return
	}
	defer d.sem.Release(1)

	wait := d.backoff
	for attempt := 0; ; attempt++ {
		err := d.handler(d.base, task)
		if errors.Is(err, models.ErrJobBusy) && attempt < d.retries {
			telemetry.TaskRetries.Inc()
			select {
			case <-d.base.Done():
				d.record(task, d.base.Err())
				return
			case <-time.After(wait):
			}
			wait *= 2
			continue
		}
		if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
			d.record(task, err)
		}
		return
	}
}

func (d *LocalDispatcher) record(task models.Task, err error) {
	d.log.Warn("local task failed", "job_id", task.JobID, "phase", task.Phase, "error", err)
	d.mu.Lock()
	d.errs = append(d.errs, fmt.Errorf("%s %s: %w", task.Phase, task.JobID, err))
	d.mu.Unlock()
}

// Wait blocks until every dispatched task, including tasks dispatched by
// running tasks, has finished. It returns the task failures seen so far.
func (d *LocalDispatcher) Wait() error {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Join(d.errs...)
}

// KeyedLocker is an in-process Locker.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: make(map[string]struct{})}
}

func (k *KeyedLocker) Acquire(_ context.Context, jobID string) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[jobID]; busy {
		return nil, fmt.Errorf("%w: %s", models.ErrJobBusy, jobID)
	}
	k.held[jobID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, jobID)
			k.mu.Unlock()
		})
	}, nil
}
