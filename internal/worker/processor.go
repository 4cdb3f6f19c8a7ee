package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/queue"
	"data-cleaning-service/internal/telemetry"
)

// Processor drives the worker execution loop.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	handlers map[models.Phase]Handler
	sem      *semaphore.Weighted
	log      *slog.Logger
	workerID string
	wg       sync.WaitGroup
}

// Handler executes one phase task.
type Handler func(ctx context.Context, task models.Task) error

// NewProcessorWithID creates a processor with a specific worker ID for tracking.
func NewProcessorWithID(cfg config.Config, q *queue.RedisQueue, log *slog.Logger, workerID string) *Processor {
	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	if workerID != "" {
		log = log.With("worker_id", workerID)
	}
	return &Processor{
		cfg:      cfg,
		queue:    q,
		handlers: make(map[models.Phase]Handler),
		sem:      semaphore.NewWeighted(int64(concurrency)),
		log:      log,
		workerID: workerID,
	}
}

// RegisterHandler binds a handler to a phase.
func (p *Processor) RegisterHandler(phase models.Phase, handler Handler) {
	if phase == "" || handler == nil {
		return
	}
	p.handlers[phase] = handler
}

// Run starts the main worker loop until context cancellation. Tasks already
// running are not cancelled with ctx: they finish and settle on the queue
// before Run returns.
func (p *Processor) Run(ctx context.Context) error {
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.housekeep(ctx)

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}
		task, ok, err := p.queue.DequeueWithLease(ctx)
		if err != nil || !ok {
			p.sem.Release(1)
			if err != nil && ctx.Err() == nil {
				p.log.Warn("dequeue failed", "error", err)
			}
			if !sleep(ctx, p.cfg.WorkerPollInterval) {
				return ctx.Err()
			}
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			defer telemetry.InFlightGauge.Dec()
			p.processTask(ctx, task)
		}()
	}
}

// housekeep promotes due retries, reclaims expired leases and samples depth.
func (p *Processor) housekeep(ctx context.Context) {
	now := time.Now()
	if _, err := p.queue.PromoteScheduled(ctx, now, int64(p.cfg.ScheduledBatchSize)); err != nil && ctx.Err() == nil {
		p.log.Warn("promote scheduled tasks", "error", err)
	}
	if reclaimed, _ := p.queue.RequeueExpired(ctx, now, 100); len(reclaimed) > 0 {
		for _, t := range reclaimed {
			p.log.Warn("lease expired; task requeued", "job_id", t.JobID, "phase", t.Phase)
		}
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
}

// processTask runs one leased task and settles it on the queue. Cancelling
// ctx does not interrupt the phase; a half-run phase would fail its job.
func (p *Processor) processTask(ctx context.Context, task models.Task) {
	ctx = context.WithoutCancel(ctx)
	log := p.log.With("job_id", task.JobID, "phase", task.Phase)
	handler, ok := p.handlers[task.Phase]
	if !ok {
		p.deadLetter(ctx, task, fmt.Sprintf("no handler registered for phase %q", task.Phase))
		return
	}

	stop := p.keepLease(ctx, task)
	err := handler(ctx, task)
	stop()

	switch {
	case err == nil:
		p.ack(ctx, task)
	case errors.Is(err, models.ErrJobBusy):
		p.retry(ctx, task, err)
	case errors.Is(err, models.ErrInvalidTransition):
		// Job gone or no longer in this phase's status.
		log.Info("dropping stale task", "reason", err)
		p.ack(ctx, task)
	default:
		// The phase has already marked its job failed.
		p.deadLetter(ctx, task, err.Error())
	}
}

func (p *Processor) retry(ctx context.Context, task models.Task, cause error) {
	used, err := p.queue.Attempts(ctx, task)
	if err != nil {
		p.log.Warn("read task attempts", "job_id", task.JobID, "phase", task.Phase, "error", err)
	}
	attempts := used + 1
	if attempts >= p.cfg.MaxAttempts {
		p.deadLetter(ctx, task, fmt.Sprintf("gave up after %d attempts: %v", attempts, cause))
		return
	}
	nextRun := time.Now().Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts))
	p.ack(ctx, task)
	if err := p.queue.Schedule(ctx, task, nextRun, attempts); err != nil {
		p.log.Error("reschedule task", "job_id", task.JobID, "phase", task.Phase, "error", err)
		return
	}
	telemetry.TaskRetries.Inc()
	p.log.Info("task rescheduled", "job_id", task.JobID, "phase", task.Phase,
		"attempts", attempts, "next_run", nextRun.UTC().Format(time.RFC3339))
}

func (p *Processor) ack(ctx context.Context, task models.Task) {
	if err := p.queue.Ack(ctx, task); err != nil {
		p.log.Error("ack task", "job_id", task.JobID, "phase", task.Phase, "error", err)
	}
}

func (p *Processor) deadLetter(ctx context.Context, task models.Task, reason string) {
	p.ack(ctx, task)
	if err := p.queue.DLQPush(ctx, task, reason); err != nil {
		p.log.Error("push dead letter", "job_id", task.JobID, "phase", task.Phase, "error", err)
	}
	telemetry.WorkerDeadLetter.Inc()
	p.log.Warn("task dead-lettered", "job_id", task.JobID, "phase", task.Phase, "reason", reason)
}

// keepLease extends the task's visibility deadline while its handler runs.
func (p *Processor) keepLease(ctx context.Context, task models.Task) (stop func()) {
	every := p.cfg.VisibilityTimeout / 2
	if every <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = p.queue.ExtendLease(ctx, task, p.cfg.VisibilityTimeout)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
