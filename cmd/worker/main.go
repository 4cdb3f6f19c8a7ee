package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"data-cleaning-service/internal/app"
	"data-cleaning-service/internal/blob"
	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/pipeline"
	"data-cleaning-service/internal/queue"
	"data-cleaning-service/internal/telemetry"
	workerproc "data-cleaning-service/internal/worker"
)

func main() {
	cfg := config.Load()
	log := app.Logger(cfg, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Error("open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	blobs, err := blob.Open(ctx, cfg)
	if err != nil {
		log.Error("open blob store", "error", err)
		os.Exit(1)
	}

	q := queue.NewRedisQueue(cfg)
	defer q.Close()

	// Worker ID from env, falling back to the hostname.
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	svc := pipeline.New(pipeline.Options{
		Store:      st,
		Blobs:      blobs,
		Dispatcher: q,
		Engine:     app.Engine(cfg),
		Locker:     queue.NewJobLocker(q.Client(), cfg.JobLockTTL),
		Log:        log,
	})

	processor := workerproc.NewProcessorWithID(cfg, q, log, workerID)
	for _, phase := range queue.Lanes {
		processor.RegisterHandler(phase, svc.Handler(phase))
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("worker started", "visibility", cfg.VisibilityTimeout,
			"backoff_initial", cfg.BackoffInitial, "concurrency", cfg.WorkerConcurrency)
		return processor.Run(gctx)
	})
	g.Go(func() error {
		return sweepLoop(gctx, svc, cfg, log)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
