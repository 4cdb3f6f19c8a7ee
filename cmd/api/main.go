package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"data-cleaning-service/internal/api"
	"data-cleaning-service/internal/app"
	"data-cleaning-service/internal/blob"
	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/pipeline"
	"data-cleaning-service/internal/queue"
	"data-cleaning-service/internal/ratelimit"
)

func main() {
	cfg := config.Load()
	log := app.Logger(cfg, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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
	if err := q.Ping(ctx); err != nil {
		log.Error("connect redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	svc := pipeline.New(pipeline.Options{
		Store:      st,
		Blobs:      blobs,
		Dispatcher: q,
		Engine:     app.Engine(cfg),
		Locker:     queue.NewJobLocker(q.Client(), cfg.JobLockTTL),
		Log:        log,
	})
	limiter := ratelimit.NewTokenBucket(q.Client(), cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, svc, q, limiter)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("api listening", "port", cfg.HTTPPort, "store", cfg.StoreDriver, "suggest", cfg.SuggestStrategy)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
