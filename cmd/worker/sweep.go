package main

import (
	"context"
	"log/slog"
	"time"

	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/pipeline"
)

// sweepLoop deletes expired artifacts every SweepInterval until ctx ends.
func sweepLoop(ctx context.Context, svc *pipeline.Service, cfg config.Config, log *slog.Logger) error {
	if cfg.SweepInterval <= 0 || cfg.Retention <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := svc.Sweep(ctx, cfg.Retention)
			if err != nil {
				log.Warn("artifact sweep", "error", err)
				continue
			}
			if n > 0 {
				log.Info("artifacts swept", "count", n, "retention", cfg.Retention)
			}
		}
	}
}
