// Package app assembles the pieces shared by the API, worker and CLI binaries.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/llm"
	"data-cleaning-service/internal/pipeline"
	"data-cleaning-service/internal/store"
	"data-cleaning-service/internal/store/sqlite"
	"data-cleaning-service/internal/suggest"
	"data-cleaning-service/internal/transform"
)

// Logger returns a JSON logger, or a text logger in the dev environment.
func Logger(cfg config.Config, w io.Writer) *slog.Logger {
	if cfg.Env == "dev" {
		return slog.New(slog.NewTextHandler(w, nil))
	}
	return slog.New(slog.NewJSONHandler(w, nil))
}

// OpenStore opens the job store selected by STORE_DRIVER. Postgres schemas
// are migrated on open.
func OpenStore(ctx context.Context, cfg config.Config) (pipeline.Store, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := st.RunMigrations(ctx); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return st, st.Close, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Engine picks the suggestion strategy. "agent" asks the configured LLM,
// anything else uses the rule-based engine.
func Engine(cfg config.Config) suggest.Engine {
	if cfg.SuggestStrategy == "agent" {
		client := llm.New(cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMTimeout)
		return suggest.NewAgent(client, transform.NewRegistry().Names())
	}
	return suggest.NewRuleBased()
}
