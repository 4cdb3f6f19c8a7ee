// Package blob stores dataset and report bytes on the local filesystem or S3.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"data-cleaning-service/internal/config"
)

// Store is a flat key/value byte store. Keys use '/' separators.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Get returns models.ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Sweep deletes objects under prefix last modified before cutoff.
	Sweep(ctx context.Context, prefix string, cutoff time.Time) (int, error)
}

// Open picks S3 when a bucket is configured and the local directory otherwise.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	if cfg.S3Bucket != "" {
		return NewS3(ctx, cfg)
	}
	return NewLocal(cfg.DataDir), nil
}

func sanitizeKey(key string) (string, error) {
	key = path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return key, nil
}
