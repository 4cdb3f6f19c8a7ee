package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/telemetry"
)

// Report renders the cleaning steps recorded for a job as markdown. The text
// is cached next to the cleaned dataset and rebuilt after new suggestions or
// an apply.
func (s *Service) Report(ctx context.Context, id string) (string, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if cached, err := s.blobs.Get(ctx, reportKey(id)); err == nil {
		return string(cached), nil
	} else if !errors.Is(err, models.ErrNotFound) {
		s.log.Warn("read cached report", "job_id", id, "error", err)
	}

	set, err := s.store.LatestSuggestions(ctx, id)
	if err != nil {
		return "", err
	}
	report := renderReport(job, set)
	if err := s.blobs.Put(ctx, reportKey(id), []byte(report), "text/markdown"); err != nil {
		s.log.Warn("cache report", "job_id", id, "error", err)
	}
	return report, nil
}

func renderReport(job models.Job, set models.SuggestionSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Cleaning Report for Job %s\n\n", job.ID)
	fmt.Fprintf(&b, "**Original file:** %s\n\n", job.OriginalFilename)
	b.WriteString("## Cleaning Steps Applied\n")
	for i, step := range set.Suggestions {
		op := step.Operation
		if op == "" {
			op = "unknown"
		}
		params := step.Params
		if params == nil {
			params = map[string]any{}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			raw = []byte("{}")
		}
		fmt.Fprintf(&b, "%d. **%s**: %s\n", i+1, op, raw)
	}
	b.WriteString("\n---\n")
	b.WriteString("This report was generated automatically.")
	return b.String()
}

// DeleteArtifacts removes every stored file of a job. The job record stays.
func (s *Service) DeleteArtifacts(ctx context.Context, id string) error {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return err
	}
	var errs []error
	for _, key := range artifactKeys(id) {
		if err := s.blobs.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	s.log.Info("job artifacts deleted", "job_id", id)
	return errors.Join(errs...)
}

// artifactPrefixes are the blob prefixes covered by Sweep.
var artifactPrefixes = []string{"uploads/", "cleaned/", "reports/"}

// Sweep deletes stored files last modified more than olderThan ago.
func (s *Service) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	total := 0
	for _, prefix := range artifactPrefixes {
		n, err := s.blobs.Sweep(ctx, prefix, cutoff)
		total += n
		if err != nil {
			telemetry.SweptArtifacts.Add(float64(total))
			return total, fmt.Errorf("sweep %s: %w", prefix, err)
		}
	}
	telemetry.SweptArtifacts.Add(float64(total))
	if total > 0 {
		s.log.Info("artifacts swept", "count", total, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return total, nil
}
