package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/pipeline"
	"data-cleaning-service/internal/queue"
	"data-cleaning-service/internal/ratelimit"
	"data-cleaning-service/internal/telemetry"
)

// Server wires HTTP handlers for the cleaning API.
type Server struct {
	cfg     config.Config
	svc     *pipeline.Service
	queue   *queue.RedisQueue
	limiter *ratelimit.TokenBucket
}

// New constructs the API server. The queue and limiter may be nil, which
// disables idempotency keys, the DLQ view, task cancellation and rate limiting.
func New(cfg config.Config, svc *pipeline.Service, q *queue.RedisQueue, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		queue:   q,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/transformations", s.handleTransformations)
	r.Get("/dlq", s.handleDLQ)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/", s.handleListJobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/events", s.handleEvents)
			r.Post("/profile", s.trigger(s.svc.StartProfiling))
			r.Get("/profile", s.handleGetProfiling)
			r.Post("/suggestions", s.trigger(s.svc.StartSuggesting))
			r.Get("/suggestions", s.handleGetSuggestions)
			r.Post("/apply", s.trigger(s.svc.StartApplying))
			r.Post("/retry", s.trigger(s.svc.Retry))
			r.Post("/cancel", s.handleCancel)
			r.Get("/download", s.handleDownload)
			r.Get("/types", s.handleTypes)
			r.Get("/report", s.handleReport)
			r.Delete("/artifacts", s.handleDeleteArtifacts)
		})
	})
	return r
}

type uploadResponse struct {
	Job        models.Job `json:"job"`
	Idempotent bool       `json:"idempotent"`
}

const megabyte = 1 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "multipart field \"file\" is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		cost := (len(data) + megabyte - 1) / megabyte
		allowed, _, err := s.limiter.AllowN(r.Context(), fmt.Sprintf("rl:upload:%s", tenantFromRequest(r)), cost)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	id := uuid.NewString()
	key := r.Header.Get("Idempotency-Key")
	if key != "" && s.queue != nil {
		existing, claimed, err := s.queue.ClaimIdempotencyKey(r.Context(), key, id, s.cfg.IdempotencyTTL)
		if err != nil {
			http.Error(w, "idempotency error", http.StatusInternalServerError)
			return
		}
		if !claimed {
			job, err := s.svc.GetJob(r.Context(), existing)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, uploadResponse{Job: job, Idempotent: true})
			return
		}
	}

	job, err := s.svc.CreateJobWithID(r.Context(), id, header.Filename, data)
	if err != nil {
		if key != "" && s.queue != nil {
			_ = s.queue.ReleaseIdempotencyKey(r.Context(), key)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Job: job})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	jobs, err := s.svc.ListJobs(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type phaseResponse struct {
	JobID  string        `json:"job_id"`
	Status models.Status `json:"status"`
}

// trigger adapts a phase starter to a handler answering 202.
func (s *Server) trigger(start func(ctx context.Context, id string) (models.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := start(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, phaseResponse{JobID: job.ID, Status: job.Status})
	}
}

func (s *Server) handleGetProfiling(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.GetProfiling(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSuggestions(w http.ResponseWriter, r *http.Request) {
	set, err := s.svc.LatestSuggestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.queue != nil {
		if err := s.queue.Cancel(r.Context(), id); err != nil {
			http.Error(w, "failed to cancel queued tasks", http.StatusInternalServerError)
			return
		}
	}
	job, err := s.svc.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, phaseResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.svc.Download(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "cleaned_"+job.OriginalFilename))
	_, _ = w.Write(data)
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	md, err := s.svc.TypeMetadata(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(report))
}

func (s *Server) handleDeleteArtifacts(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteArtifacts(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransformations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"transformations": s.svc.DescribeTransformations()})
}

// handleDLQ returns the oldest dead-lettered phase tasks.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []queue.DeadLetter{}})
		return
	}
	items, err := s.queue.DLQPeek(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read dlq", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrJobBusy):
		return http.StatusConflict
	case errors.Is(err, models.ErrDataUnreadable), errors.Is(err, models.ErrInvalidSuggestion):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
