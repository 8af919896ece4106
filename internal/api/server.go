package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pdf-ocr-pipeline/internal/blob"
	"pdf-ocr-pipeline/internal/config"
	"pdf-ocr-pipeline/internal/models"
	"pdf-ocr-pipeline/internal/queue"
	"pdf-ocr-pipeline/internal/ratelimit"
	"pdf-ocr-pipeline/internal/store"
	"pdf-ocr-pipeline/internal/telemetry"
)

// multipartOverhead is the slack allowed above MaxUploadBytes for form framing.
const multipartOverhead = 1 << 20

var pdfMagic = []byte("%PDF-")

// Limiter decides whether a tenant may submit another document.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the producer API.
type Server struct {
	cfg     config.Config
	jobs    store.JobStore
	queue   queue.Client
	blobs   blob.Store
	limiter Limiter
	log     *zap.Logger
	newID   func() string
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, jobs store.JobStore, q queue.Client, blobs blob.Store, limiter Limiter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		jobs:    jobs,
		queue:   q,
		blobs:   blobs,
		limiter: limiter,
		log:     log,
		newID:   func() string { return uuid.NewString() },
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs/{id}", s.handleGetJob)
	return r
}

type createJobResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := tenantFromRequest(r)
	log := s.log.With(zap.String("tenant", tenant))

	if s.limiter != nil {
		decision, err := s.limiter.Allow(ctx, tenant)
		if err != nil {
			log.Error("api.rate_limit_error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !decision.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	pagesPerPart, err := s.pagesPerPart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		writeError(w, http.StatusUnsupportedMediaType, "file is not a PDF")
		return
	}

	job := models.Job{
		ID:           s.newID(),
		Filename:     header.Filename,
		Status:       models.StatusQueued,
		PagesPerPart: pagesPerPart,
		ErrorLog:     []string{},
	}
	log = log.With(zap.String("job_id", job.ID))

	if err := s.blobs.Put(ctx, job.ID, data); err != nil {
		log.Error("api.blob_put_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store document")
		return
	}
	if err := s.jobs.CreateJob(ctx, &job); err != nil {
		log.Error("api.create_job_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	if err := s.queue.Send(ctx, job.ID); err != nil {
		// The record exists but no worker will see it until someone re-enqueues it.
		log.Error("api.enqueue_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job created but failed to be queued for processing")
		return
	}

	telemetry.UploadCounter.Inc()
	log.Info("api.job_enqueued", zap.String("filename", job.Filename), zap.Int("bytes", len(data)), zap.Int("pages_per_part", pagesPerPart))
	writeJSON(w, http.StatusAccepted, createJobResponse{JobID: job.ID, Status: job.Status})
}

// pagesPerPart reads the optional form or query override, defaulting to config.
func (s *Server) pagesPerPart(r *http.Request) (int, error) {
	raw := r.FormValue("pages_per_part")
	if raw == "" {
		return s.cfg.PagesPerSplit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > config.MaxPagesPerSplit {
		return 0, fmt.Errorf("pages_per_part must be an integer between 1 and %d", config.MaxPagesPerSplit)
	}
	return n, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("api.get_job_failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
