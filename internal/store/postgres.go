package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"pdf-ocr-pipeline/internal/models"
)

var (
	// ErrNotFound is returned when no job exists for the id.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned by ReplaceJob when the stored version moved on
	// since the job was read, i.e. another worker wrote it first.
	ErrConflict = errors.New("job version conflict")
)

// JobStore loads and replaces job records keyed by id.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	// ReplaceJob writes the whole record if job.Version still matches the
	// stored version, then advances job.Version and job.UpdatedAt.
	ReplaceJob(ctx context.Context, job *models.Job) error
	CreateJob(ctx context.Context, job *models.Job) error
}

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a new record. The API calls it before enqueueing.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.StatusQueued
	}
	if job.ErrorLog == nil {
		job.ErrorLog = []string{}
	}
	errorLog, err := json.Marshal(job.ErrorLog)
	if err != nil {
		return fmt.Errorf("marshal error log: %w", err)
	}
	now := s.now().UTC()
	job.CreatedAt, job.UpdatedAt, job.Version = now, now, 1

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ocr_jobs (id, filename, status, retry_count, pages_per_part, error_log, final_text, total_tokens, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, job.ID, job.Filename, string(job.Status), job.RetryCount, job.PagesPerPart, errorLog, job.FinalText, job.TotalTokens, job.Version, now)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, filename, status, retry_count, pages_per_part, error_log, final_text, total_tokens, version, created_at, updated_at
		FROM ocr_jobs WHERE id = $1
	`, id)

	var job models.Job
	var status string
	var errorLog []byte
	var finalText pgtype.Text

	if err := row.Scan(&job.ID, &job.Filename, &status, &job.RetryCount, &job.PagesPerPart, &errorLog, &finalText, &job.TotalTokens, &job.Version, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Status = models.JobStatus(status)
	if err := json.Unmarshal(errorLog, &job.ErrorLog); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal error log: %w", err)
	}
	job.FinalText = textPtr(finalText)
	return job, nil
}

// ReplaceJob overwrites every mutable column under an optimistic version check.
func (s *Store) ReplaceJob(ctx context.Context, job *models.Job) error {
	errorLog, err := json.Marshal(nonNil(job.ErrorLog))
	if err != nil {
		return fmt.Errorf("marshal error log: %w", err)
	}
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE ocr_jobs
		SET status = $3, retry_count = $4, pages_per_part = $5, error_log = $6, final_text = $7,
		    total_tokens = $8, version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $2
	`, job.ID, job.Version, string(job.Status), job.RetryCount, job.PagesPerPart, errorLog, job.FinalText, job.TotalTokens, now)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ocr_jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check job exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, job.ID)
		}
		return fmt.Errorf("%w: %s at version %d", ErrConflict, job.ID, job.Version)
	}
	job.Version++
	job.UpdatedAt = now
	return nil
}

// CountByStatus reports how many jobs sit in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM ocr_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[models.JobStatus(status)] = n
	}
	return out, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
