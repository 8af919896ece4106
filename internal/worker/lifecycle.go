package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pdf-ocr-pipeline/internal/blob"
	"pdf-ocr-pipeline/internal/models"
	"pdf-ocr-pipeline/internal/ocr"
	"pdf-ocr-pipeline/internal/store"
	"pdf-ocr-pipeline/internal/telemetry"
)

// Verdict tells the loop what to do with the delivered message.
type Verdict int

const (
	// Reject leaves the message leased so it reappears after the visibility timeout.
	Reject Verdict = iota
	// Accept deletes the message.
	Accept
)

func (v Verdict) String() string {
	if v == Accept {
		return "accept"
	}
	return "reject"
}

// ErrJobNotFound means the message named a job with no record.
var ErrJobNotFound = errors.New("job record not found")

// DocumentProcessor runs chunked OCR over one document.
type DocumentProcessor interface {
	Process(ctx context.Context, docName string, data []byte, pagesPerPart int) (*ocr.Result, error)
}

// Lifecycle applies the job state machine to one delivery of a job id.
type Lifecycle struct {
	jobs       store.JobStore
	blobs      blob.Store
	processor  DocumentProcessor
	maxRetries int
	log        *zap.Logger
}

func NewLifecycle(jobs store.JobStore, blobs blob.Store, processor DocumentProcessor, maxRetries int, log *zap.Logger) *Lifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lifecycle{
		jobs:       jobs,
		blobs:      blobs,
		processor:  processor,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Process handles one delivery. The status and retry count are persisted
// before any OCR work starts, so a crash mid-attempt still counts against
// the retry budget on redelivery.
func (l *Lifecycle) Process(ctx context.Context, jobID string) (Verdict, error) {
	log := l.log.With(zap.String("job_id", jobID))

	job, err := l.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Reject, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return Reject, fmt.Errorf("load job: %w", err)
	}

	if job.Status.IsTerminal() {
		log.Info("job.duplicate_delivery", zap.String("status", string(job.Status)))
		telemetry.JobsSkipped.Inc()
		return Accept, nil
	}

	if job.RetryCount >= l.maxRetries {
		job.Status = models.StatusFailed
		job.AppendError(fmt.Sprintf("processing failed after %d retries", l.maxRetries))
		if err := l.persist(ctx, &job); err != nil {
			return l.persistFailed(log, err)
		}
		log.Warn("job.failed", zap.Int("retry_count", job.RetryCount))
		telemetry.JobsFailed.Inc()
		return Accept, nil
	}

	job.Status = models.StatusProcessing
	job.RetryCount++
	if err := l.persist(ctx, &job); err != nil {
		return l.persistFailed(log, err)
	}
	attempt := job.RetryCount
	log = log.With(zap.Int("attempt", attempt))
	log.Info("job.processing")

	res, err := l.attempt(ctx, job)
	if err != nil {
		log.Error("job.attempt_failed", zap.Error(err))
		job.Status = models.StatusQueued
		job.AppendError(fmt.Sprintf("attempt %d failed: %v", attempt, err))
		// The attempt may have failed because ctx ended; the note still has to land.
		if err := l.persist(context.WithoutCancel(ctx), &job); err != nil {
			return l.persistFailed(log, err)
		}
		telemetry.JobsRetried.Inc()
		return Reject, nil
	}

	text := res.Text()
	job.Status = models.StatusCompleted
	job.FinalText = &text
	job.TotalTokens = res.TotalTokens()
	if err := l.persist(context.WithoutCancel(ctx), &job); err != nil {
		return l.persistFailed(log, err)
	}
	log.Info("job.completed",
		zap.Int("tokens", job.TotalTokens),
		zap.Int("chunks", len(res.Chunks)),
		zap.Int("dropped", res.Count(ocr.ChunkDropped)),
	)
	telemetry.JobsCompleted.Inc()
	telemetry.TokensUsed.Add(float64(job.TotalTokens))
	return Accept, nil
}

// attempt fetches the document and runs OCR. A panic anywhere below is
// turned into an ordinary attempt failure.
func (l *Lifecycle) attempt(ctx context.Context, job models.Job) (res *ocr.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	data, err := l.blobs.Get(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	res, err = l.processor.Process(ctx, job.ID, data, job.PagesPerPart)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("processor returned no result")
	}
	return res, nil
}

func (l *Lifecycle) persist(ctx context.Context, job *models.Job) error {
	if err := l.jobs.ReplaceJob(ctx, job); err != nil {
		return fmt.Errorf("persist job %s as %s: %w", job.ID, job.Status, err)
	}
	return nil
}

// persistFailed maps a failed write to a verdict. A version conflict means
// another consumer holds the job now; the message is left alone without an error.
func (l *Lifecycle) persistFailed(log *zap.Logger, err error) (Verdict, error) {
	if errors.Is(err, store.ErrConflict) {
		log.Warn("job.version_conflict", zap.Error(err))
		return Reject, nil
	}
	return Reject, err
}
