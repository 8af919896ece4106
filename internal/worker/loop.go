package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"pdf-ocr-pipeline/internal/config"
	"pdf-ocr-pipeline/internal/queue"
	"pdf-ocr-pipeline/internal/telemetry"
)

// JobProcessor is what the loop hands each message body to.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) (Verdict, error)
}

// depthReporter is implemented by queues that can report their backlog.
type depthReporter interface {
	ReadyDepth(ctx context.Context) (int64, error)
}

// Loop drives the worker: receive, process, delete on accept.
type Loop struct {
	queue        queue.Client
	jobs         JobProcessor
	visibility   time.Duration
	pollInterval time.Duration
	maxBackoff   time.Duration
	log          *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewLoop(q queue.Client, jobs JobProcessor, cfg config.Config, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		queue:        q,
		jobs:         jobs,
		visibility:   cfg.VisibilityTimeout,
		pollInterval: cfg.WorkerPollInterval,
		maxBackoff:   8 * cfg.WorkerPollInterval,
		log:          log,
		sleep:        sleepCtx,
	}
}

// Run polls until ctx is cancelled and then returns ctx.Err(). A failing job
// never stops the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("worker.started",
		zap.Duration("visibility", l.visibility),
		zap.Duration("poll_interval", l.pollInterval),
	)
	receiveFailures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.reportDepth(ctx)

		msg, err := l.queue.Receive(ctx, l.visibility)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			receiveFailures++
			l.log.Error("queue.receive_failed", zap.Int("consecutive", receiveFailures), zap.Error(err))
			if err := l.sleep(ctx, backoffWithJitter(l.pollInterval, l.maxBackoff, receiveFailures)); err != nil {
				return err
			}
			continue
		}
		receiveFailures = 0

		if msg == nil {
			if err := l.sleep(ctx, l.pollInterval); err != nil {
				return err
			}
			continue
		}
		l.handle(ctx, msg)
	}
}

func (l *Loop) handle(ctx context.Context, msg *queue.Message) {
	log := l.log.With(
		zap.String("message_id", msg.ID),
		zap.String("job_id", msg.Body),
		zap.Int("dequeue_count", msg.DequeueCount),
	)
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	verdict, err := l.process(ctx, msg.Body)
	if err != nil {
		log.Error("job.process_error", zap.Stringer("verdict", verdict), zap.Error(err))
	}
	if verdict != Accept {
		log.Info("message.left_for_redelivery")
		return
	}

	// The job already reached its outcome, so the delete goes out even during shutdown.
	if err := l.queue.Delete(context.WithoutCancel(ctx), msg); err != nil {
		if errors.Is(err, queue.ErrMessageNotFound) {
			log.Warn("message.already_gone", zap.Error(err))
			return
		}
		log.Error("message.delete_failed", zap.Error(err))
		return
	}
	log.Debug("message.deleted")
}

func (l *Loop) process(ctx context.Context, jobID string) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict, err = Reject, fmt.Errorf("panic processing job: %v", r)
		}
	}()
	return l.jobs.Process(ctx, jobID)
}

func (l *Loop) reportDepth(ctx context.Context) {
	dr, ok := l.queue.(depthReporter)
	if !ok {
		return
	}
	if depth, err := dr.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffWithJitter returns the pause after the given number of consecutive
// receive failures: exponential from base, capped at max, half of it jittered.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || exp > float64(math.MaxInt64) {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
