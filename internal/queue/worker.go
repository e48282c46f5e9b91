package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/batch"
	"github.com/aula-insights/backend/internal/metrics"
	"github.com/aula-insights/backend/internal/pipeline"
	"github.com/aula-insights/backend/internal/syncer"
	"github.com/aula-insights/backend/pkg/logger"
	"github.com/aula-insights/backend/pkg/retry"
)

// busyDelay spaces out re-enqueues while the pipeline runner is occupied.
const busyDelay = 10 * time.Second

// Worker drains the job list and executes jobs through the pipeline runner.
// The runner serializes actual execution, so extra workers only add dequeue
// parallelism; the default concurrency is one.
type Worker struct {
	broker      Broker
	runner      *pipeline.Runner
	maxAttempts int
	concurrency int
	pollTimeout time.Duration
	backoff     retry.Config

	wg sync.WaitGroup
}

func NewWorker(broker Broker, runner *pipeline.Runner, maxAttempts, concurrency, pollTimeoutSec int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{
		broker:      broker,
		runner:      runner,
		maxAttempts: maxAttempts,
		concurrency: concurrency,
		pollTimeout: time.Duration(pollTimeoutSec) * time.Second,
		backoff: retry.Config{
			InitialDelay: 2 * time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2.0,
		},
	}
}

// Start launches the worker loops. They exit when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	logger.Info("Queue workers started", zap.Int("concurrency", w.concurrency))
}

// Wait blocks until every worker loop has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := w.broker.DequeueJob(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to dequeue job", zap.Int("worker", id), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollTimeout):
			}
			continue
		}
		if payload == nil {
			continue
		}

		var job Job
		if err := json.Unmarshal(payload, &job); err != nil {
			logger.Error("Discarding malformed job payload", zap.Error(err))
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	job.Attempts++

	logger.Info("Processing job",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts),
	)

	err := w.execute(ctx, job)
	if err == nil {
		return
	}

	if errors.Is(err, pipeline.ErrBusy) {
		// Not a real failure; put the job back without consuming an attempt.
		job.Attempts--
		w.requeue(ctx, job, busyDelay)
		return
	}

	logger.Warn("Job failed",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts),
		zap.Error(err),
	)

	if job.Attempts >= w.maxAttempts {
		w.bury(ctx, job, err)
		return
	}

	metrics.JobRetries.WithLabelValues(job.Type).Inc()
	w.requeue(ctx, job, retry.Backoff(w.backoff, job.Attempts))
}

func (w *Worker) execute(ctx context.Context, job Job) error {
	switch job.Type {
	case JobSync:
		_, err := w.runner.RunSync(ctx, syncer.Options{AulaID: job.AulaID})
		return err
	case JobAnalysis:
		_, err := w.runner.RunAnalysis(ctx, batch.Options{
			AulaID:   job.AulaID,
			CourseID: job.CourseID,
			Force:    job.Force,
			Limit:    job.Limit,
		})
		return err
	case JobPipeline:
		_, err := w.runner.RunPipeline(ctx,
			syncer.Options{AulaID: job.AulaID},
			batch.Options{AulaID: job.AulaID, Force: job.Force, Limit: job.Limit},
		)
		return err
	default:
		logger.Error("Discarding job with unknown type", zap.String("job_type", job.Type))
		return nil
	}
}

func (w *Worker) requeue(ctx context.Context, job Job, delay time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	payload, err := json.Marshal(job)
	if err != nil {
		logger.Error("Failed to marshal job for requeue", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := w.broker.EnqueueJob(ctx, payload); err != nil {
		logger.Error("Failed to requeue job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) bury(ctx context.Context, job Job, cause error) {
	metrics.JobsDead.WithLabelValues(job.Type).Inc()
	logger.Error("Job exhausted retries, moving to dead set",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Error(cause),
	)

	payload, err := json.Marshal(job)
	if err != nil {
		logger.Error("Failed to marshal dead job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := w.broker.BuryJob(ctx, payload); err != nil {
		logger.Error("Failed to bury job", zap.String("job_id", job.ID), zap.Error(err))
	}
}
