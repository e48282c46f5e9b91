package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/batch"
	"github.com/aula-insights/backend/internal/events"
	"github.com/aula-insights/backend/internal/storage/models"
	"github.com/aula-insights/backend/internal/storage/sqlite"
	"github.com/aula-insights/backend/internal/syncer"
	"github.com/aula-insights/backend/pkg/logger"
)

// ErrBusy means a pipeline run is already executing. Callers treat this as
// a rejection, not a failure.
var ErrBusy = errors.New("pipeline run already in progress")

const (
	JobTypeSync     = "sync"
	JobTypeAnalysis = "analysis"
	JobTypePipeline = "pipeline"
)

// Runner serializes full pipeline executions. At most one run (sync,
// analysis, or the combined pipeline) is active at any time.
type Runner struct {
	store *sqlite.Client
	sync  *syncer.Orchestrator
	batch *batch.Orchestrator
	hub   *events.Hub

	mu      sync.Mutex
	running bool
}

type RunReport struct {
	JobID  string         `json:"jobId"`
	Sync   *syncer.Result `json:"sync,omitempty"`
	Batch  *batch.Result  `json:"analysis,omitempty"`
	Status string         `json:"status"`
}

func NewRunner(store *sqlite.Client, syncOrch *syncer.Orchestrator, batchOrch *batch.Orchestrator, hub *events.Hub) *Runner {
	return &Runner{
		store: store,
		sync:  syncOrch,
		batch: batchOrch,
		hub:   hub,
	}
}

func (r *Runner) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// Busy reports whether a run is currently executing.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunPipeline executes a full sync followed by a batch analysis pass.
// Returns ErrBusy without side effects when another run is active.
func (r *Runner) RunPipeline(ctx context.Context, syncOpts syncer.Options, batchOpts batch.Options) (*RunReport, error) {
	if !r.tryAcquire() {
		return nil, ErrBusy
	}
	defer r.release()

	jobID := uuid.New().String()
	report := &RunReport{JobID: jobID}

	if err := r.store.StartJobRun(jobID, JobTypePipeline); err != nil {
		return nil, fmt.Errorf("failed to record job start: %w", err)
	}
	r.hub.Publish(events.TypeRunStarted, map[string]interface{}{"jobId": jobID, "jobType": JobTypePipeline})

	started := time.Now()

	syncResult, err := r.sync.Run(ctx, syncOpts)
	if err != nil {
		r.finish(jobID, models.JobStatusFailed, 0, 0, 1, err.Error())
		report.Status = models.JobStatusFailed
		return report, fmt.Errorf("sync stage failed: %w", err)
	}
	report.Sync = syncResult
	r.hub.Publish(events.TypeSyncCompleted, syncResult)

	batchResult, err := r.batch.Run(ctx, batchOpts)
	if err != nil {
		r.finish(jobID, models.JobStatusFailed, 0, 0, 1, err.Error())
		report.Status = models.JobStatusFailed
		return report, fmt.Errorf("analysis stage failed: %w", err)
	}
	report.Batch = batchResult
	report.Status = models.JobStatusCompleted

	errorCount := len(syncResult.Errors) + len(batchResult.Errors)
	detail := joinErrors(append(append([]string{}, syncResult.Errors...), batchResult.Errors...))
	r.finish(jobID, models.JobStatusCompleted, batchResult.ProcessedActivities, batchResult.GeneratedAnalyses, errorCount, detail)

	r.hub.Publish(events.TypeRunFinished, report)

	logger.Info("Pipeline run completed",
		zap.String("job_id", jobID),
		zap.Int("synced_activities", syncResult.TotalActivities),
		zap.Int("generated_analyses", batchResult.GeneratedAnalyses),
		zap.Int("errors", errorCount),
		zap.Duration("elapsed", time.Since(started)),
	)

	return report, nil
}

// RunSync executes only the synchronization stage.
func (r *Runner) RunSync(ctx context.Context, opts syncer.Options) (*RunReport, error) {
	if !r.tryAcquire() {
		return nil, ErrBusy
	}
	defer r.release()

	jobID := uuid.New().String()
	report := &RunReport{JobID: jobID}

	if err := r.store.StartJobRun(jobID, JobTypeSync); err != nil {
		return nil, fmt.Errorf("failed to record job start: %w", err)
	}
	r.hub.Publish(events.TypeRunStarted, map[string]interface{}{"jobId": jobID, "jobType": JobTypeSync})

	result, err := r.sync.Run(ctx, opts)
	if err != nil {
		r.finish(jobID, models.JobStatusFailed, 0, 0, 1, err.Error())
		report.Status = models.JobStatusFailed
		return report, err
	}

	report.Sync = result
	report.Status = models.JobStatusCompleted
	r.finish(jobID, models.JobStatusCompleted, result.TotalActivities, 0, len(result.Errors), joinErrors(result.Errors))
	r.hub.Publish(events.TypeSyncCompleted, result)

	return report, nil
}

// RunAnalysis executes only the batch analysis stage.
func (r *Runner) RunAnalysis(ctx context.Context, opts batch.Options) (*RunReport, error) {
	if !r.tryAcquire() {
		return nil, ErrBusy
	}
	defer r.release()

	jobID := uuid.New().String()
	report := &RunReport{JobID: jobID}

	if err := r.store.StartJobRun(jobID, JobTypeAnalysis); err != nil {
		return nil, fmt.Errorf("failed to record job start: %w", err)
	}
	r.hub.Publish(events.TypeRunStarted, map[string]interface{}{"jobId": jobID, "jobType": JobTypeAnalysis})

	result, err := r.batch.Run(ctx, opts)
	if err != nil {
		r.finish(jobID, models.JobStatusFailed, 0, 0, 1, err.Error())
		report.Status = models.JobStatusFailed
		return report, err
	}

	report.Batch = result
	report.Status = models.JobStatusCompleted
	r.finish(jobID, models.JobStatusCompleted, result.ProcessedActivities, result.GeneratedAnalyses, len(result.Errors), joinErrors(result.Errors))
	r.hub.Publish(events.TypeRunFinished, report)

	return report, nil
}

func (r *Runner) finish(jobID, status string, processed, generated, errorCount int, detail string) {
	if err := r.store.FinishJobRun(jobID, status, processed, generated, errorCount, detail); err != nil {
		logger.Error("Failed to record job completion",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

const maxDetailLength = 4000

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	joined := strings.Join(errs, "; ")
	if len(joined) > maxDetailLength {
		joined = joined[:maxDetailLength]
	}
	return joined
}
