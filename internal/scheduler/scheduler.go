package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/batch"
	"github.com/aula-insights/backend/internal/metrics"
	"github.com/aula-insights/backend/internal/pipeline"
	"github.com/aula-insights/backend/internal/syncer"
	"github.com/aula-insights/backend/pkg/logger"
)

type State string

const (
	StateStopped   State = "stopped"
	StateRunning   State = "running"
	StateExecuting State = "executing"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrExecuting      = errors.New("a pipeline run is currently executing")
)

// Scheduler drives periodic pipeline runs from a cron expression. Ticks that
// land while a run is still executing are skipped, never queued.
type Scheduler struct {
	runner   *pipeline.Runner
	cronExpr string

	mu         sync.Mutex
	cron       *cron.Cron
	entryID    cron.EntryID
	state      State
	lastRunAt  *time.Time
	lastResult string
}

type Status struct {
	State      State      `json:"state"`
	CronExpr   string     `json:"cronExpr"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt  *time.Time `json:"nextRunAt,omitempty"`
	LastResult string     `json:"lastResult,omitempty"`
}

func New(runner *pipeline.Runner, cronExpr string) *Scheduler {
	return &Scheduler{
		runner:   runner,
		cronExpr: cronExpr,
		state:    StateStopped,
	}
}

// ValidateExpr reports whether the expression parses as a standard 5-field
// cron spec.
func ValidateExpr(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// ValidateJobs sanity-checks the configured cadence without touching the
// scheduler state.
func (s *Scheduler) ValidateJobs() error {
	return ValidateExpr(s.cronExpr)
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return ErrAlreadyRunning
	}

	c := cron.New()
	id, err := c.AddFunc(s.cronExpr, s.tick)
	if err != nil {
		return err
	}

	s.cron = c
	s.entryID = id
	s.state = StateRunning
	c.Start()

	metrics.SchedulerState.Set(1)
	logger.Info("Scheduler started", zap.String("cron", s.cronExpr))
	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return ErrNotRunning
	}

	// No further ticks are delivered. An in-flight run finishes on its own
	// and lands on the stopped state because the cron loop is gone.
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	if s.state == StateRunning {
		s.state = StateStopped
	}

	metrics.SchedulerState.Set(0)
	logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) Restart() error {
	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.state = StateStopped
	s.mu.Unlock()
	return s.Start()
}

// Trigger runs the pipeline immediately. Rejected while a run is executing.
func (s *Scheduler) Trigger(ctx context.Context) error {
	return s.execute(ctx)
}

func (s *Scheduler) tick() {
	if err := s.execute(context.Background()); err != nil {
		if errors.Is(err, ErrExecuting) || errors.Is(err, pipeline.ErrBusy) {
			logger.Warn("Scheduled run skipped, previous run still executing")
			return
		}
		logger.Error("Scheduled run failed", zap.Error(err))
	}
}

func (s *Scheduler) execute(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateExecuting {
		s.mu.Unlock()
		return ErrExecuting
	}
	s.state = StateExecuting
	s.mu.Unlock()
	metrics.SchedulerState.Set(2)

	report, err := s.runner.RunPipeline(ctx, syncer.Options{}, batch.Options{})

	now := time.Now()
	s.mu.Lock()
	// Stop or Restart may have run meanwhile. Derive the post-run state from
	// whether the cron loop is alive instead of restoring a snapshot.
	if s.cron != nil {
		s.state = StateRunning
	} else {
		s.state = StateStopped
	}
	running := s.state == StateRunning
	if errors.Is(err, pipeline.ErrBusy) {
		// Not a run of ours; leave lastRunAt untouched.
	} else {
		s.lastRunAt = &now
		if err != nil {
			s.lastResult = "failed: " + err.Error()
		} else {
			s.lastResult = report.Status
		}
	}
	s.mu.Unlock()

	if running {
		metrics.SchedulerState.Set(1)
	} else {
		metrics.SchedulerState.Set(0)
	}

	return err
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:      s.state,
		CronExpr:   s.cronExpr,
		LastRunAt:  s.lastRunAt,
		LastResult: s.lastResult,
	}

	if s.cron != nil {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			status.NextRunAt = &next
		}
	}

	return status
}
