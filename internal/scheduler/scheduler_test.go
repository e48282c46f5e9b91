package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-insights/backend/internal/batch"
	"github.com/aula-insights/backend/internal/events"
	"github.com/aula-insights/backend/internal/moodle"
	"github.com/aula-insights/backend/internal/pipeline"
	"github.com/aula-insights/backend/internal/storage/models"
	"github.com/aula-insights/backend/internal/storage/sqlite"
	"github.com/aula-insights/backend/internal/syncer"
)

type emptySource struct{}

func (emptySource) ListTeacherCourses(ctx context.Context, aula *models.Aula) ([]moodle.RemoteCourse, error) {
	return nil, nil
}

func (emptySource) ListActivities(ctx context.Context, aula *models.Aula, courseID int64) ([]moodle.RemoteActivity, error) {
	return nil, nil
}

func (emptySource) ListForumDiscussions(ctx context.Context, aula *models.Aula, forumID int64) ([]moodle.ForumDiscussion, error) {
	return nil, nil
}

func (emptySource) ListDiscussionPosts(ctx context.Context, aula *models.Aula, discussionID int64) ([]moodle.ForumPost, error) {
	return nil, nil
}

func (emptySource) ListSubmissions(ctx context.Context, aula *models.Aula, assignmentID int64) ([]moodle.Submission, error) {
	return nil, nil
}

type noopCache struct{}

func (noopCache) GetAnalysis(ctx context.Context, activityKey, fingerprint string, out interface{}) (bool, error) {
	return false, nil
}

func (noopCache) SetAnalysis(ctx context.Context, activityKey, fingerprint string, v interface{}, ttl time.Duration) error {
	return nil
}

func (noopCache) AcquireLock(ctx context.Context, activityKey string) error { return nil }

func (noopCache) ReleaseLock(ctx context.Context, activityKey string) error { return nil }

// blockingSource parks course listing until release is closed, so tests can
// observe the scheduler mid-execution.
type blockingSource struct {
	emptySource
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingSource) ListTeacherCourses(ctx context.Context, aula *models.Aula) ([]moodle.RemoteCourse, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil, nil
}

type schedulerSource interface {
	syncer.LMSSource
	batch.ContentSource
}

func newTestScheduler(t *testing.T) *Scheduler {
	s, _ := newTestSchedulerWith(t, emptySource{})
	return s
}

func newTestSchedulerWith(t *testing.T, source schedulerSource) (*Scheduler, *sqlite.Client) {
	t.Helper()

	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	runner := pipeline.NewRunner(store,
		syncer.NewOrchestrator(store, source),
		batch.NewOrchestrator(store, noopCache{}, nil, source, nil, time.Hour),
		events.NewHub(),
	)

	return New(runner, "*/30 * * * *"), store
}

func seedAula(t *testing.T, store *sqlite.Client) {
	t.Helper()
	_, err := store.InsertAula(&models.Aula{
		Name: "Campus", BaseURL: "https://s.example.edu", Token: "t", Active: true,
	})
	require.NoError(t, err)
}

func TestValidateExpr(t *testing.T) {
	assert.NoError(t, ValidateExpr("*/30 * * * *"))
	assert.NoError(t, ValidateExpr("0 6 * * 1"))
	assert.Error(t, ValidateExpr("not a cron"))
	assert.Error(t, ValidateExpr(""))
}

func TestStartStopLifecycle(t *testing.T) {
	s := newTestScheduler(t)

	assert.Equal(t, StateStopped, s.Status().State)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	require.NoError(t, s.Start())
	assert.Equal(t, StateRunning, s.Status().State)
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)

	status := s.Status()
	require.NotNil(t, status.NextRunAt)
	assert.True(t, status.NextRunAt.After(time.Now()))

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.Status().State)
	assert.Nil(t, s.Status().NextRunAt)
}

func TestRestartFromAnyState(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Restart())
	assert.Equal(t, StateRunning, s.Status().State)

	require.NoError(t, s.Restart())
	assert.Equal(t, StateRunning, s.Status().State)

	require.NoError(t, s.Stop())
}

func TestTriggerRunsPipelineAndRecordsResult(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Trigger(context.Background()))

	status := s.Status()
	require.NotNil(t, status.LastRunAt)
	assert.Equal(t, models.JobStatusCompleted, status.LastResult)
	assert.Equal(t, StateStopped, status.State)
}

func TestTriggerRejectedWhileExecuting(t *testing.T) {
	s := newTestScheduler(t)

	s.mu.Lock()
	s.state = StateExecuting
	s.mu.Unlock()

	err := s.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrExecuting)

	// No run happened, so nothing was recorded.
	assert.Nil(t, s.Status().LastRunAt)
}

func TestStopDuringExecutionSticks(t *testing.T) {
	source := newBlockingSource()
	s, store := newTestSchedulerWith(t, source)
	seedAula(t, store)

	require.NoError(t, s.Start())

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background()) }()
	<-source.started

	require.NoError(t, s.Stop())

	close(source.release)
	require.NoError(t, <-done)

	// The stop must survive the run finishing, and the scheduler must stay
	// controllable afterwards.
	assert.Equal(t, StateStopped, s.Status().State)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestStopDuringTriggerFromStoppedState(t *testing.T) {
	source := newBlockingSource()
	s, store := newTestSchedulerWith(t, source)
	seedAula(t, store)

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background()) }()
	<-source.started

	// No cron loop exists here; Stop must not panic.
	require.NoError(t, s.Stop())

	close(source.release)
	require.NoError(t, <-done)

	assert.Equal(t, StateStopped, s.Status().State)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestConcurrentTriggersRunOnce(t *testing.T) {
	source := newBlockingSource()
	s, store := newTestSchedulerWith(t, source)
	seedAula(t, store)

	first := make(chan error, 1)
	go func() { first <- s.Trigger(context.Background()) }()
	<-source.started

	assert.ErrorIs(t, s.Trigger(context.Background()), ErrExecuting)

	close(source.release)
	require.NoError(t, <-first)

	status := s.Status()
	require.NotNil(t, status.LastRunAt)
	assert.Equal(t, models.JobStatusCompleted, status.LastResult)
}
