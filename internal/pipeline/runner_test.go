package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-insights/backend/internal/batch"
	"github.com/aula-insights/backend/internal/events"
	"github.com/aula-insights/backend/internal/moodle"
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

func newTestRunner(t *testing.T) (*Runner, *sqlite.Client) {
	t.Helper()

	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	source := emptySource{}
	syncOrch := syncer.NewOrchestrator(store, source)
	batchOrch := batch.NewOrchestrator(store, noopCache{}, nil, source, nil, time.Hour)

	return NewRunner(store, syncOrch, batchOrch, events.NewHub()), store
}

func TestRunPipelineRecordsCompletedJobRun(t *testing.T) {
	runner, store := newTestRunner(t)

	report, err := runner.RunPipeline(context.Background(), syncer.Options{}, batch.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, report.JobID)
	assert.Equal(t, models.JobStatusCompleted, report.Status)
	require.NotNil(t, report.Sync)
	require.NotNil(t, report.Batch)

	run, err := store.GetJobRun(report.JobID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, JobTypePipeline, run.JobType)
	assert.Equal(t, models.JobStatusCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
}

func TestRunSyncRejectedWhileBusy(t *testing.T) {
	runner, _ := newTestRunner(t)

	require.True(t, runner.tryAcquire())
	assert.True(t, runner.Busy())

	_, err := runner.RunSync(context.Background(), syncer.Options{})
	assert.ErrorIs(t, err, ErrBusy)

	_, err = runner.RunAnalysis(context.Background(), batch.Options{})
	assert.ErrorIs(t, err, ErrBusy)

	_, err = runner.RunPipeline(context.Background(), syncer.Options{}, batch.Options{})
	assert.ErrorIs(t, err, ErrBusy)

	runner.release()
	assert.False(t, runner.Busy())

	_, err = runner.RunSync(context.Background(), syncer.Options{})
	assert.NoError(t, err)
}

func TestRunAnalysisRecordsJobRun(t *testing.T) {
	runner, store := newTestRunner(t)

	report, err := runner.RunAnalysis(context.Background(), batch.Options{})
	require.NoError(t, err)

	run, err := store.GetJobRun(report.JobID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, JobTypeAnalysis, run.JobType)
}

func TestRunnerPublishesLifecycleEvents(t *testing.T) {
	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	hub := events.NewHub()
	sub := hub.Subscribe()
	t.Cleanup(func() { hub.Unsubscribe(sub) })

	source := emptySource{}
	runner := NewRunner(store,
		syncer.NewOrchestrator(store, source),
		batch.NewOrchestrator(store, noopCache{}, nil, source, hub, time.Hour),
		hub,
	)

	_, err = runner.RunPipeline(context.Background(), syncer.Options{}, batch.Options{})
	require.NoError(t, err)

	var types []string
	for len(sub) > 0 {
		types = append(types, (<-sub).Type)
	}
	assert.Contains(t, types, events.TypeRunStarted)
	assert.Contains(t, types, events.TypeSyncCompleted)
	assert.Contains(t, types, events.TypeRunFinished)
}
