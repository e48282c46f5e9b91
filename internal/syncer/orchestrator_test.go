package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aula-insights/backend/internal/moodle"
	"github.com/aula-insights/backend/internal/storage/models"
	"github.com/aula-insights/backend/internal/storage/sqlite"
)

type fakeSource struct {
	courses     []moodle.RemoteCourse
	activities  map[int64][]moodle.RemoteActivity
	discussions map[int64][]moodle.ForumDiscussion
	submissions map[int64][]moodle.Submission

	coursesErr error
}

func (f *fakeSource) ListTeacherCourses(ctx context.Context, aula *models.Aula) ([]moodle.RemoteCourse, error) {
	if f.coursesErr != nil {
		return nil, f.coursesErr
	}
	return f.courses, nil
}

func (f *fakeSource) ListActivities(ctx context.Context, aula *models.Aula, courseID int64) ([]moodle.RemoteActivity, error) {
	return f.activities[courseID], nil
}

func (f *fakeSource) ListForumDiscussions(ctx context.Context, aula *models.Aula, forumID int64) ([]moodle.ForumDiscussion, error) {
	return f.discussions[forumID], nil
}

func (f *fakeSource) ListSubmissions(ctx context.Context, aula *models.Aula, assignmentID int64) ([]moodle.Submission, error) {
	return f.submissions[assignmentID], nil
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())
	return store
}

func seedAula(t *testing.T, store *sqlite.Client) int64 {
	t.Helper()

	id, err := store.InsertAula(&models.Aula{
		Name:    "Campus Norte",
		BaseURL: "https://campus.example.edu",
		Token:   "secret",
		Active:  true,
	})
	require.NoError(t, err)
	return id
}

func forumSource() *fakeSource {
	modified := time.Unix(1700000000, 0)
	return &fakeSource{
		courses: []moodle.RemoteCourse{
			{ID: 100, FullName: "Biology I", ShortName: "BIO1"},
		},
		activities: map[int64][]moodle.RemoteActivity{
			100: {
				{ExternalID: 10, Kind: "forum", Name: "Intro forum", Description: "<p>Say hi</p>", Visible: true},
			},
		},
		discussions: map[int64][]moodle.ForumDiscussion{
			10: {
				{ID: 1, Name: "Hello", NumReplies: 3, TimeModified: modified},
			},
		},
		submissions: map[int64][]moodle.Submission{},
	}
}

func TestRunCreatesActivitiesFlaggedForAnalysis(t *testing.T) {
	store := newTestStore(t)
	aulaID := seedAula(t, store)
	source := forumSource()

	orch := NewOrchestrator(store, source)
	result, err := orch.Run(context.Background(), Options{AulaID: aulaID})
	require.NoError(t, err)
	require.Equal(t, 1, result.ProcessedAulas)
	require.Equal(t, 1, result.TotalCourses)
	require.Equal(t, 1, result.TotalActivities)
	require.Empty(t, result.Errors)

	candidates, err := store.ListNeedingAnalysis(sqlite.AnalysisFilter{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.True(t, candidates[0].Activity.NeedsAnalysis)
	require.NotEmpty(t, candidates[0].Activity.Fingerprint)
}

func TestRunIsIdempotentForUnchangedRemoteData(t *testing.T) {
	store := newTestStore(t)
	aulaID := seedAula(t, store)
	source := forumSource()
	orch := NewOrchestrator(store, source)

	_, err := orch.Run(context.Background(), Options{AulaID: aulaID})
	require.NoError(t, err)

	candidates, err := store.ListNeedingAnalysis(sqlite.AnalysisFilter{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	activity := candidates[0].Activity

	// Simulate the analysis pass clearing the flag.
	require.NoError(t, store.InsertAnalysis(&models.ActivityAnalysis{
		ID: "a-1", AulaID: aulaID, CourseID: activity.CourseID, ActivityID: activity.ID,
		Kind: activity.Kind, Summary: "ok", Strengths: []string{}, Alerts: []string{},
		Confidence: 0.5, Fingerprint: activity.Fingerprint, GeneratedAt: time.Now(),
	}))

	// Unchanged remote data must not re-flag the activity.
	_, err = orch.Run(context.Background(), Options{AulaID: aulaID})
	require.NoError(t, err)

	after, err := store.GetActivity(activity.ID)
	require.NoError(t, err)
	require.False(t, after.NeedsAnalysis)
	require.Equal(t, activity.Fingerprint, after.Fingerprint)
}

func TestRunReflagsWhenParticipationChanges(t *testing.T) {
	store := newTestStore(t)
	aulaID := seedAula(t, store)
	source := forumSource()
	orch := NewOrchestrator(store, source)

	_, err := orch.Run(context.Background(), Options{AulaID: aulaID})
	require.NoError(t, err)

	candidates, err := store.ListNeedingAnalysis(sqlite.AnalysisFilter{})
	require.NoError(t, err)
	activity := candidates[0].Activity

	require.NoError(t, store.InsertAnalysis(&models.ActivityAnalysis{
		ID: "a-1", AulaID: aulaID, CourseID: activity.CourseID, ActivityID: activity.ID,
		Kind: activity.Kind, Summary: "ok", Strengths: []string{}, Alerts: []string{},
		Confidence: 0.5, Fingerprint: activity.Fingerprint, GeneratedAt: time.Now(),
	}))

	// A new reply changes the participation summary and thus the fingerprint.
	source.discussions[10] = []moodle.ForumDiscussion{
		{ID: 1, Name: "Hello", NumReplies: 4, TimeModified: time.Unix(1700009999, 0)},
	}

	_, err = orch.Run(context.Background(), Options{AulaID: aulaID})
	require.NoError(t, err)

	after, err := store.GetActivity(activity.ID)
	require.NoError(t, err)
	require.True(t, after.NeedsAnalysis)
	require.NotEqual(t, activity.Fingerprint, after.Fingerprint)
}

func TestRunHidesActivitiesMissingFromRemote(t *testing.T) {
	store := newTestStore(t)
	aulaID := seedAula(t, store)
	source := forumSource()
	source.activities[100] = append(source.activities[100], moodle.RemoteActivity{
		ExternalID: 11, Kind: "assignment", Name: "Essay", Visible: true,
	})
	orch := NewOrchestrator(store, source)

	_, err := orch.Run(context.Background(), Options{AulaID: aulaID})
	require.NoError(t, err)

	// The assignment disappears remotely; the next run soft-hides it.
	source.activities[100] = source.activities[100][:1]

	_, err = orch.Run(context.Background(), Options{AulaID: aulaID})
	require.NoError(t, err)

	listings, err := store.ListActivities(sqlite.ListingFilter{AulaID: aulaID})
	require.NoError(t, err)
	require.Len(t, listings, 2)
	for _, l := range listings {
		if l.Activity.ExternalID == 11 {
			require.False(t, l.Activity.Visible)
		} else {
			require.True(t, l.Activity.Visible)
		}
	}
}

func TestRunFailsWhenEveryAulaIsUnreachable(t *testing.T) {
	store := newTestStore(t)
	seedAula(t, store)
	source := forumSource()
	source.coursesErr = moodle.ErrRemoteUnavailable
	orch := NewOrchestrator(store, source)

	result, err := orch.Run(context.Background(), Options{})
	require.Error(t, err)
	require.NotEmpty(t, result.Errors)
}

func TestRunSkipsUnknownActivityKinds(t *testing.T) {
	store := newTestStore(t)
	aulaID := seedAula(t, store)
	source := forumSource()
	source.activities[100] = append(source.activities[100], moodle.RemoteActivity{
		ExternalID: 99, Kind: "quiz", Name: "Pop quiz", Visible: true,
	})
	orch := NewOrchestrator(store, source)

	result, err := orch.Run(context.Background(), Options{AulaID: aulaID})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalActivities)
}
