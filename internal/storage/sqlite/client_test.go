package sqlite

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aula-insights/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func seedActivity(t *testing.T, c *Client, kind models.ActivityKind, needsAnalysis bool) (aulaID, courseID, activityID int64) {
	t.Helper()

	aulaID, err := c.InsertAula(&models.Aula{
		Name:    "Campus " + uuid.New().String()[:8],
		BaseURL: "https://" + uuid.New().String() + ".example.edu",
		Token:   "token",
		Active:  true,
	})
	require.NoError(t, err)

	courseID, err = c.UpsertCourse(&models.Course{
		AulaID:     aulaID,
		ExternalID: 42,
		Name:       "Linear Algebra",
		ShortName:  "LA101",
	})
	require.NoError(t, err)

	now := time.Now()
	activityID, err = c.InsertActivity(&models.CourseActivity{
		CourseID:      courseID,
		ExternalID:    7,
		Kind:          kind,
		Name:          "Week 1 discussion",
		Visible:       true,
		NeedsAnalysis: needsAnalysis,
		Fingerprint:   "fp-1",
		LastDataSync:  &now,
	})
	require.NoError(t, err)

	return aulaID, courseID, activityID
}

func newAnalysis(aulaID, courseID, activityID int64, fingerprint string) *models.ActivityAnalysis {
	return &models.ActivityAnalysis{
		ID:          uuid.New().String(),
		AulaID:      aulaID,
		CourseID:    courseID,
		ActivityID:  activityID,
		GroupID:     0,
		Kind:        models.KindForum,
		Summary:     "Participation is healthy overall.",
		Strengths:   []string{"Most students posted in the first week"},
		Alerts:      []string{},
		NextStep:    "Reply to the unanswered question in thread 2.",
		Confidence:  0.8,
		Fingerprint: fingerprint,
		GeneratedAt: time.Now(),
	}
}

func TestInsertAnalysisKeepsSingleLatest(t *testing.T) {
	client := newTestClient(t)
	aulaID, courseID, activityID := seedActivity(t, client, models.KindForum, true)

	first := newAnalysis(aulaID, courseID, activityID, "fp-1")
	require.NoError(t, client.InsertAnalysis(first))

	second := newAnalysis(aulaID, courseID, activityID, "fp-2")
	second.Summary = "Participation dropped this week."
	require.NoError(t, client.InsertAnalysis(second))

	count, err := client.CountLatestAnalyses(aulaID, courseID, activityID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	latest, err := client.GetLatestAnalysis(aulaID, courseID, activityID, 0)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, second.ID, latest.ID)
	require.Equal(t, "Participation dropped this week.", latest.Summary)
}

func TestInsertAnalysisClearsDirtyFlagAndBumpsCount(t *testing.T) {
	client := newTestClient(t)
	aulaID, courseID, activityID := seedActivity(t, client, models.KindForum, true)

	require.NoError(t, client.InsertAnalysis(newAnalysis(aulaID, courseID, activityID, "fp-1")))

	activity, err := client.GetActivity(activityID)
	require.NoError(t, err)
	require.NotNil(t, activity)
	require.False(t, activity.NeedsAnalysis)
	require.Equal(t, 1, activity.AnalysisCount)
}

func TestListNeedingAnalysisOrdersNeverAnalyzedFirst(t *testing.T) {
	client := newTestClient(t)

	aulaID, err := client.InsertAula(&models.Aula{
		Name: "Campus A", BaseURL: "https://a.example.edu", Token: "t", Active: true,
	})
	require.NoError(t, err)
	courseID, err := client.UpsertCourse(&models.Course{AulaID: aulaID, ExternalID: 1, Name: "C"})
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now()

	analyzedID, err := client.InsertActivity(&models.CourseActivity{
		CourseID: courseID, ExternalID: 1, Kind: models.KindForum, Name: "analyzed old",
		Visible: true, NeedsAnalysis: true, Fingerprint: "a", LastDataSync: &old,
	})
	require.NoError(t, err)
	require.NoError(t, client.InsertAnalysis(newAnalysis(aulaID, courseID, analyzedID, "a")))
	// Re-flag it so it is a candidate again, now with one analysis behind it.
	_, err = client.db.Exec(`UPDATE course_activities SET needs_analysis = 1 WHERE id = ?`, analyzedID)
	require.NoError(t, err)

	freshID, err := client.InsertActivity(&models.CourseActivity{
		CourseID: courseID, ExternalID: 2, Kind: models.KindForum, Name: "never analyzed",
		Visible: true, NeedsAnalysis: true, Fingerprint: "b", LastDataSync: &recent,
	})
	require.NoError(t, err)

	candidates, err := client.ListNeedingAnalysis(AnalysisFilter{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, freshID, candidates[0].Activity.ID)
	require.Equal(t, analyzedID, candidates[1].Activity.ID)
}

func TestListNeedingAnalysisForceIncludesCleanActivities(t *testing.T) {
	client := newTestClient(t)
	_, _, activityID := seedActivity(t, client, models.KindForum, false)

	candidates, err := client.ListNeedingAnalysis(AnalysisFilter{})
	require.NoError(t, err)
	require.Empty(t, candidates)

	candidates, err = client.ListNeedingAnalysis(AnalysisFilter{Force: true})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, activityID, candidates[0].Activity.ID)
}

func TestListNeedingAnalysisRespectsLimit(t *testing.T) {
	client := newTestClient(t)
	aulaID, err := client.InsertAula(&models.Aula{
		Name: "Campus", BaseURL: "https://l.example.edu", Token: "t", Active: true,
	})
	require.NoError(t, err)
	courseID, err := client.UpsertCourse(&models.Course{AulaID: aulaID, ExternalID: 1, Name: "C"})
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		_, err := client.InsertActivity(&models.CourseActivity{
			CourseID: courseID, ExternalID: i, Kind: models.KindAssignment, Name: "a",
			Visible: true, NeedsAnalysis: true, Fingerprint: "f",
		})
		require.NoError(t, err)
	}

	candidates, err := client.ListNeedingAnalysis(AnalysisFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, candidates, 3)
}

func TestUpdateActivitySyncedPreservesDirtyFlag(t *testing.T) {
	client := newTestClient(t)
	_, _, activityID := seedActivity(t, client, models.KindAssignment, true)

	activity, err := client.GetActivity(activityID)
	require.NoError(t, err)

	// A sync pass that does not mark dirty must not clear an existing flag.
	activity.Name = "Renamed"
	require.NoError(t, client.UpdateActivitySynced(activity, false))

	updated, err := client.GetActivity(activityID)
	require.NoError(t, err)
	require.True(t, updated.NeedsAnalysis)
	require.Equal(t, "Renamed", updated.Name)
}

func TestHideMissingActivities(t *testing.T) {
	client := newTestClient(t)
	aulaID, err := client.InsertAula(&models.Aula{
		Name: "Campus", BaseURL: "https://h.example.edu", Token: "t", Active: true,
	})
	require.NoError(t, err)
	courseID, err := client.UpsertCourse(&models.Course{AulaID: aulaID, ExternalID: 1, Name: "C"})
	require.NoError(t, err)

	keptID, err := client.InsertActivity(&models.CourseActivity{
		CourseID: courseID, ExternalID: 10, Kind: models.KindForum, Name: "kept", Visible: true, Fingerprint: "f",
	})
	require.NoError(t, err)
	goneID, err := client.InsertActivity(&models.CourseActivity{
		CourseID: courseID, ExternalID: 11, Kind: models.KindForum, Name: "gone", Visible: true, Fingerprint: "f",
	})
	require.NoError(t, err)

	hidden, err := client.HideMissingActivities(courseID, []int64{10})
	require.NoError(t, err)
	require.Equal(t, int64(1), hidden)

	kept, err := client.GetActivity(keptID)
	require.NoError(t, err)
	require.True(t, kept.Visible)

	gone, err := client.GetActivity(goneID)
	require.NoError(t, err)
	require.False(t, gone.Visible)
}

func TestDeleteAllAnalysesIsIdempotent(t *testing.T) {
	client := newTestClient(t)
	aulaID, courseID, activityID := seedActivity(t, client, models.KindForum, true)

	require.NoError(t, client.InsertAnalysis(newAnalysis(aulaID, courseID, activityID, "fp-1")))
	require.NoError(t, client.InsertAnalysis(newAnalysis(aulaID, courseID, activityID, "fp-2")))

	deleted, err := client.DeleteAllAnalyses()
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	// Wiping an already empty store succeeds and reports zero.
	deleted, err = client.DeleteAllAnalyses()
	require.NoError(t, err)
	require.Equal(t, int64(0), deleted)

	latest, err := client.GetLatestAnalysis(aulaID, courseID, activityID, 0)
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestJobRunLifecycle(t *testing.T) {
	client := newTestClient(t)

	id := uuid.New().String()
	require.NoError(t, client.StartJobRun(id, "pipeline"))

	run, err := client.GetJobRun(id)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, models.JobStatusRunning, run.Status)
	require.Nil(t, run.FinishedAt)

	require.NoError(t, client.FinishJobRun(id, models.JobStatusCompleted, 12, 5, 1, "course 3: timeout"))

	run, err = client.GetJobRun(id)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, 12, run.Processed)
	require.Equal(t, 5, run.Generated)
	require.Equal(t, 1, run.ErrorCount)
}

func TestListActivitiesGroupsByAulaAndCourse(t *testing.T) {
	client := newTestClient(t)
	aulaID, courseID, activityID := seedActivity(t, client, models.KindForum, true)

	listings, err := client.ListActivities(ListingFilter{AulaID: aulaID})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, aulaID, listings[0].AulaID)
	require.Equal(t, courseID, listings[0].CourseID)
	require.Equal(t, activityID, listings[0].Activity.ID)
	require.False(t, listings[0].Analyzed)

	require.NoError(t, client.InsertAnalysis(newAnalysis(aulaID, courseID, activityID, "fp-1")))

	listings, err = client.ListActivities(ListingFilter{AulaID: aulaID})
	require.NoError(t, err)
	require.True(t, listings[0].Analyzed)
}

func TestGetCourseResolvesAula(t *testing.T) {
	client := newTestClient(t)
	aulaID, courseID, _ := seedActivity(t, client, models.KindForum, false)

	course, err := client.GetCourse(courseID)
	require.NoError(t, err)
	require.NotNil(t, course)
	require.Equal(t, aulaID, course.AulaID)

	missing, err := client.GetCourse(9999)
	require.NoError(t, err)
	require.Nil(t, missing)
}
