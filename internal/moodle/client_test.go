package moodle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-insights/backend/internal/storage/models"
)

func testAula(baseURL string) *models.Aula {
	return &models.Aula{ID: 1, Name: "Campus", BaseURL: baseURL, Token: "tok"}
}

func serveFunctions(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webservice/rest/server.php", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("wstoken"))
		assert.Equal(t, "json", r.URL.Query().Get("moodlewsrestformat"))

		fn := r.URL.Query().Get("wsfunction")
		body, ok := responses[fn]
		if !ok {
			t.Errorf("unexpected wsfunction %q", fn)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestListTeacherCoursesSkipsFrontPage(t *testing.T) {
	server := serveFunctions(t, map[string]string{
		"core_course_get_courses": `[
			{"id": 1, "fullname": "Front page", "shortname": "site"},
			{"id": 5, "fullname": "Algebra", "shortname": "ALG"}
		]`,
	})

	client := NewClient(5, 1, "test-agent")
	courses, err := client.ListTeacherCourses(context.Background(), testAula(server.URL))
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, int64(5), courses[0].ID)
	assert.Equal(t, "Algebra", courses[0].FullName)
}

func TestListActivitiesEnrichesAssignmentDates(t *testing.T) {
	server := serveFunctions(t, map[string]string{
		"core_course_get_contents": `[
			{"modules": [
				{"instance": 7, "modname": "assign", "name": "Essay", "visible": 1},
				{"instance": 8, "modname": "forum", "name": "Debate", "visible": 1},
				{"instance": 9, "modname": "quiz", "name": "Quiz", "visible": 1}
			]}
		]`,
		"mod_assign_get_assignments": `{"courses": [
			{"assignments": [{"id": 7, "duedate": 1700000000, "cutoffdate": 0}]}
		]}`,
	})

	client := NewClient(5, 1, "test-agent")
	activities, err := client.ListActivities(context.Background(), testAula(server.URL), 5)
	require.NoError(t, err)
	require.Len(t, activities, 2)

	assert.Equal(t, "assignment", activities[0].Kind)
	require.NotNil(t, activities[0].DueDate)
	assert.Equal(t, int64(1700000000), activities[0].DueDate.Unix())
	assert.Nil(t, activities[0].CutoffDate)

	assert.Equal(t, "forum", activities[1].Kind)
}

func TestListSubmissionsSkipsEmptyPlaceholders(t *testing.T) {
	server := serveFunctions(t, map[string]string{
		"mod_assign_get_submissions": `{"assignments": [
			{"submissions": [
				{"id": 1, "userid": 10, "status": "submitted", "timemodified": 1700000000},
				{"id": 2, "userid": 11, "status": "new", "timemodified": 0}
			]}
		]}`,
	})

	client := NewClient(5, 1, "test-agent")
	submissions, err := client.ListSubmissions(context.Background(), testAula(server.URL), 7)
	require.NoError(t, err)
	require.Len(t, submissions, 1)
	assert.Equal(t, int64(10), submissions[0].UserID)
}

func TestErrorEnvelopeMapsToAuthError(t *testing.T) {
	server := serveFunctions(t, map[string]string{
		"core_webservice_get_site_info": `{"exception": "moodle_exception", "errorcode": "invalidtoken", "message": "Invalid token"}`,
	})

	client := NewClient(5, 1, "test-agent")
	_, err := client.TestConnection(context.Background(), testAula(server.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.False(t, IsRetryable(err))
}

func TestErrorEnvelopeMapsToNotFound(t *testing.T) {
	server := serveFunctions(t, map[string]string{
		"core_course_get_contents": `{"exception": "dml_missing_record_exception", "errorcode": "invalidrecord", "message": "Missing"}`,
	})

	client := NewClient(5, 1, "test-agent")
	_, err := client.ListActivities(context.Background(), testAula(server.URL), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsRetryable(err))
}

func TestRateLimitedResponseIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	client := NewClient(5, 1, "test-agent")
	_, err := client.ListTeacherCourses(context.Background(), testAula(server.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.True(t, IsRetryable(err))
}

func TestServerErrorMapsToRemoteUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewClient(5, 1, "test-agent")
	_, err := client.ListTeacherCourses(context.Background(), testAula(server.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
}

func TestRetriesTransientFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(5, 3, "test-agent")
	courses, err := client.ListTeacherCourses(context.Background(), testAula(server.URL))
	require.NoError(t, err)
	assert.Empty(t, courses)
	assert.Equal(t, 2, attempts)
}
