package moodle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/storage/models"
	"github.com/aula-insights/backend/pkg/circuitbreaker"
	"github.com/aula-insights/backend/pkg/logger"
	"github.com/aula-insights/backend/pkg/retry"
)

var (
	ErrAuth              = errors.New("invalid or expired LMS credential")
	ErrNotFound          = errors.New("remote record not found")
	ErrRateLimited       = errors.New("LMS rate limit exceeded")
	ErrRemoteUnavailable = errors.New("LMS unavailable")
)

// IsRetryable reports whether a remote failure is worth another attempt.
// Auth and not-found errors never are.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, ErrRateLimited)
}

// Client wraps the Moodle web service REST protocol. All calls are read-only.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(timeoutSec, maxRetries int, userAgent string) *Client {
	cb := circuitbreaker.NewCircuitBreaker("moodle", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    maxRetries,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		RetryIf:        IsRetryable,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		userAgent:   userAgent,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) TestConnection(ctx context.Context, aula *models.Aula) (*SiteInfo, error) {
	var raw struct {
		SiteName string `json:"sitename"`
		UserName string `json:"username"`
		Release  string `json:"release"`
	}

	err := c.call(ctx, aula, "core_webservice_get_site_info", nil, &raw)
	if err != nil {
		return nil, err
	}

	return &SiteInfo{SiteName: raw.SiteName, UserName: raw.UserName, Release: raw.Release}, nil
}

func (c *Client) ListTeacherCourses(ctx context.Context, aula *models.Aula) ([]RemoteCourse, error) {
	var raw []struct {
		ID        int64  `json:"id"`
		FullName  string `json:"fullname"`
		ShortName string `json:"shortname"`
	}

	err := c.call(ctx, aula, "core_course_get_courses", nil, &raw)
	if err != nil {
		return nil, err
	}

	courses := make([]RemoteCourse, 0, len(raw))
	for _, r := range raw {
		if r.ID == 1 {
			// Course id 1 is the site front page, never a real course.
			continue
		}
		courses = append(courses, RemoteCourse{ID: r.ID, FullName: r.FullName, ShortName: r.ShortName})
	}

	logger.Debug("Courses fetched",
		zap.String("aula", aula.Name),
		zap.Int("count", len(courses)),
	)

	return courses, nil
}

// ListActivities returns the analyzable modules of a course: forums from the
// course contents, assignments enriched with due/cutoff dates.
func (c *Client) ListActivities(ctx context.Context, aula *models.Aula, courseID int64) ([]RemoteActivity, error) {
	var sections []struct {
		Modules []struct {
			Instance    int64  `json:"instance"`
			ModName     string `json:"modname"`
			Name        string `json:"name"`
			Description string `json:"description"`
			Visible     int    `json:"visible"`
		} `json:"modules"`
	}

	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))

	err := c.call(ctx, aula, "core_course_get_contents", params, &sections)
	if err != nil {
		return nil, err
	}

	var activities []RemoteActivity
	for _, section := range sections {
		for _, mod := range section.Modules {
			switch mod.ModName {
			case "assign":
				activities = append(activities, RemoteActivity{
					ExternalID:  mod.Instance,
					Kind:        "assignment",
					Name:        mod.Name,
					Description: mod.Description,
					Visible:     mod.Visible == 1,
				})
			case "forum":
				activities = append(activities, RemoteActivity{
					ExternalID:  mod.Instance,
					Kind:        "forum",
					Name:        mod.Name,
					Description: mod.Description,
					Visible:     mod.Visible == 1,
				})
			}
		}
	}

	if err := c.fillAssignmentDates(ctx, aula, courseID, activities); err != nil {
		// Date enrichment failing should not discard the module list.
		logger.Warn("Failed to enrich assignment dates",
			zap.Int64("course_id", courseID),
			zap.Error(err),
		)
	}

	return activities, nil
}

func (c *Client) fillAssignmentDates(ctx context.Context, aula *models.Aula, courseID int64, activities []RemoteActivity) error {
	hasAssignments := false
	for _, a := range activities {
		if a.Kind == "assignment" {
			hasAssignments = true
			break
		}
	}
	if !hasAssignments {
		return nil
	}

	var raw struct {
		Courses []struct {
			Assignments []struct {
				ID         int64 `json:"id"`
				DueDate    int64 `json:"duedate"`
				CutoffDate int64 `json:"cutoffdate"`
			} `json:"assignments"`
		} `json:"courses"`
	}

	params := url.Values{}
	params.Set("courseids[0]", strconv.FormatInt(courseID, 10))

	err := c.call(ctx, aula, "mod_assign_get_assignments", params, &raw)
	if err != nil {
		return err
	}

	dates := make(map[int64][2]*time.Time)
	for _, course := range raw.Courses {
		for _, a := range course.Assignments {
			dates[a.ID] = [2]*time.Time{unixTime(a.DueDate), unixTime(a.CutoffDate)}
		}
	}

	for i := range activities {
		if activities[i].Kind != "assignment" {
			continue
		}
		if d, ok := dates[activities[i].ExternalID]; ok {
			activities[i].DueDate = d[0]
			activities[i].CutoffDate = d[1]
		}
	}

	return nil
}

func (c *Client) ListForumDiscussions(ctx context.Context, aula *models.Aula, forumID int64) ([]ForumDiscussion, error) {
	var raw struct {
		Discussions []struct {
			Discussion   int64  `json:"discussion"`
			Name         string `json:"name"`
			Message      string `json:"message"`
			NumReplies   int    `json:"numreplies"`
			TimeModified int64  `json:"timemodified"`
		} `json:"discussions"`
	}

	params := url.Values{}
	params.Set("forumid", strconv.FormatInt(forumID, 10))

	err := c.call(ctx, aula, "mod_forum_get_forum_discussions", params, &raw)
	if err != nil {
		return nil, err
	}

	discussions := make([]ForumDiscussion, 0, len(raw.Discussions))
	for _, d := range raw.Discussions {
		discussions = append(discussions, ForumDiscussion{
			ID:           d.Discussion,
			Name:         d.Name,
			Message:      d.Message,
			NumReplies:   d.NumReplies,
			TimeModified: time.Unix(d.TimeModified, 0),
		})
	}

	return discussions, nil
}

func (c *Client) ListDiscussionPosts(ctx context.Context, aula *models.Aula, discussionID int64) ([]ForumPost, error) {
	var raw struct {
		Posts []struct {
			ID          int64  `json:"id"`
			Subject     string `json:"subject"`
			Message     string `json:"message"`
			TimeCreated int64  `json:"timecreated"`
			Author      struct {
				FullName string `json:"fullname"`
			} `json:"author"`
		} `json:"posts"`
	}

	params := url.Values{}
	params.Set("discussionid", strconv.FormatInt(discussionID, 10))

	err := c.call(ctx, aula, "mod_forum_get_discussion_posts", params, &raw)
	if err != nil {
		return nil, err
	}

	posts := make([]ForumPost, 0, len(raw.Posts))
	for _, p := range raw.Posts {
		posts = append(posts, ForumPost{
			ID:          p.ID,
			Subject:     p.Subject,
			Message:     p.Message,
			Author:      p.Author.FullName,
			TimeCreated: time.Unix(p.TimeCreated, 0),
		})
	}

	return posts, nil
}

func (c *Client) ListSubmissions(ctx context.Context, aula *models.Aula, assignmentID int64) ([]Submission, error) {
	var raw struct {
		Assignments []struct {
			Submissions []struct {
				ID           int64  `json:"id"`
				UserID       int64  `json:"userid"`
				Status       string `json:"status"`
				TimeModified int64  `json:"timemodified"`
			} `json:"submissions"`
		} `json:"assignments"`
	}

	params := url.Values{}
	params.Set("assignmentids[0]", strconv.FormatInt(assignmentID, 10))

	err := c.call(ctx, aula, "mod_assign_get_submissions", params, &raw)
	if err != nil {
		return nil, err
	}

	var submissions []Submission
	for _, a := range raw.Assignments {
		for _, s := range a.Submissions {
			if s.Status == "new" {
				// An empty placeholder submission, not student work.
				continue
			}
			submissions = append(submissions, Submission{
				ID:           s.ID,
				UserID:       s.UserID,
				Status:       s.Status,
				TimeModified: time.Unix(s.TimeModified, 0),
			})
		}
	}

	return submissions, nil
}

func (c *Client) call(ctx context.Context, aula *models.Aula, wsFunction string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("wstoken", aula.Token)
	params.Set("wsfunction", wsFunction)
	params.Set("moodlewsrestformat", "json")

	endpoint := fmt.Sprintf("%s/webservice/rest/server.php?%s", aula.BaseURL, params.Encode())

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("User-Agent", c.userAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("%w: %s", ErrRateLimited, wsFunction)
			}
			if resp.StatusCode >= 500 {
				return fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
			}

			if err := checkMoodleError(body); err != nil {
				return err
			}

			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to parse %s response: %w", wsFunction, err)
			}

			return nil
		})
	})
}

// checkMoodleError detects the LMS's in-band error envelope, which always
// arrives with HTTP 200.
func checkMoodleError(body []byte) error {
	var envelope struct {
		Exception string `json:"exception"`
		ErrorCode string `json:"errorcode"`
		Message   string `json:"message"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		// Arrays and other non-object payloads are normal responses.
		return nil
	}
	if envelope.Exception == "" {
		return nil
	}

	switch envelope.ErrorCode {
	case "invalidtoken", "accessexception", "webservicesdisabled":
		return fmt.Errorf("%w: %s", ErrAuth, envelope.Message)
	case "invalidrecord", "coursemisconf", "cannotfindcourse":
		return fmt.Errorf("%w: %s", ErrNotFound, envelope.Message)
	default:
		return fmt.Errorf("%w: %s (%s)", ErrRemoteUnavailable, envelope.Message, envelope.ErrorCode)
	}
}

func unixTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0)
	return &t
}
