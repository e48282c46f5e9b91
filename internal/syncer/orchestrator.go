package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/metrics"
	"github.com/aula-insights/backend/internal/moodle"
	"github.com/aula-insights/backend/internal/storage/models"
	"github.com/aula-insights/backend/internal/storage/sqlite"
	"github.com/aula-insights/backend/pkg/logger"
	"github.com/aula-insights/backend/pkg/utils"
)

// LMSSource is the slice of the LMS adapter the sync walk needs.
type LMSSource interface {
	ListTeacherCourses(ctx context.Context, aula *models.Aula) ([]moodle.RemoteCourse, error)
	ListActivities(ctx context.Context, aula *models.Aula, courseID int64) ([]moodle.RemoteActivity, error)
	ListForumDiscussions(ctx context.Context, aula *models.Aula, forumID int64) ([]moodle.ForumDiscussion, error)
	ListSubmissions(ctx context.Context, aula *models.Aula, assignmentID int64) ([]moodle.Submission, error)
}

// Orchestrator reconciles local course/activity state with the remote LMS.
// Remote failures are isolated per course; store failures abort the run
// because local consistency can no longer be guaranteed. Transient remote
// errors are retried inside the adapter, not here.
type Orchestrator struct {
	store  *sqlite.Client
	source LMSSource
}

type Options struct {
	AulaID int64
}

type Result struct {
	ProcessedAulas  int      `json:"processedAulas"`
	TotalCourses    int      `json:"totalCourses"`
	TotalActivities int      `json:"totalActivities"`
	Errors          []string `json:"errors"`
}

func NewOrchestrator(store *sqlite.Client, source LMSSource) *Orchestrator {
	return &Orchestrator{
		store:  store,
		source: source,
	}
}

func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()
	result := &Result{Errors: []string{}}

	var aulas []models.Aula
	if opts.AulaID != 0 {
		aula, err := o.store.GetAula(opts.AulaID)
		if err != nil {
			return nil, fmt.Errorf("failed to load aula: %w", err)
		}
		if aula == nil {
			return nil, fmt.Errorf("aula %d not found", opts.AulaID)
		}
		aulas = []models.Aula{*aula}
	} else {
		var err error
		aulas, err = o.store.ListActiveAulas()
		if err != nil {
			return nil, fmt.Errorf("failed to list aulas: %w", err)
		}
	}

	logger.Info("Sync run started", zap.Int("aulas", len(aulas)))

	for i := range aulas {
		aula := &aulas[i]

		courses, activities, errs, err := o.syncAula(ctx, aula)
		if err != nil {
			// Store-level failure: abort the whole run.
			metrics.SyncRunDuration.WithLabelValues("failed").Observe(time.Since(started).Seconds())
			return nil, err
		}

		result.TotalCourses += courses
		result.TotalActivities += activities
		result.Errors = append(result.Errors, errs...)

		if courses > 0 || len(errs) == 0 {
			result.ProcessedAulas++
		}
	}

	if len(aulas) > 0 && result.ProcessedAulas == 0 {
		metrics.SyncRunDuration.WithLabelValues("failed").Observe(time.Since(started).Seconds())
		return result, fmt.Errorf("sync failed for all %d aulas", len(aulas))
	}

	metrics.SyncRunDuration.WithLabelValues("completed").Observe(time.Since(started).Seconds())

	logger.Info("Sync run finished",
		zap.Int("processed_aulas", result.ProcessedAulas),
		zap.Int("total_courses", result.TotalCourses),
		zap.Int("total_activities", result.TotalActivities),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", time.Since(started)),
	)

	return result, nil
}

// syncAula returns (courses, activities, per-course errors, fatal error).
func (o *Orchestrator) syncAula(ctx context.Context, aula *models.Aula) (int, int, []string, error) {
	var errs []string

	remoteCourses, err := o.source.ListTeacherCourses(ctx, aula)
	if err != nil {
		errs = append(errs, fmt.Sprintf("aula %s: failed to list courses: %v", aula.Name, err))
		return 0, 0, errs, nil
	}

	syncedCourses := 0
	syncedActivities := 0

	for _, remote := range remoteCourses {
		courseID, err := o.store.UpsertCourse(&models.Course{
			AulaID:     aula.ID,
			ExternalID: remote.ID,
			Name:       remote.FullName,
			ShortName:  remote.ShortName,
		})
		if err != nil {
			return syncedCourses, syncedActivities, errs, fmt.Errorf("failed to upsert course %d: %w", remote.ID, err)
		}

		count, err := o.syncCourse(ctx, aula, courseID, remote.ID)
		if err != nil {
			if isStoreError(err) {
				return syncedCourses, syncedActivities, errs, err
			}
			errs = append(errs, fmt.Sprintf("aula %s course %d: %v", aula.Name, remote.ID, err))
			continue
		}

		syncedCourses++
		syncedActivities += count
	}

	return syncedCourses, syncedActivities, errs, nil
}

func (o *Orchestrator) syncCourse(ctx context.Context, aula *models.Aula, courseID, externalCourseID int64) (int, error) {
	remoteActivities, err := o.source.ListActivities(ctx, aula, externalCourseID)
	if err != nil {
		return 0, fmt.Errorf("failed to list activities: %w", err)
	}

	now := time.Now()
	seen := make([]int64, 0, len(remoteActivities))

	for _, remote := range remoteActivities {
		kind := models.ActivityKind(remote.Kind)
		if !kind.Valid() {
			continue
		}
		seen = append(seen, remote.ExternalID)

		participation, err := o.participationFingerprint(ctx, aula, kind, remote.ExternalID)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch participation for activity %d: %w", remote.ExternalID, err)
		}

		fingerprint := utils.Fingerprint(
			remote.Name,
			remote.Description,
			timeString(remote.DueDate),
			timeString(remote.CutoffDate),
			strconv.FormatBool(remote.Visible),
			participation,
		)

		existing, err := o.store.GetActivityByKey(courseID, remote.ExternalID)
		if err != nil {
			return 0, storeError(err)
		}

		activity := models.CourseActivity{
			CourseID:     courseID,
			ExternalID:   remote.ExternalID,
			Kind:         kind,
			Name:         remote.Name,
			Description:  remote.Description,
			DueDate:      remote.DueDate,
			CutoffDate:   remote.CutoffDate,
			Visible:      remote.Visible,
			Fingerprint:  fingerprint,
			LastDataSync: &now,
		}

		if existing == nil {
			activity.NeedsAnalysis = true
			if _, err := o.store.InsertActivity(&activity); err != nil {
				return 0, storeError(err)
			}
			metrics.DirtyActivities.Inc()
			continue
		}

		if existing.Fingerprint == fingerprint {
			// Nothing changed remotely; leave the row untouched so repeated
			// syncs are true no-ops.
			continue
		}

		activity.ID = existing.ID
		if err := o.store.UpdateActivitySynced(&activity, true); err != nil {
			return 0, storeError(err)
		}
		metrics.DirtyActivities.Inc()

		logger.Debug("Activity flagged for analysis",
			zap.Int64("activity_id", existing.ID),
			zap.String("name", remote.Name),
		)
	}

	hidden, err := o.store.HideMissingActivities(courseID, seen)
	if err != nil {
		return 0, storeError(err)
	}
	if hidden > 0 {
		logger.Info("Activities soft-hidden",
			zap.Int64("course_id", courseID),
			zap.Int64("hidden", hidden),
		)
	}

	metrics.SyncedActivities.Add(float64(len(seen)))

	return len(seen), nil
}

// participationFingerprint summarizes remote participation state so new
// posts or submissions flip the fingerprint.
func (o *Orchestrator) participationFingerprint(ctx context.Context, aula *models.Aula, kind models.ActivityKind, externalID int64) (string, error) {
	switch kind {
	case models.KindForum:
		discussions, err := o.source.ListForumDiscussions(ctx, aula, externalID)
		if err != nil {
			return "", err
		}

		replies := 0
		var latest time.Time
		for _, d := range discussions {
			replies += d.NumReplies
			if d.TimeModified.After(latest) {
				latest = d.TimeModified
			}
		}
		return fmt.Sprintf("forum:%d:%d:%d", len(discussions), replies, latest.Unix()), nil

	case models.KindAssignment:
		submissions, err := o.source.ListSubmissions(ctx, aula, externalID)
		if err != nil {
			return "", err
		}

		var latest time.Time
		for _, s := range submissions {
			if s.TimeModified.After(latest) {
				latest = s.TimeModified
			}
		}
		return fmt.Sprintf("assign:%d:%d", len(submissions), latest.Unix()), nil

	default:
		return "", fmt.Errorf("unsupported activity kind %q", kind)
	}
}

type persistenceError struct {
	err error
}

func (e *persistenceError) Error() string { return e.err.Error() }
func (e *persistenceError) Unwrap() error { return e.err }

func storeError(err error) error {
	return &persistenceError{err: err}
}

func isStoreError(err error) bool {
	var pe *persistenceError
	return errors.As(err, &pe)
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}
