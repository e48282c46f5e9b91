package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/analysis"
	rediscache "github.com/aula-insights/backend/internal/cache/redis"
	"github.com/aula-insights/backend/internal/events"
	"github.com/aula-insights/backend/internal/metrics"
	"github.com/aula-insights/backend/internal/moodle"
	"github.com/aula-insights/backend/internal/storage/models"
	"github.com/aula-insights/backend/internal/storage/sqlite"
	"github.com/aula-insights/backend/pkg/logger"
)

// Analyzer produces a structured analysis for one activity snapshot.
type Analyzer interface {
	Analyze(ctx context.Context, input analysis.Input) (*analysis.Result, error)
}

// Cache is the analysis cache plus the per-activity lock used to guarantee
// at most one in-flight analysis per key.
type Cache interface {
	GetAnalysis(ctx context.Context, activityKey, fingerprint string, out interface{}) (bool, error)
	SetAnalysis(ctx context.Context, activityKey, fingerprint string, v interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, activityKey string) error
	ReleaseLock(ctx context.Context, activityKey string) error
}

// ContentSource fetches the raw material an analysis prompt is built from.
type ContentSource interface {
	ListForumDiscussions(ctx context.Context, aula *models.Aula, forumID int64) ([]moodle.ForumDiscussion, error)
	ListDiscussionPosts(ctx context.Context, aula *models.Aula, discussionID int64) ([]moodle.ForumPost, error)
	ListSubmissions(ctx context.Context, aula *models.Aula, assignmentID int64) ([]moodle.Submission, error)
}

const maxDiscussionsFetched = 5

type Orchestrator struct {
	store    *sqlite.Client
	cache    Cache
	engine   Analyzer
	source   ContentSource
	hub      *events.Hub
	cacheTTL time.Duration
}

type Options struct {
	AulaID   int64
	CourseID int64
	Force    bool
	Limit    int
}

type Result struct {
	ProcessedActivities int      `json:"processedActivities"`
	GeneratedAnalyses   int      `json:"generatedAnalyses"`
	Errors              []string `json:"errors"`
}

func NewOrchestrator(store *sqlite.Client, cache Cache, engine Analyzer, source ContentSource, hub *events.Hub, cacheTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		store:    store,
		cache:    cache,
		engine:   engine,
		source:   source,
		hub:      hub,
		cacheTTL: cacheTTL,
	}
}

func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{Errors: []string{}}

	candidates, err := o.store.ListNeedingAnalysis(sqlite.AnalysisFilter{
		AulaID:   opts.AulaID,
		CourseID: opts.CourseID,
		Force:    opts.Force,
		Limit:    opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select activities: %w", err)
	}

	logger.Info("Batch analysis run started",
		zap.Int("candidates", len(candidates)),
		zap.Bool("force", opts.Force),
	)

	aulaByID := make(map[int64]*models.Aula)

	for _, cand := range candidates {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		aula, ok := aulaByID[cand.AulaID]
		if !ok {
			aula, err = o.store.GetAula(cand.AulaID)
			if err != nil {
				return result, fmt.Errorf("failed to load aula %d: %w", cand.AulaID, err)
			}
			if aula == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("activity %d: aula %d not found", cand.Activity.ID, cand.AulaID))
				continue
			}
			aulaByID[cand.AulaID] = aula
		}

		o.processItem(ctx, aula, cand, opts.Force, result)
	}

	logger.Info("Batch analysis run finished",
		zap.Int("processed", result.ProcessedActivities),
		zap.Int("generated", result.GeneratedAnalyses),
		zap.Int("errors", len(result.Errors)),
	)

	return result, nil
}

func (o *Orchestrator) processItem(ctx context.Context, aula *models.Aula, cand sqlite.AnalysisCandidate, force bool, result *Result) {
	activity := cand.Activity
	key := activityKey(cand.AulaID, activity.CourseID, activity.ID, 0)

	if err := o.cache.AcquireLock(ctx, key); err != nil {
		if errors.Is(err, rediscache.ErrLockHeld) {
			// Another run owns this item right now. Expected, skip silently.
			metrics.LockContentions.Inc()
			logger.Debug("Analysis lock contention", zap.String("activity_key", key))
			return
		}
		result.Errors = append(result.Errors, fmt.Sprintf("activity %d: lock failed: %v", activity.ID, err))
		return
	}
	defer o.cache.ReleaseLock(ctx, key)

	result.ProcessedActivities++

	if !force {
		var cached analysis.Result
		hit, err := o.cache.GetAnalysis(ctx, key, activity.Fingerprint, &cached)
		if err != nil {
			logger.Warn("Cache read failed", zap.String("activity_key", key), zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("analysis").Inc()
			if err := o.persist(cand, &cached); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("activity %d: %v", activity.ID, err))
				return
			}
			result.GeneratedAnalyses++
			return
		}
		metrics.CacheMisses.WithLabelValues("analysis").Inc()
	}

	input, err := o.buildInput(ctx, aula, cand)
	if err != nil {
		metrics.AnalysisErrors.WithLabelValues("fetch").Inc()
		result.Errors = append(result.Errors, fmt.Sprintf("activity %d: %v", activity.ID, err))
		return
	}

	generated, err := o.engine.Analyze(ctx, *input)
	if err != nil {
		// The dirty flag stays set so the next cycle retries this item.
		metrics.AnalysisErrors.WithLabelValues("provider").Inc()
		result.Errors = append(result.Errors, fmt.Sprintf("activity %d: %v", activity.ID, err))
		if o.hub != nil {
			o.hub.Publish(events.TypeAnalysisFailed, map[string]interface{}{
				"activityId": activity.ID,
				"error":      err.Error(),
			})
		}
		return
	}

	if err := o.persist(cand, generated); err != nil {
		metrics.AnalysisErrors.WithLabelValues("persistence").Inc()
		result.Errors = append(result.Errors, fmt.Sprintf("activity %d: %v", activity.ID, err))
		return
	}

	result.GeneratedAnalyses++
	metrics.AnalysesGenerated.WithLabelValues(string(activity.Kind)).Inc()
	metrics.AnalysisConfidence.Observe(generated.Confidence)

	// Cache after commit; losing this write only costs a future cache miss.
	if err := o.cache.SetAnalysis(ctx, key, activity.Fingerprint, generated, o.cacheTTL); err != nil {
		logger.Warn("Cache write failed", zap.String("activity_key", key), zap.Error(err))
	}

	if o.hub != nil {
		o.hub.Publish(events.TypeAnalysisWritten, map[string]interface{}{
			"activityId": activity.ID,
			"kind":       string(activity.Kind),
			"confidence": generated.Confidence,
		})
	}
}

func (o *Orchestrator) persist(cand sqlite.AnalysisCandidate, res *analysis.Result) error {
	activity := cand.Activity

	row := &models.ActivityAnalysis{
		ID:          uuid.New().String(),
		AulaID:      cand.AulaID,
		CourseID:    activity.CourseID,
		ActivityID:  activity.ID,
		GroupID:     0,
		Kind:        activity.Kind,
		Summary:     res.Summary,
		Strengths:   res.Strengths,
		Alerts:      res.Alerts,
		NextStep:    res.NextStep,
		Confidence:  res.Confidence,
		RawResponse: res.RawResponse,
		Model:       res.Model,
		Fingerprint: activity.Fingerprint,
		GeneratedAt: time.Now(),
	}

	if err := o.store.InsertAnalysis(row); err != nil {
		return fmt.Errorf("failed to persist analysis: %w", err)
	}

	return nil
}

func (o *Orchestrator) buildInput(ctx context.Context, aula *models.Aula, cand sqlite.AnalysisCandidate) (*analysis.Input, error) {
	activity := cand.Activity

	input := &analysis.Input{
		Kind:         activity.Kind,
		CourseName:   cand.CourseName,
		ActivityName: activity.Name,
		Description:  activity.Description,
		DueDate:      activity.DueDate,
	}

	switch activity.Kind {
	case models.KindForum:
		discussions, err := o.source.ListForumDiscussions(ctx, aula, activity.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch discussions: %w", err)
		}
		input.Discussions = discussions

		for i, d := range discussions {
			if i >= maxDiscussionsFetched {
				break
			}
			posts, err := o.source.ListDiscussionPosts(ctx, aula, d.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch posts: %w", err)
			}
			input.Posts = append(input.Posts, posts...)
		}

	case models.KindAssignment:
		submissions, err := o.source.ListSubmissions(ctx, aula, activity.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch submissions: %w", err)
		}
		input.Submissions = submissions

	default:
		return nil, fmt.Errorf("unsupported activity kind %q", activity.Kind)
	}

	return input, nil
}

func activityKey(aulaID, courseID, activityID, groupID int64) string {
	return fmt.Sprintf("%d:%d:%d:%d", aulaID, courseID, activityID, groupID)
}
