package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/llm"
	"github.com/aula-insights/backend/internal/moodle"
	"github.com/aula-insights/backend/internal/storage/models"
	"github.com/aula-insights/backend/pkg/logger"
)

var (
	// ErrProviderUnavailable signals a transport-level LLM failure. The batch
	// orchestrator leaves the dirty flag set so the next cycle retries.
	ErrProviderUnavailable = errors.New("analysis provider unavailable")
	ErrUnsupportedKind     = errors.New("unsupported activity kind")
)

// defaultConfidence is used when the model omits its own confidence signal,
// so downstream consumers always get a comparable numeric.
const defaultConfidence = 0.4

const maxPostExcerpts = 10

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	Model() string
}

// Engine turns raw activity or forum data into a structured pedagogical
// analysis. It never fails on malformed model output; that degrades to a
// flagged low-confidence result instead.
type Engine struct {
	completer Completer
}

type Input struct {
	Kind         models.ActivityKind
	CourseName   string
	ActivityName string
	Description  string
	DueDate      *time.Time
	Submissions  []moodle.Submission
	Discussions  []moodle.ForumDiscussion
	Posts        []moodle.ForumPost
}

type Result struct {
	Summary     string
	Strengths   []string
	Alerts      []string
	NextStep    string
	Confidence  float64
	RawResponse string
	Model       string
}

func NewEngine(completer Completer) *Engine {
	return &Engine{completer: completer}
}

func (e *Engine) Analyze(ctx context.Context, input Input) (*Result, error) {
	var userPrompt string
	switch input.Kind {
	case models.KindAssignment:
		userPrompt = e.buildAssignmentPrompt(input)
	case models.KindForum:
		userPrompt = e.buildForumPrompt(input)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, input.Kind)
	}

	resp, err := e.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	result, parseErr := parseResult(resp.Content)
	if parseErr != nil {
		logger.Warn("Malformed analysis response, using fallback",
			zap.String("activity", input.ActivityName),
			zap.Error(parseErr),
		)
		result = fallbackResult(resp.Content)
	}

	result.RawResponse = resp.Content
	result.Model = e.completer.Model()

	logger.Info("Analysis generated",
		zap.String("activity", input.ActivityName),
		zap.String("kind", string(input.Kind)),
		zap.Float64("confidence", result.Confidence),
	)

	return result, nil
}

const systemPrompt = `You are a pedagogical advisor analyzing student engagement in an online course.
Given participation data for one activity, produce a JSON object with exactly these fields:
{"summary": "2-3 sentence overview", "strengths": ["..."], "alerts": ["..."], "next_step": "one concrete action for the instructor", "confidence": 0.0-1.0}

Rules:
- Base every statement only on the provided data.
- alerts must name students-at-risk signals (low participation, missed deadlines, unanswered questions).
- confidence reflects how much data supported the analysis.
- Return JSON only, no prose around it.`

func (e *Engine) buildAssignmentPrompt(input Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Course: %s\nAssignment: %s\n", input.CourseName, input.ActivityName)
	if desc := StripHTML(input.Description); desc != "" {
		fmt.Fprintf(&b, "Description: %s\n", desc)
	}
	if input.DueDate != nil {
		fmt.Fprintf(&b, "Due date: %s\n", input.DueDate.UTC().Format("2006-01-02"))
	}

	submitted := 0
	var lastActivity time.Time
	for _, s := range input.Submissions {
		if s.Status == "submitted" {
			submitted++
		}
		if s.TimeModified.After(lastActivity) {
			lastActivity = s.TimeModified
		}
	}

	fmt.Fprintf(&b, "Submissions: %d total, %d submitted\n", len(input.Submissions), submitted)
	if !lastActivity.IsZero() {
		fmt.Fprintf(&b, "Last submission activity: %s\n", lastActivity.UTC().Format("2006-01-02"))
	}

	return b.String()
}

func (e *Engine) buildForumPrompt(input Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Course: %s\nForum: %s\n", input.CourseName, input.ActivityName)
	if desc := StripHTML(input.Description); desc != "" {
		fmt.Fprintf(&b, "Description: %s\n", desc)
	}

	totalReplies := 0
	for _, d := range input.Discussions {
		totalReplies += d.NumReplies
	}
	fmt.Fprintf(&b, "Discussions: %d, total replies: %d\n", len(input.Discussions), totalReplies)

	// Posts go in sorted oldest-first so identical remote data always
	// produces an identical prompt.
	posts := make([]moodle.ForumPost, len(input.Posts))
	copy(posts, input.Posts)
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].TimeCreated.Equal(posts[j].TimeCreated) {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].TimeCreated.Before(posts[j].TimeCreated)
	})

	if len(posts) > 0 {
		b.WriteString("Recent posts:\n")
	}

	count := 0
	for _, p := range posts {
		if count >= maxPostExcerpts {
			break
		}
		body := Excerpt(StripHTML(p.Message), 2)
		if body == "" {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", p.TimeCreated.UTC().Format("2006-01-02"), p.Author, body)
		count++
	}

	return b.String()
}
