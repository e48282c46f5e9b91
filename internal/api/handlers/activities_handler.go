package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/storage/sqlite"
	"github.com/aula-insights/backend/pkg/logger"
)

type ActivitiesHandler struct {
	store *sqlite.Client
}

func NewActivitiesHandler(store *sqlite.Client) *ActivitiesHandler {
	return &ActivitiesHandler{store: store}
}

type activityView struct {
	ID            int64      `json:"id"`
	ExternalID    int64      `json:"externalId"`
	Kind          string     `json:"kind"`
	Name          string     `json:"name"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	Visible       bool       `json:"visible"`
	NeedsAnalysis bool       `json:"needsAnalysis"`
	AnalysisCount int        `json:"analysisCount"`
	LastDataSync  *time.Time `json:"lastDataSync,omitempty"`
}

type courseGroup struct {
	CourseID   int64          `json:"courseId"`
	CourseName string         `json:"courseName"`
	Stats      statsView      `json:"stats"`
	Activities []activityView `json:"activities"`
}

type aulaGroup struct {
	AulaID   int64          `json:"aulaId"`
	AulaName string         `json:"aulaName"`
	Stats    statsView      `json:"stats"`
	Courses  []*courseGroup `json:"courses"`
}

type statsView struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Analyzed int `json:"analyzed"`
}

// ListActivities returns activities grouped by aula and course, with per-group
// counters. Optional filters: aulaId, courseId, activeOnly.
func (h *ActivitiesHandler) ListActivities(c *fiber.Ctx) error {
	filter := sqlite.ListingFilter{}

	if v := c.Query("aulaId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "aulaId must be an integer",
			})
		}
		filter.AulaID = id
	}
	if v := c.Query("courseId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "courseId must be an integer",
			})
		}
		filter.CourseID = id
	}
	filter.ActiveOnly = c.QueryBool("activeOnly")

	listings, err := h.store.ListActivities(filter)
	if err != nil {
		logger.Error("Failed to list activities", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list activities",
		})
	}

	grouped := groupListings(listings)

	return c.JSON(fiber.Map{
		"aulas": grouped,
		"total": len(listings),
	})
}

// groupListings relies on the store ordering rows by aula then course.
func groupListings(listings []sqlite.ActivityListing) []*aulaGroup {
	aulas := []*aulaGroup{}
	var currentAula *aulaGroup
	var currentCourse *courseGroup

	for _, l := range listings {
		if currentAula == nil || currentAula.AulaID != l.AulaID {
			currentAula = &aulaGroup{
				AulaID:   l.AulaID,
				AulaName: l.AulaName,
				Courses:  []*courseGroup{},
			}
			aulas = append(aulas, currentAula)
			currentCourse = nil
		}

		if currentCourse == nil || currentCourse.CourseID != l.CourseID {
			currentCourse = &courseGroup{
				CourseID:   l.CourseID,
				CourseName: l.CourseName,
				Activities: []activityView{},
			}
			currentAula.Courses = append(currentAula.Courses, currentCourse)
		}

		a := l.Activity
		currentCourse.Activities = append(currentCourse.Activities, activityView{
			ID:            a.ID,
			ExternalID:    a.ExternalID,
			Kind:          string(a.Kind),
			Name:          a.Name,
			DueDate:       a.DueDate,
			Visible:       a.Visible,
			NeedsAnalysis: a.NeedsAnalysis,
			AnalysisCount: a.AnalysisCount,
			LastDataSync:  a.LastDataSync,
		})

		addToStats(&currentCourse.Stats, a.Visible, l.Analyzed)
		addToStats(&currentAula.Stats, a.Visible, l.Analyzed)
	}

	return aulas
}

func addToStats(s *statsView, visible, analyzed bool) {
	s.Total++
	if visible {
		s.Active++
	} else {
		s.Inactive++
	}
	if analyzed {
		s.Analyzed++
	}
}

// GetLatestAnalysis returns the current analysis for one activity.
func (h *ActivitiesHandler) GetLatestAnalysis(c *fiber.Ctx) error {
	activityID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "activity id must be an integer",
		})
	}

	activity, err := h.store.GetActivity(activityID)
	if err != nil {
		logger.Error("Failed to load activity", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load activity",
		})
	}
	if activity == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Activity not found",
		})
	}

	course, err := h.store.GetCourse(activity.CourseID)
	if err != nil || course == nil {
		logger.Error("Failed to resolve activity course", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load activity",
		})
	}

	analysis, err := h.store.GetLatestAnalysis(course.AulaID, activity.CourseID, activityID, 0)
	if err != nil {
		logger.Error("Failed to load analysis", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load analysis",
		})
	}
	if analysis == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No analysis available for this activity",
		})
	}

	return c.JSON(fiber.Map{
		"id":          analysis.ID,
		"activityId":  analysis.ActivityID,
		"kind":        string(analysis.Kind),
		"summary":     analysis.Summary,
		"strengths":   analysis.Strengths,
		"alerts":      analysis.Alerts,
		"nextStep":    analysis.NextStep,
		"confidence":  analysis.Confidence,
		"model":       analysis.Model,
		"generatedAt": analysis.GeneratedAt,
	})
}

// GetJobRun returns the persisted record of one job execution.
func (h *ActivitiesHandler) GetJobRun(c *fiber.Ctx) error {
	run, err := h.store.GetJobRun(c.Params("id"))
	if err != nil {
		logger.Error("Failed to load job run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load job run",
		})
	}
	if run == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job run not found",
		})
	}

	return c.JSON(fiber.Map{
		"id":         run.ID,
		"jobType":    run.JobType,
		"status":     run.Status,
		"startedAt":  run.StartedAt,
		"finishedAt": run.FinishedAt,
		"processed":  run.Processed,
		"generated":  run.Generated,
		"errorCount": run.ErrorCount,
		"detail":     run.Detail,
	})
}
