package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/batch"
	"github.com/aula-insights/backend/internal/pipeline"
	"github.com/aula-insights/backend/internal/queue"
	"github.com/aula-insights/backend/internal/syncer"
	"github.com/aula-insights/backend/pkg/logger"
)

// PipelineHandler exposes manual sync and analysis runs. Synchronous requests
// block until the run completes; async requests go through the job queue.
//
// Trigger endpoints return 200 with success=false on business-level failures
// (busy runner, unreachable remotes, invalid parameters); 5xx is reserved for
// unexpected faults like a broken store or queue.
type PipelineHandler struct {
	runner   *pipeline.Runner
	producer *queue.Producer
}

func NewPipelineHandler(runner *pipeline.Runner, producer *queue.Producer) *PipelineHandler {
	return &PipelineHandler{
		runner:   runner,
		producer: producer,
	}
}

func rejected(c *fiber.Ctx, message string) error {
	return c.JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// errorList keeps the errors field a JSON array even when empty.
func errorList(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}

func (h *PipelineHandler) HandleSync(c *fiber.Ctx) error {
	var req struct {
		AulaID int64 `json:"aulaId"`
		Async  bool  `json:"async"`
	}

	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	if req.Async {
		jobID, err := h.producer.Enqueue(c.Context(), queue.Job{
			Type:   queue.JobSync,
			AulaID: req.AulaID,
		})
		if err != nil {
			logger.Error("Failed to enqueue sync job", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to enqueue job",
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"jobId":   jobID,
			"status":  "queued",
		})
	}

	report, err := h.runner.RunSync(c.Context(), syncer.Options{AulaID: req.AulaID})
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			return rejected(c, "A run is already in progress")
		}
		if report != nil {
			// The run started and failed on business grounds (for example
			// every aula unreachable). The JobRun row carries the detail.
			logger.Warn("Sync run failed", zap.Error(err))
			return rejected(c, err.Error())
		}
		logger.Error("Sync run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Sync run failed",
			"detail": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"jobId":           report.JobID,
		"processedAulas":  report.Sync.ProcessedAulas,
		"totalCourses":    report.Sync.TotalCourses,
		"totalActivities": report.Sync.TotalActivities,
		"errors":          errorList(report.Sync.Errors),
	})
}

func (h *PipelineHandler) HandleAnalyze(c *fiber.Ctx) error {
	var req struct {
		AulaID   int64 `json:"aulaId"`
		CourseID int64 `json:"courseId"`
		Force    bool  `json:"forceReAnalysis"`
		Limit    int   `json:"limit"`
		Async    bool  `json:"async"`
	}

	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	if req.Limit < 0 {
		return rejected(c, "limit must not be negative")
	}

	if req.Async {
		jobID, err := h.producer.Enqueue(c.Context(), queue.Job{
			Type:     queue.JobAnalysis,
			AulaID:   req.AulaID,
			CourseID: req.CourseID,
			Force:    req.Force,
			Limit:    req.Limit,
		})
		if err != nil {
			logger.Error("Failed to enqueue analysis job", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to enqueue job",
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"jobId":   jobID,
			"status":  "queued",
		})
	}

	report, err := h.runner.RunAnalysis(c.Context(), batch.Options{
		AulaID:   req.AulaID,
		CourseID: req.CourseID,
		Force:    req.Force,
		Limit:    req.Limit,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			return rejected(c, "A run is already in progress")
		}
		if report != nil {
			logger.Warn("Analysis run failed", zap.Error(err))
			return rejected(c, err.Error())
		}
		logger.Error("Analysis run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Analysis run failed",
			"detail": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":             true,
		"jobId":               report.JobID,
		"processedActivities": report.Batch.ProcessedActivities,
		"generatedAnalyses":   report.Batch.GeneratedAnalyses,
		"errors":              errorList(report.Batch.Errors),
	})
}
