package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/pipeline"
	"github.com/aula-insights/backend/internal/scheduler"
	"github.com/aula-insights/backend/pkg/logger"
)

type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
}

func NewSchedulerHandler(s *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s}
}

func (h *SchedulerHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.scheduler.Status())
}

func (h *SchedulerHandler) HandleControl(c *fiber.Ctx) error {
	var req struct {
		Action string `json:"action"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var err error
	switch req.Action {
	case "start":
		err = h.scheduler.Start()
	case "stop":
		err = h.scheduler.Stop()
	case "restart":
		err = h.scheduler.Restart()
	case "trigger":
		err = h.scheduler.Trigger(c.Context())
	case "validate":
		if err := h.scheduler.ValidateJobs(); err != nil {
			return c.JSON(fiber.Map{
				"success": false,
				"valid":   false,
				"message": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"success": true,
			"valid":   true,
		})
	default:
		return rejected(c, "Unknown action, expected start, stop, restart, trigger or validate")
	}

	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrExecuting), errors.Is(err, pipeline.ErrBusy):
			return rejected(c, "busy: a pipeline run is currently executing")
		case errors.Is(err, scheduler.ErrAlreadyRunning), errors.Is(err, scheduler.ErrNotRunning):
			return rejected(c, err.Error())
		default:
			logger.Error("Scheduler control failed",
				zap.String("action", req.Action),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":  "Scheduler action failed",
				"detail": err.Error(),
			})
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"action":  req.Action,
		"status":  h.scheduler.Status(),
	})
}
