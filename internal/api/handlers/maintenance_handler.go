package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/pipeline"
	"github.com/aula-insights/backend/internal/storage/sqlite"
	"github.com/aula-insights/backend/pkg/logger"
)

// AnalysisCache is the slice of the redis client the maintenance endpoints use.
type AnalysisCache interface {
	ClearAnalysisCache(ctx context.Context) (int64, error)
}

type MaintenanceHandler struct {
	store  *sqlite.Client
	cache  AnalysisCache
	runner *pipeline.Runner
}

func NewMaintenanceHandler(store *sqlite.Client, cache AnalysisCache, runner *pipeline.Runner) *MaintenanceHandler {
	return &MaintenanceHandler{
		store:  store,
		cache:  cache,
		runner: runner,
	}
}

// ClearCache drops every cached analysis. Stored analyses are untouched.
func (h *MaintenanceHandler) ClearCache(c *fiber.Ctx) error {
	deleted, err := h.cache.ClearAnalysisCache(c.Context())
	if err != nil {
		logger.Error("Failed to clear analysis cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to clear cache",
		})
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"deletedKeys": deleted,
	})
}

// WipeAnalyses deletes every stored analysis row and clears the cache.
// Wiping an empty store reports zero and succeeds. Rejected while a pipeline
// run is executing so a run never observes half-deleted state.
func (h *MaintenanceHandler) WipeAnalyses(c *fiber.Ctx) error {
	if h.runner.Busy() {
		return rejected(c, "A run is in progress, retry after it finishes")
	}

	deleted, err := h.store.DeleteAllAnalyses()
	if err != nil {
		logger.Error("Failed to wipe analyses", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to wipe analyses",
		})
	}

	cleared, err := h.cache.ClearAnalysisCache(c.Context())
	if err != nil {
		// The store wipe already committed; report it with a cache warning.
		logger.Warn("Analyses wiped but cache clear failed", zap.Error(err))
		return c.JSON(fiber.Map{
			"success":         true,
			"deletedAnalyses": deleted,
			"clearedKeys":     cleared,
			"warning":         "cache clear failed, cached entries expire by TTL",
		})
	}

	logger.Info("Analyses wiped",
		zap.Int64("deleted_analyses", deleted),
		zap.Int64("cleared_keys", cleared),
	)

	return c.JSON(fiber.Map{
		"success":         true,
		"deletedAnalyses": deleted,
		"clearedKeys":     cleared,
	})
}
