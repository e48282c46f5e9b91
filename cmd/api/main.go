package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/analysis"
	"github.com/aula-insights/backend/internal/api/handlers"
	"github.com/aula-insights/backend/internal/batch"
	redisclient "github.com/aula-insights/backend/internal/cache/redis"
	"github.com/aula-insights/backend/internal/events"
	"github.com/aula-insights/backend/internal/llm"
	"github.com/aula-insights/backend/internal/metrics"
	"github.com/aula-insights/backend/internal/middleware/ratelimit"
	"github.com/aula-insights/backend/internal/middleware/security"
	"github.com/aula-insights/backend/internal/middleware/validation"
	"github.com/aula-insights/backend/internal/moodle"
	"github.com/aula-insights/backend/internal/pipeline"
	"github.com/aula-insights/backend/internal/queue"
	"github.com/aula-insights/backend/internal/scheduler"
	"github.com/aula-insights/backend/internal/storage/sqlite"
	"github.com/aula-insights/backend/internal/syncer"
	"github.com/aula-insights/backend/pkg/config"
	appLogger "github.com/aula-insights/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Aula Insights API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	redisClient, err := redisclient.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	moodleClient := moodle.NewClient(
		cfg.Moodle.TimeoutSec,
		cfg.Moodle.MaxRetries,
		cfg.Moodle.UserAgent,
	)

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	hub := events.NewHub()
	engine := analysis.NewEngine(llmClient)

	syncOrch := syncer.NewOrchestrator(sqliteClient, moodleClient)
	batchOrch := batch.NewOrchestrator(
		sqliteClient,
		redisClient,
		engine,
		moodleClient,
		hub,
		time.Duration(cfg.LLM.CacheTTLMin)*time.Minute,
	)

	runner := pipeline.NewRunner(sqliteClient, syncOrch, batchOrch, hub)

	producer := queue.NewProducer(redisClient)
	worker := queue.NewWorker(redisClient, runner, cfg.Queue.MaxAttempts, cfg.Queue.Concurrency, cfg.Queue.PollTimeout)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	worker.Start(workerCtx)

	sched := scheduler.New(runner, cfg.Scheduler.CronExpr)
	if cfg.Scheduler.Enabled {
		if err := scheduler.ValidateExpr(cfg.Scheduler.CronExpr); err != nil {
			appLogger.Fatal("Invalid cron expression", zap.Error(err))
		}
		if err := sched.Start(); err != nil {
			appLogger.Fatal("Failed to start scheduler", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(validation.Middleware(validation.Config{
		MaxBodySize: cfg.Server.BodyLimit,
		Logger:      appLogger.GetLogger(),
	}))

	limiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer limiter.Stop()

	pipelineHandler := handlers.NewPipelineHandler(runner, producer)
	schedulerHandler := handlers.NewSchedulerHandler(sched)
	activitiesHandler := handlers.NewActivitiesHandler(sqliteClient)
	maintenanceHandler := handlers.NewMaintenanceHandler(sqliteClient, redisClient, runner)
	wsHandler := handlers.NewWebSocketHandler(hub)

	api := app.Group("/api/v1", limiter.Middleware())

	api.Post("/sync", pipelineHandler.HandleSync)
	api.Post("/analyze", pipelineHandler.HandleAnalyze)

	api.Get("/scheduler/status", schedulerHandler.GetStatus)
	api.Post("/scheduler/control", schedulerHandler.HandleControl)

	api.Get("/activities", activitiesHandler.ListActivities)
	api.Get("/activities/:id/analysis", activitiesHandler.GetLatestAnalysis)
	api.Get("/jobs/:id", activitiesHandler.GetJobRun)

	api.Post("/maintenance/cache/clear", maintenanceHandler.ClearCache)
	api.Post("/maintenance/wipe", maintenanceHandler.WipeAnalyses)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")

	if cfg.Scheduler.Enabled {
		sched.Stop()
	}
	stopWorkers()
	worker.Wait()

	app.Shutdown()
	appLogger.Info("Server stopped")
}
