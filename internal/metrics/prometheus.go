package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aula_insights_sync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	SyncedActivities = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aula_insights_synced_activities_total",
			Help: "Total activities reconciled during sync runs",
		},
	)

	DirtyActivities = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aula_insights_dirty_activities_total",
			Help: "Total activities flagged as needing analysis",
		},
	)

	AnalysesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aula_insights_analyses_generated_total",
			Help: "Total analyses written, by activity kind",
		},
		[]string{"kind"},
	)

	AnalysisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aula_insights_analysis_errors_total",
			Help: "Total per-item analysis failures",
		},
		[]string{"reason"},
	)

	AnalysisConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aula_insights_analysis_confidence",
			Help:    "Confidence scores of generated analyses",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aula_insights_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aula_insights_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aula_insights_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	LockContentions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aula_insights_lock_contentions_total",
			Help: "Analysis items skipped because another run held the lock",
		},
	)

	JobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aula_insights_job_retries_total",
			Help: "Queue job retries, by job type",
		},
		[]string{"job_type"},
	)

	JobsDead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aula_insights_jobs_dead_total",
			Help: "Jobs moved to the dead set after exhausting retries",
		},
		[]string{"job_type"},
	)

	SchedulerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aula_insights_scheduler_state",
			Help: "Scheduler state (0 stopped, 1 running, 2 executing)",
		},
	)
)

func Init() {
	prometheus.MustRegister(SyncRunDuration)
	prometheus.MustRegister(SyncedActivities)
	prometheus.MustRegister(DirtyActivities)
	prometheus.MustRegister(AnalysesGenerated)
	prometheus.MustRegister(AnalysisErrors)
	prometheus.MustRegister(AnalysisConfidence)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(LockContentions)
	prometheus.MustRegister(JobRetries)
	prometheus.MustRegister(JobsDead)
	prometheus.MustRegister(SchedulerState)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
