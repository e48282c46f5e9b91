package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Moodle    MoodleConfig
	LLM       LLMConfig
	Scheduler SchedulerConfig
	Queue     QueueConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MoodleConfig struct {
	TimeoutSec int
	MaxRetries int
	UserAgent  string
}

type LLMConfig struct {
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	CacheTTLMin int
}

type SchedulerConfig struct {
	Enabled  bool
	CronExpr string
}

type QueueConfig struct {
	MaxAttempts int
	Concurrency int
	PollTimeout int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/aula-insights")

	viper.SetEnvPrefix("AULA_INSIGHTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate fails fast on missing credentials instead of at first job run.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("configuration error: llm.apiKey is required")
	}
	if c.Scheduler.Enabled && c.Scheduler.CronExpr == "" {
		return fmt.Errorf("configuration error: scheduler.cronExpr is required when scheduler is enabled")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/aulainsights.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("moodle.timeoutSec", 20)
	viper.SetDefault("moodle.maxRetries", 3)
	viper.SetDefault("moodle.userAgent", "aula-insights/1.0")

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.cacheTTLMin", 360)

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.cronExpr", "*/30 * * * *")

	viper.SetDefault("queue.maxAttempts", 3)
	viper.SetDefault("queue.concurrency", 1)
	viper.SetDefault("queue.pollTimeout", 5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
