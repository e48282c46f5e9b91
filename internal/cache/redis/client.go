package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/pkg/logger"
)

// ErrLockHeld means another run is already analyzing the same activity key.
// Callers skip the item; this is expected contention, not a failure.
var ErrLockHeld = errors.New("analysis lock already held")

const lockTTL = 5 * time.Minute

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetAnalysis caches a serialized analysis under its activity key and content
// fingerprint. Cached entries are advisory; the store stays the source of truth.
func (c *Client) SetAnalysis(ctx context.Context, activityKey, fingerprint string, analysis interface{}, ttl time.Duration) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	err = c.client.Set(ctx, analysisKey(activityKey, fingerprint), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set analysis cache: %w", err)
	}

	logger.Debug("Analysis cached",
		zap.String("activity_key", activityKey),
		zap.Duration("ttl", ttl),
	)
	return nil
}

func (c *Client) GetAnalysis(ctx context.Context, activityKey, fingerprint string, analysis interface{}) (bool, error) {
	data, err := c.client.Get(ctx, analysisKey(activityKey, fingerprint)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get analysis cache: %w", err)
	}

	err = json.Unmarshal(data, analysis)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}

	logger.Debug("Analysis cache hit", zap.String("activity_key", activityKey))
	return true, nil
}

// AcquireLock takes the short-lived exclusive lock for one activity key.
// Returns ErrLockHeld when a concurrent run owns it.
func (c *Client) AcquireLock(ctx context.Context, activityKey string) error {
	ok, err := c.client.SetNX(ctx, "lock:"+activityKey, 1, lockTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

func (c *Client) ReleaseLock(ctx context.Context, activityKey string) error {
	err := c.client.Del(ctx, "lock:"+activityKey).Err()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// ClearAnalysisCache deletes every cached analysis and reports how many keys
// were removed. Clearing an empty cache reports zero.
func (c *Client) ClearAnalysisCache(ctx context.Context) (int64, error) {
	var deleted int64

	iter := c.client.Scan(ctx, 0, "analysis:*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Analysis cache cleared", zap.Int64("deleted", deleted))
	return deleted, nil
}

func analysisKey(activityKey, fingerprint string) string {
	return fmt.Sprintf("analysis:%s:%s", activityKey, fingerprint)
}
