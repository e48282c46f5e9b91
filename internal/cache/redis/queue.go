package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobQueueKey = "jobs:pending"
	deadSetKey  = "jobs:dead"
)

// EnqueueJob pushes a serialized job onto the pending list.
func (c *Client) EnqueueJob(ctx context.Context, payload []byte) error {
	if err := c.client.LPush(ctx, jobQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// DequeueJob blocks up to timeout for the next job. Returns nil with no error
// when the wait times out.
func (c *Client) DequeueJob(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := c.client.BRPop(ctx, timeout, jobQueueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}
	return []byte(res[1]), nil
}

// BuryJob moves an exhausted job onto the dead set for operator inspection.
func (c *Client) BuryJob(ctx context.Context, payload []byte) error {
	if err := c.client.LPush(ctx, deadSetKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to bury job: %w", err)
	}
	return nil
}

// QueueDepth returns the pending and dead job counts.
func (c *Client) QueueDepth(ctx context.Context) (pending, dead int64, err error) {
	pending, err = c.client.LLen(ctx, jobQueueKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	dead, err = c.client.LLen(ctx, deadSetKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read dead set depth: %w", err)
	}
	return pending, dead, nil
}
