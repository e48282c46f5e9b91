package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	JobSync     = "sync"
	JobAnalysis = "analysis"
	JobPipeline = "pipeline"
)

// Job is the unit of work carried on the redis list. Attempts counts
// executions so far; it is zero for a freshly enqueued job.
type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	AulaID     int64     `json:"aulaId,omitempty"`
	CourseID   int64     `json:"courseId,omitempty"`
	Force      bool      `json:"force,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Broker is the slice of the redis client the queue needs.
type Broker interface {
	EnqueueJob(ctx context.Context, payload []byte) error
	DequeueJob(ctx context.Context, timeout time.Duration) ([]byte, error)
	BuryJob(ctx context.Context, payload []byte) error
}

type Producer struct {
	broker Broker
}

func NewProducer(broker Broker) *Producer {
	return &Producer{broker: broker}
}

// Enqueue submits a new job and returns its id.
func (p *Producer) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.EnqueuedAt = time.Now()

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := p.broker.EnqueueJob(ctx, payload); err != nil {
		return "", err
	}
	return job.ID, nil
}
