package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRunQueue   = "immo:runs"
	DefaultEventQueue = "immo:run-events"
	// Events kept on the event list
	maxEvents = 1000
)

// Publisher pushes run requests and run events to Redis lists
type Publisher struct {
	client     *redis.Client
	queueName  string
	eventQueue string
}

// NewPublisher creates a new queue publisher
func NewPublisher(client *redis.Client, queueName, eventQueue string) *Publisher {
	if queueName == "" {
		queueName = DefaultRunQueue
	}
	if eventQueue == "" {
		eventQueue = DefaultEventQueue
	}
	return &Publisher{
		client:     client,
		queueName:  queueName,
		eventQueue: eventQueue,
	}
}

// Publish pushes a single run request to the queue
func (p *Publisher) Publish(ctx context.Context, req *domain.RunRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}

	if err := p.client.LPush(ctx, p.queueName, data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}

	return nil
}

// PublishBatch pushes multiple run requests to the queue
func (p *Publisher) PublishBatch(ctx context.Context, reqs []*domain.RunRequest) error {
	if len(reqs) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, req := range reqs {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal run request: %w", err)
		}
		pipe.LPush(ctx, p.queueName, data)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}

	return nil
}

// PublishEvent records the final status of a run. The event list is capped;
// the newest event is first.
func (p *Publisher) PublishEvent(ctx context.Context, event domain.RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.eventQueue, data)
	pipe.LTrim(ctx, p.eventQueue, 0, maxEvents-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// QueueLength returns the number of pending run requests
func (p *Publisher) QueueLength(ctx context.Context) (int64, error) {
	return p.client.LLen(ctx, p.queueName).Result()
}
