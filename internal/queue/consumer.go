package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Consumer consumes run requests from the Redis queue
type Consumer struct {
	client     *redis.Client
	queueName  string
	eventQueue string
	timeout    time.Duration
	log        logger.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(client *redis.Client, queueName, eventQueue string, timeout time.Duration, log logger.Logger) *Consumer {
	if queueName == "" {
		queueName = DefaultRunQueue
	}
	if eventQueue == "" {
		eventQueue = DefaultEventQueue
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Consumer{
		client:     client,
		queueName:  queueName,
		eventQueue: eventQueue,
		timeout:    timeout,
		log:        logger.OrNop(log).WithFields(map[string]interface{}{"component": "queue", "queue": queueName}),
	}
}

// Consume blocks and waits for a run request.
// Returns nil, nil if timeout occurs with no request.
func (c *Consumer) Consume(ctx context.Context) (*domain.RunRequest, error) {
	result, err := c.client.BRPop(ctx, c.timeout, c.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("brpop: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var req domain.RunRequest
	if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
		return nil, fmt.Errorf("unmarshal run request: %w", err)
	}

	return &req, nil
}

// Run starts a continuous consumer loop. Malformed requests and handler
// errors are logged and skipped; a Redis failure ends the loop.
func (c *Consumer) Run(ctx context.Context, handler func(context.Context, *domain.RunRequest) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := c.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				c.log.Warn("malformed run request skipped", map[string]interface{}{"error": err.Error()})
				continue
			}
			return fmt.Errorf("consume: %w", err)
		}

		if req == nil {
			continue // Timeout, try again
		}

		if err := handler(ctx, req); err != nil {
			c.log.Warn("run request failed", map[string]interface{}{
				"run_id":  req.ID,
				"user_id": req.UserID,
				"error":   err.Error(),
			})
		}
	}
}

// RecentEvents returns up to limit run events, newest first
func (c *Consumer) RecentEvents(ctx context.Context, limit int) ([]domain.RunEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	items, err := c.client.LRange(ctx, c.eventQueue, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}
	events := make([]domain.RunEvent, 0, len(items))
	for _, item := range items {
		var e domain.RunEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
