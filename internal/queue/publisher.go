package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/pdf-intake-worker/internal/config"
)

// Publisher submits intake messages to the configured broker
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
	Close() error
}

// NewPublisher creates the publisher matching the consumer backend
func NewPublisher(cfg *config.Config) (Publisher, error) {
	switch cfg.QueueBackend {
	case config.BackendAsynq:
		return NewAsynqPublisher(cfg.RedisURL, cfg.QueueName, 3, time.Duration(cfg.ProcessingTimeoutMs)*time.Millisecond)
	default:
		return NewRedisPublisher(cfg.RedisURL, cfg.QueueName)
	}
}

// RedisPublisher pushes message bodies onto the tail of a Redis list
type RedisPublisher struct {
	client *redis.Client
	queue  string
}

// NewRedisPublisher connects to Redis
func NewRedisPublisher(redisURL, queueName string) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opt), queue: queueName}, nil
}

// Publish implements Publisher. Consumers pop from the right, so LPUSH
// keeps arrival order.
func (p *RedisPublisher) Publish(ctx context.Context, body []byte) error {
	if err := p.client.LPush(ctx, p.queue, body).Err(); err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	return nil
}

// Close closes the connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// AsynqPublisher enqueues pdf:ingest tasks
type AsynqPublisher struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

// NewAsynqPublisher creates an asynq client for queueName
func NewAsynqPublisher(redisURL, queueName string, maxRetry int, processingTimeout time.Duration) (*AsynqPublisher, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &AsynqPublisher{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: maxRetry,
		timeout:  processingTimeout + settleTimeout,
	}, nil
}

// Publish implements Publisher. The task ID is the message ID, so a
// message that is already queued is not queued twice.
func (p *AsynqPublisher) Publish(ctx context.Context, body []byte) error {
	task := asynq.NewTask(TaskTypeIngest, body)
	_, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queue),
		asynq.MaxRetry(p.maxRetry),
		asynq.Timeout(p.timeout),
		asynq.TaskID(deliveryID(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Close closes the client
func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}
