/**
 * Redis Queue Consumer for the PDF intake worker
 *
 * Reliable-list consumption: BLMOVE moves each message from the queue into
 * <queue>:processing, where it stays until the worker settles it.
 * - ack: LREM from the processing list
 * - nack with requeue: back onto the head of the queue
 * - nack without requeue: onto <queue>:dead with the error
 *
 * Prefetch is the number of workers; each holds one message at a time.
 * After MaxConnectionErrors consecutive connection failures the consumer
 * stops fetching and reports the loss on Err.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
)

const (
	fetchTimeout  = 5 * time.Second
	settleTimeout = 10 * time.Second
)

// errQueueEmpty is returned when BLMOVE times out with nothing to fetch
var errQueueEmpty = errors.New("no messages available")

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL            string
	QueueName           string
	Prefetch            int
	Handler             *Handler
	ProcessingTimeout   time.Duration // also the in-flight guard TTL
	MaxConnectionErrors int
	RetryDelay          time.Duration // pause after a failed fetch
	Logger              *logging.Logger
}

// DeadLetter is the entry pushed to <queue>:dead
type DeadLetter struct {
	MessageID string                 `json:"messageId,omitempty"`
	Body      string                 `json:"body"`
	Error     map[string]interface{} `json:"error,omitempty"`
	FailedAt  time.Time              `json:"failedAt"`
}

// RedisConsumer handles message consumption from a Redis list
type RedisConsumer struct {
	client  *redis.Client
	handler *Handler
	config  *RedisConsumerConfig
	logger  *logging.Logger

	// fetchCtx stops pulling; in-flight handling runs on its own context
	fetchCtx    context.Context
	cancelFetch context.CancelFunc
	wg          sync.WaitGroup
	conn        *connectionMonitor

	acked      atomic.Int64
	nacked     atomic.Int64
	duplicates atomic.Int64
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisConsumer(client, cfg)
}

func newRedisConsumer(client *redis.Client, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 5 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("RedisConsumer")
	}

	fetchCtx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:      client,
		handler:     cfg.Handler,
		config:      cfg,
		logger:      logger,
		fetchCtx:    fetchCtx,
		cancelFetch: cancel,
		conn:        newConnectionMonitor(cfg.MaxConnectionErrors, cancel),
	}, nil
}

// Err reports a lost broker connection. The consumer has already stopped
// fetching when a value arrives.
func (c *RedisConsumer) Err() <-chan error {
	return c.conn.lost()
}

func (c *RedisConsumer) processingKey() string { return c.config.QueueName + ":processing" }
func (c *RedisConsumer) deadKey() string       { return c.config.QueueName + ":dead" }
func (c *RedisConsumer) inflightKey(id string) string {
	return c.config.QueueName + ":inflight:" + id
}

// Start re-queues stale in-flight messages and starts the workers
func (c *RedisConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Redis queue consumer", "prefetch", c.config.Prefetch, "queue", c.config.QueueName)

	recovered, err := c.RecoverInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight messages: %w", err)
	}
	if recovered > 0 {
		c.logger.Warn("Re-queued messages left in processing", "count", recovered)
	}

	for i := 0; i < c.config.Prefetch; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.logger.Info("Queue consumer started successfully")
	return nil
}

// Stop stops pulling, waits for in-flight messages to be settled and
// closes the connection
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer...")
	c.cancelFetch()
	c.wg.Wait()
	c.logger.Info("Queue consumer stopped", "acked", c.acked.Load(), "nacked", c.nacked.Load())
	return c.client.Close()
}

// worker is a goroutine that processes messages one at a time
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.fetchCtx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		err := c.processNext(id)
		if err == nil || errors.Is(err, errQueueEmpty) {
			c.conn.success()
			continue
		}
		if c.fetchCtx.Err() != nil {
			continue
		}
		c.logger.Error("Worker error", "worker", id, "error", err)
		if isConnectionError(err) && c.conn.failure(err) {
			c.logger.Error("Redis connection lost, stopping workers", "worker", id, "error", err)
			return
		}
		select {
		case <-c.fetchCtx.Done():
		case <-time.After(c.config.RetryDelay):
		}
	}
}

// processNext fetches one message and handles it to its decision
func (c *RedisConsumer) processNext(workerID int) error {
	body, err := c.client.BLMove(c.fetchCtx, c.config.QueueName, c.processingKey(), "RIGHT", "LEFT", fetchTimeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errQueueEmpty
		}
		return fmt.Errorf("failed to fetch message: %w", err)
	}

	// From here on the message is ours; shutdown must not interrupt it.
	ctx := context.Background()
	id := deliveryID([]byte(body))

	acquired, err := c.client.SetNX(ctx, c.inflightKey(id), workerID, c.config.ProcessingTimeout+settleTimeout).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire in-flight guard for %s: %w", id, err)
	}
	if !acquired {
		// Another worker holds the same message; its decision covers this copy.
		c.duplicates.Add(1)
		c.logger.Warn("Dropping duplicate delivery already in flight", "deliveryId", id)
		return c.client.LRem(ctx, c.processingKey(), 1, body).Err()
	}

	d := NewDelivery(id, []byte(body), &redisAcknowledger{consumer: c, id: id, body: body})
	_, err = c.handler.Handle(ctx, d)
	if dec := d.Decision(); dec != nil {
		if dec.Ack {
			c.acked.Add(1)
		} else {
			c.nacked.Add(1)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to settle %s: %w", id, err)
	}
	return nil
}

// RecoverInFlight moves processing-list entries that no worker holds back
// onto the queue. It returns how many were moved.
func (c *RedisConsumer) RecoverInFlight(ctx context.Context) (int, error) {
	entries, err := c.client.LRange(ctx, c.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, body := range entries {
		held, err := c.client.Exists(ctx, c.inflightKey(deliveryID([]byte(body)))).Result()
		if err != nil {
			return moved, err
		}
		if held > 0 {
			continue
		}
		pipe := c.client.TxPipeline()
		rem := pipe.LRem(ctx, c.processingKey(), 1, body)
		pipe.RPush(ctx, c.config.QueueName, body)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		if rem.Val() > 0 {
			moved++
		}
	}
	return moved, nil
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.LLen(ctx, c.processingKey())
	dead := pipe.LLen(ctx, c.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue lengths: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"dead":       dead.Val(),
		"acked":      c.acked.Load(),
		"nacked":     c.nacked.Load(),
		"duplicates": c.duplicates.Load(),
	}, nil
}

// redisAcknowledger settles one message held in the processing list
type redisAcknowledger struct {
	consumer *RedisConsumer
	id       string
	body     string
}

func (a *redisAcknowledger) Ack(ctx context.Context) error {
	c := a.consumer
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.LRem(ctx, c.processingKey(), 1, a.body)
	pipe.Del(ctx, c.inflightKey(a.id))
	_, err := pipe.Exec(ctx)
	return err
}

func (a *redisAcknowledger) Nack(ctx context.Context, requeue bool, reason error) error {
	c := a.consumer
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.LRem(ctx, c.processingKey(), 1, a.body)
	if requeue {
		pipe.RPush(ctx, c.config.QueueName, a.body)
	} else {
		entry, err := json.Marshal(newDeadLetter(a.id, a.body, reason))
		if err != nil {
			return fmt.Errorf("failed to marshal dead letter: %w", err)
		}
		pipe.LPush(ctx, c.deadKey(), entry)
	}
	pipe.Del(ctx, c.inflightKey(a.id))
	_, err := pipe.Exec(ctx)
	return err
}

func newDeadLetter(id, body string, reason error) DeadLetter {
	dl := DeadLetter{MessageID: id, Body: body, FailedAt: time.Now().UTC()}
	if reason == nil {
		return dl
	}
	var pe *apperrors.ProcessingError
	if errors.As(reason, &pe) {
		dl.Error = pe.ToMap()
	} else {
		dl.Error = map[string]interface{}{"message": reason.Error()}
	}
	return dl
}

// deliveryID identifies a message body: its messageId (or id, or guid)
// when the body is JSON carrying one, else a name-based UUID of the body
func deliveryID(body []byte) string {
	var ids struct {
		MessageID string `json:"messageId"`
		ID        string `json:"id"`
		GUID      string `json:"guid"`
	}
	if json.Unmarshal(body, &ids) == nil {
		for _, id := range []string{ids.MessageID, ids.ID, ids.GUID} {
			if id != "" {
				return id
			}
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, body).String()
}
