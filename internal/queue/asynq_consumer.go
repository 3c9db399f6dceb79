/**
 * asynq Queue Consumer for the PDF intake worker
 *
 * Alternative transport on top of asynq. Each task of type pdf:ingest
 * carries one intake message as its payload.
 * - ack: the handler returns nil
 * - nack with requeue: the handler returns an error and asynq retries
 * - nack without requeue: the error wraps asynq.SkipRetry and the task is
 *   archived
 * - repeated failed health checks report the broker as lost on Err
 */

package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
)

// TaskTypeIngest is the asynq task type for intake messages
const TaskTypeIngest = "pdf:ingest"

// AsynqConsumerConfig holds consumer configuration
type AsynqConsumerConfig struct {
	RedisURL            string
	QueueName           string
	Prefetch            int
	Handler             *Handler
	ProcessingTimeout   time.Duration
	MaxConnectionErrors int
	HealthCheckInterval time.Duration
	Logger              *logging.Logger
}

// AsynqConsumer handles task consumption through asynq
type AsynqConsumer struct {
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	handler   *Handler
	config    *AsynqConsumerConfig
	logger    *logging.Logger
	conn      *connectionMonitor
}

// NewAsynqConsumer creates a new asynq consumer
func NewAsynqConsumer(cfg *AsynqConsumerConfig) (*AsynqConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
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
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("AsynqConsumer")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	// the server stops processing once the monitor reports; the caller
	// decides when to Stop it
	conn := newConnectionMonitor(cfg.MaxConnectionErrors, nil)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Prefetch,
			Queues: map[string]int{
				cfg.QueueName: 10,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				logger.Warn("Task settled with error",
					"type", task.Type(),
					"retried", retried,
					"skipRetry", errors.Is(err, asynq.SkipRetry),
					"error", err)
			}),
			HealthCheckFunc:     healthCheck(conn, logger),
			HealthCheckInterval: cfg.HealthCheckInterval,
			Logger:              &asynqLogger{logger: logger},
			ShutdownTimeout:     cfg.ProcessingTimeout + settleTimeout,
		},
	)

	c := &AsynqConsumer{
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		mux:       asynq.NewServeMux(),
		handler:   cfg.Handler,
		config:    cfg,
		logger:    logger,
		conn:      conn,
	}
	c.mux.HandleFunc(TaskTypeIngest, c.handleIngest)

	return c, nil
}

// healthCheck feeds asynq's periodic broker ping into the monitor
func healthCheck(conn *connectionMonitor, logger *logging.Logger) func(error) {
	return func(err error) {
		if err == nil {
			conn.success()
			return
		}
		logger.Warn("Broker health check failed", "error", err)
		conn.failure(err)
	}
}

// Err reports a lost broker connection
func (c *AsynqConsumer) Err() <-chan error {
	return c.conn.lost()
}

// retryDelay backs off 5s, 10s, 20s... capped at one minute
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if n > 4 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts processing tasks in the background
func (c *AsynqConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer", "prefetch", c.config.Prefetch, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop waits for active tasks to finish and closes the connections
func (c *AsynqConsumer) Stop() error {
	c.logger.Info("Stopping asynq consumer...")
	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		return fmt.Errorf("failed to close inspector: %w", err)
	}

	c.logger.Info("Asynq consumer stopped")
	return nil
}

// handleIngest runs one task through the intake handler and maps the
// decision back onto asynq's retry semantics
func (c *AsynqConsumer) handleIngest(ctx context.Context, task *asynq.Task) error {
	id, ok := asynq.GetTaskID(ctx)
	if !ok {
		id = deliveryID(task.Payload())
	}

	acker := &taskAcknowledger{}
	d := NewDelivery(id, task.Payload(), acker)
	if _, err := c.handler.Handle(ctx, d); err != nil {
		return err
	}
	return acker.result()
}

// GetStats returns queue statistics
func (c *AsynqConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue info: %w", err)
	}
	return map[string]int64{
		"waiting":    int64(info.Pending),
		"processing": int64(info.Active),
		"retry":      int64(info.Retry),
		"dead":       int64(info.Archived),
		"processed":  int64(info.Processed),
		"failed":     int64(info.Failed),
	}, nil
}

// taskAcknowledger records the decision; asynq learns it from the
// handler's return value
type taskAcknowledger struct {
	decided bool
	ack     bool
	requeue bool
	reason  error
}

func (a *taskAcknowledger) Ack(ctx context.Context) error {
	a.decided, a.ack = true, true
	return nil
}

func (a *taskAcknowledger) Nack(ctx context.Context, requeue bool, reason error) error {
	a.decided, a.requeue, a.reason = true, requeue, reason
	return nil
}

func (a *taskAcknowledger) result() error {
	if !a.decided {
		return fmt.Errorf("task finished without a decision")
	}
	if a.ack {
		return nil
	}
	reason := a.reason
	if reason == nil {
		reason = errors.New("rejected")
	}
	if a.requeue {
		return fmt.Errorf("nack: %w", reason)
	}
	return fmt.Errorf("%v: %w", reason, asynq.SkipRetry)
}

// asynqLogger routes asynq's internal logging through the worker logger
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
