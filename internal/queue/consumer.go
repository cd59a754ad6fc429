package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Consumer consumes messages from one logical queue, one at a time
// (prefetch 1): ReceiveMessages is clamped to a single message so a
// worker never holds more than one task in flight, bounding blast
// radius if the worker process dies mid-execution (the message simply
// becomes visible again after its visibility timeout — reject-on-worker-lost).
type Consumer struct {
	sqsClient *SQSClient
	queue     QueueName
	logger    *slog.Logger
	handler   MessageHandler
	config    ConsumerConfig
	metrics   *ConsumerMetrics
	mu        sync.RWMutex
	running   bool
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	WaitTimeSeconds    int32         // long polling wait time (0-20 seconds)
	VisibilityTimeout  int32         // message visibility timeout in seconds
	MaxRetries         int           // maximum receives before treating as exhausted
	ProcessTimeout     time.Duration // maximum time to process a message
	PollInterval       time.Duration // interval between polls when no messages received
	DeleteAfterProcess bool          // delete message after successful processing (late ack)
}

// DefaultConsumerConfig returns default consumer configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		WaitTimeSeconds:    20,
		VisibilityTimeout:  30,
		MaxRetries:         3,
		ProcessTimeout:     5 * time.Minute,
		PollInterval:       1 * time.Second,
		DeleteAfterProcess: true,
	}
}

// ConsumerMetrics tracks consumer performance.
type ConsumerMetrics struct {
	TotalReceived   int64
	TotalProcessed  int64
	TotalFailed     int64
	TotalDeleted    int64
	LastReceiveAt   time.Time
	LastProcessedAt time.Time
	InFlight        int64
}

// MessageHandler processes one execution message.
type MessageHandler func(ctx context.Context, msg *ExecutionMessage) error

// NewConsumer creates a queue consumer bound to a single logical queue.
// internal/worker runs one or more of these concurrently — one per
// worker slot — to get parallelism while keeping each consumer's own
// prefetch at exactly 1.
func NewConsumer(sqsClient *SQSClient, queue QueueName, handler MessageHandler, config ConsumerConfig, logger *slog.Logger) *Consumer {
	return &Consumer{
		sqsClient: sqsClient,
		queue:     queue,
		logger:    logger,
		handler:   handler,
		config:    config,
		metrics:   &ConsumerMetrics{},
	}
}

// Start polls the queue until ctx is cancelled, processing one message
// at a time.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.logger.Info("starting consumer", "queue", c.queue, "wait_time", c.config.WaitTimeSeconds)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping due to context cancellation", "queue", c.queue)
			return nil
		default:
		}

		messages, err := c.sqsClient.ReceiveMessages(ctx, c.queue, 1, c.config.WaitTimeSeconds)
		if err != nil {
			c.logger.Error("failed to receive messages", "error", err, "queue", c.queue)
			time.Sleep(c.config.PollInterval)
			continue
		}
		if len(messages) == 0 {
			time.Sleep(c.config.PollInterval)
			continue
		}

		c.mu.Lock()
		c.metrics.TotalReceived++
		c.metrics.LastReceiveAt = time.Now()
		c.metrics.InFlight++
		c.mu.Unlock()

		c.processMessage(ctx, messages[0])

		c.mu.Lock()
		c.metrics.InFlight--
		c.mu.Unlock()
	}
}

// processMessage processes a single message.
func (c *Consumer) processMessage(ctx context.Context, msg Message) {
	processCtx, cancel := context.WithTimeout(ctx, c.config.ProcessTimeout)
	defer cancel()

	c.logger.Info("processing message", "message_id", msg.ID, "receive_count", msg.ApproximateReceiveCount, "queue", c.queue)

	execMsg, err := UnmarshalExecutionMessage(msg.Body)
	if err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "message_id", msg.ID)
		c.handleFailedMessage(msg, err)
		return
	}

	if msg.ApproximateReceiveCount > c.config.MaxRetries {
		c.logger.Error("message exceeded max retries",
			"message_id", msg.ID,
			"receive_count", msg.ApproximateReceiveCount,
			"max_retries", c.config.MaxRetries,
		)
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	if err := c.handler(processCtx, execMsg); err != nil {
		c.logger.Error("message processing failed", "error", err, "message_id", msg.ID, "execution_id", execMsg.ExecutionID)
		c.handleFailedMessage(msg, err)
		return
	}

	c.mu.Lock()
	c.metrics.TotalProcessed++
	c.metrics.LastProcessedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("message processed successfully", "message_id", msg.ID, "execution_id", execMsg.ExecutionID)

	if c.config.DeleteAfterProcess {
		c.deleteMessage(ctx, msg.ReceiptHandle)
	}
}

// handleFailedMessage leaves the message undeleted so it becomes
// visible again after its visibility timeout and is retried by SQS (or
// routed to the DLQ once it exceeds the queue's own redrive policy).
func (c *Consumer) handleFailedMessage(msg Message, err error) {
	c.mu.Lock()
	c.metrics.TotalFailed++
	c.mu.Unlock()

	c.logger.Warn("message processing failed, will retry",
		"message_id", msg.ID,
		"receive_count", msg.ApproximateReceiveCount,
		"error", err,
	)
}

func (c *Consumer) deleteMessage(ctx context.Context, receiptHandle string) {
	if err := c.sqsClient.DeleteMessage(ctx, c.queue, receiptHandle); err != nil {
		c.logger.Error("failed to delete message", "error", err, "queue", c.queue)
		return
	}

	c.mu.Lock()
	c.metrics.TotalDeleted++
	c.mu.Unlock()
}

// IsRunning returns whether the consumer is running.
func (c *Consumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// GetMetrics returns consumer metrics.
func (c *Consumer) GetMetrics() ConsumerMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.metrics
}

// ResetMetrics resets consumer metrics.
func (c *Consumer) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.TotalReceived = 0
	c.metrics.TotalProcessed = 0
	c.metrics.TotalFailed = 0
	c.metrics.TotalDeleted = 0
	c.metrics.LastReceiveAt = time.Time{}
	c.metrics.LastProcessedAt = time.Time{}
}
