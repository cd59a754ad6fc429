package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Publisher publishes messages to the broker's logical queues. It
// implements workflow.QueuePublisher (structurally — no import of
// internal/workflow, to avoid a dependency cycle) via
// PublishWorkflowExecution.
type Publisher struct {
	sqsClient *SQSClient
	logger    *slog.Logger
	metrics   *PublisherMetrics
}

// PublisherMetrics tracks publisher performance.
type PublisherMetrics struct {
	TotalPublished int64
	TotalFailed    int64
	LastPublishAt  time.Time
}

// NewPublisher creates a new queue publisher.
func NewPublisher(sqsClient *SQSClient, logger *slog.Logger) *Publisher {
	return &Publisher{
		sqsClient: sqsClient,
		logger:    logger,
		metrics:   &PublisherMetrics{},
	}
}

// PublishWorkflowExecution enqueues a workflow run onto the
// workflow_execution queue. It satisfies the narrower
// workflow.QueuePublisher interface the workflow service depends on;
// the consuming worker re-reads the execution row by ID to recover
// WorkflowID and version rather than trusting the message body for
// anything beyond routing.
func (p *Publisher) PublishWorkflowExecution(ctx context.Context, userID, executionID string, priority int) error {
	return p.PublishExecution(ctx, &ExecutionMessage{
		ExecutionID: executionID,
		UserID:      userID,
		Priority:    priority,
		EnqueuedAt:  time.Now().UTC(),
	})
}

// PublishExecution publishes a workflow execution message to the queue.
func (p *Publisher) PublishExecution(ctx context.Context, msg *ExecutionMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	body, err := msg.Marshal()
	if err != nil {
		p.logger.Error("failed to marshal message", "error", err)
		p.metrics.TotalFailed++
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	messageID, err := p.sqsClient.SendMessage(ctx, QueueWorkflowExecution, body, msg.GetMessageAttributes())
	if err != nil {
		p.logger.Error("failed to publish execution message",
			"error", err,
			"execution_id", msg.ExecutionID,
			"workflow_id", msg.WorkflowID,
		)
		p.metrics.TotalFailed++
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.metrics.TotalPublished++
	p.metrics.LastPublishAt = time.Now()

	p.logger.Info("execution message published",
		"execution_id", msg.ExecutionID,
		"workflow_id", msg.WorkflowID,
		"user_id", msg.UserID,
		"message_id", *messageID,
	)

	return nil
}

// PublishExecutionBatch publishes multiple workflow execution messages to the queue.
func (p *Publisher) PublishExecutionBatch(ctx context.Context, messages []*ExecutionMessage) error {
	if len(messages) == 0 {
		return nil
	}
	if len(messages) > 10 {
		return fmt.Errorf("batch size cannot exceed 10 messages")
	}

	batchMessages := make([]BatchMessage, 0, len(messages))
	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			p.logger.Error("invalid execution message in batch", "error", err, "execution_id", msg.ExecutionID)
			return fmt.Errorf("invalid message in batch: %w", err)
		}

		body, err := msg.Marshal()
		if err != nil {
			p.logger.Error("failed to marshal message in batch", "error", err, "execution_id", msg.ExecutionID)
			p.metrics.TotalFailed++
			return fmt.Errorf("failed to marshal message in batch: %w", err)
		}

		batchMessages = append(batchMessages, BatchMessage{
			Body:       body,
			Attributes: msg.GetMessageAttributes(),
		})
	}

	if err := p.sqsClient.SendMessageBatch(ctx, QueueWorkflowExecution, batchMessages); err != nil {
		p.logger.Error("failed to publish execution batch", "error", err, "count", len(messages))
		p.metrics.TotalFailed += int64(len(messages))
		return fmt.Errorf("failed to publish batch: %w", err)
	}

	p.metrics.TotalPublished += int64(len(messages))
	p.metrics.LastPublishAt = time.Now()

	p.logger.Info("execution batch published", "count", len(messages))
	return nil
}

// PublishCleanup enqueues a retention sweep onto the cleanup queue, run
// by internal/schedule's cron trigger rather than called inline.
func (p *Publisher) PublishCleanup(ctx context.Context) error {
	body, err := (&CleanupMessage{EnqueuedAt: time.Now().UTC()}).Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal cleanup message: %w", err)
	}

	if _, err := p.sqsClient.SendMessage(ctx, QueueCleanup, body, nil); err != nil {
		p.metrics.TotalFailed++
		return fmt.Errorf("failed to publish cleanup message: %w", err)
	}

	p.metrics.TotalPublished++
	p.metrics.LastPublishAt = time.Now()
	return nil
}

// GetMetrics returns publisher metrics.
func (p *Publisher) GetMetrics() PublisherMetrics {
	return *p.metrics
}

// ResetMetrics resets publisher metrics.
func (p *Publisher) ResetMetrics() {
	p.metrics.TotalPublished = 0
	p.metrics.TotalFailed = 0
	p.metrics.LastPublishAt = time.Time{}
}
