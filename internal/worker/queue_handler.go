package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/yash-kavaiya/orchestrator/internal/queue"
)

// QueueMessageHandler wraps the standard consumer to add requeue capability
type QueueMessageHandler struct {
	worker    *Worker
	sqsClient *queue.SQSClient
	logger    *slog.Logger
}

// NewQueueMessageHandler creates a handler that supports message requeue
func NewQueueMessageHandler(worker *Worker, sqsClient *queue.SQSClient, logger *slog.Logger) *QueueMessageHandler {
	return &QueueMessageHandler{
		worker:    worker,
		sqsClient: sqsClient,
		logger:    logger,
	}
}

// HandleMessage processes a message with receipt handle for requeue support
// This is called by a custom consumer that exposes receipt handles
func (h *QueueMessageHandler) HandleMessage(ctx context.Context, msg *queue.ExecutionMessage, receiptHandle string) error {
	h.logger.Info("handling queue message",
		"execution_id", msg.ExecutionID,
		"user_id", msg.UserID,
		"retry_count", msg.RetryCount,
	)

	// Load execution from database
	execution, err := h.worker.workflowRepo.GetExecution(ctx, msg.UserID, msg.ExecutionID)
	if err != nil {
		h.logger.Error("failed to load execution",
			"error", err,
			"execution_id", msg.ExecutionID,
		)
		return err
	}

	// Process the execution
	err = h.worker.processExecution(ctx, execution)
	if err != nil {
		// Check if the owning user is at capacity
		if errors.Is(err, ErrUserAtCapacity) {
			h.logger.Info("user at capacity, requeueing message with delay",
				"user_id", msg.UserID,
				"execution_id", msg.ExecutionID,
				"retry_count", msg.RetryCount,
			)

			// Requeue by extending visibility timeout
			if requeueErr := h.requeueWithDelay(ctx, receiptHandle, msg.RetryCount); requeueErr != nil {
				h.logger.Error("failed to requeue message",
					"error", requeueErr,
					"execution_id", msg.ExecutionID,
				)
				// Return original capacity error
				return err
			}

			// Return nil to indicate message was requeued successfully
			// Consumer should NOT delete this message
			return ErrMessageRequeued
		}

		// Other errors - let consumer handle normally (retry or DLQ)
		return err
	}

	// Success - consumer will delete the message
	return nil
}

// requeueWithDelay extends message visibility timeout to delay retry
func (h *QueueMessageHandler) requeueWithDelay(ctx context.Context, receiptHandle string, retryCount int) error {
	delay := calculateRequeueDelay(retryCount)

	h.logger.Debug("extending message visibility",
		"receipt_handle", receiptHandle,
		"delay_seconds", delay,
	)

	return h.sqsClient.ChangeMessageVisibility(ctx, queue.QueueWorkflowExecution, receiptHandle, delay)
}

// ErrMessageRequeued indicates message was requeued and should not be deleted
var ErrMessageRequeued = errors.New("message requeued with delay")
