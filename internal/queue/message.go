package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueName identifies one of the broker's logical queues. Each maps to
// its own underlying SQS queue URL so that a burst of, say, cleanup
// tasks can never starve workflow executions of worker capacity.
type QueueName string

const (
	QueueWorkflowExecution QueueName = "workflow_execution"
	QueueNodeExecution     QueueName = "node_execution"
	QueueCleanup           QueueName = "cleanup"
)

// ExecutionMessage is a workflow execution task in the queue.
type ExecutionMessage struct {
	ExecutionID     string `json:"execution_id"`
	UserID          string `json:"user_id"`
	WorkflowID      string `json:"workflow_id"`
	WorkflowVersion int    `json:"workflow_version"`

	TriggerType string          `json:"trigger_type"`
	TriggerData json.RawMessage `json:"trigger_data,omitempty"`

	// Priority is 0-10; higher values are not given distinct SQS
	// treatment (SQS standard queues have no native priority) but are
	// carried through as a message attribute so a worker can choose to
	// poll higher-priority queues more eagerly if operated that way.
	Priority int `json:"priority"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewExecutionMessage creates a new execution message.
func NewExecutionMessage(executionID, userID, workflowID string, workflowVersion int, triggerType string, triggerData json.RawMessage, priority int) *ExecutionMessage {
	return &ExecutionMessage{
		ExecutionID:     executionID,
		UserID:          userID,
		WorkflowID:      workflowID,
		WorkflowVersion: workflowVersion,
		TriggerType:     triggerType,
		TriggerData:     triggerData,
		Priority:        priority,
		EnqueuedAt:      time.Now().UTC(),
		RetryCount:      0,
	}
}

// Marshal serializes the execution message to JSON.
func (m *ExecutionMessage) Marshal() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution message: %w", err)
	}
	return string(data), nil
}

// UnmarshalExecutionMessage deserializes an execution message from JSON.
func UnmarshalExecutionMessage(data string) (*ExecutionMessage, error) {
	var msg ExecutionMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution message: %w", err)
	}
	return &msg, nil
}

// Validate checks if the execution message is valid.
func (m *ExecutionMessage) Validate() error {
	if m.ExecutionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if m.WorkflowID == "" {
		return fmt.Errorf("workflow_id is required")
	}
	if m.WorkflowVersion <= 0 {
		return fmt.Errorf("workflow_version must be greater than 0")
	}
	if m.TriggerType == "" {
		return fmt.Errorf("trigger_type is required")
	}
	if m.Priority < 0 || m.Priority > 10 {
		return fmt.Errorf("priority must be between 0 and 10")
	}
	return nil
}

// GetMessageAttributes returns message attributes for SQS.
func (m *ExecutionMessage) GetMessageAttributes() map[string]string {
	attrs := map[string]string{
		"user_id":      m.UserID,
		"workflow_id":  m.WorkflowID,
		"trigger_type": m.TriggerType,
		"priority":     fmt.Sprintf("%d", m.Priority),
	}

	if m.CorrelationID != "" {
		attrs["correlation_id"] = m.CorrelationID
	}

	return attrs
}

// IncrementRetryCount increments the retry count.
func (m *ExecutionMessage) IncrementRetryCount() {
	m.RetryCount++
}

// ShouldRetry determines if the message should be retried based on retry count.
func (m *ExecutionMessage) ShouldRetry(maxRetries int) bool {
	return m.RetryCount < maxRetries
}

// CleanupMessage is a retention-sweep task routed through QueueCleanup,
// decoupling the cron trigger (internal/schedule) from the worker pool
// that actually performs the deletes.
type CleanupMessage struct {
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (m *CleanupMessage) Marshal() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cleanup message: %w", err)
	}
	return string(data), nil
}

func UnmarshalCleanupMessage(data string) (*CleanupMessage, error) {
	var msg CleanupMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cleanup message: %w", err)
	}
	return &msg, nil
}
