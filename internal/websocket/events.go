package websocket

import (
	"encoding/json"
	"time"
)

// EventType represents the type of execution event.
type EventType string

const (
	EventTypeExecutionStarted   EventType = "execution.started"
	EventTypeExecutionCompleted EventType = "execution.completed"
	EventTypeExecutionFailed    EventType = "execution.failed"
	EventTypeNodeStarted        EventType = "node.started"
	EventTypeNodeCompleted      EventType = "node.completed"
	EventTypeNodeFailed         EventType = "node.failed"
	EventTypeExecutionProgress  EventType = "execution.progress"
)

// ExecutionEvent is a WebSocket event for execution updates.
type ExecutionEvent struct {
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	UserID      string                 `json:"user_id"`
	Status      string                 `json:"status,omitempty"`
	Progress    *ProgressInfo          `json:"progress,omitempty"`
	Node        *NodeInfo              `json:"node,omitempty"`
	Error       *string                `json:"error,omitempty"`
	Output      *json.RawMessage       `json:"output,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ProgressInfo contains execution progress information.
type ProgressInfo struct {
	TotalNodes     int     `json:"total_nodes"`
	CompletedNodes int     `json:"completed_nodes"`
	Percentage     float64 `json:"percentage"`
}

// NodeInfo contains node execution information.
type NodeInfo struct {
	NodeID      string           `json:"node_id"`
	NodeType    string           `json:"node_type"`
	Status      string           `json:"status"`
	OutputData  *json.RawMessage `json:"output_data,omitempty"`
	ErrorMsg    *string          `json:"error,omitempty"`
	DurationMs  *int             `json:"duration_ms,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// HubBroadcaster implements executor.Broadcaster using the Hub. It is
// kept separate from internal/executor to avoid a dependency cycle: the
// executor depends on this interface, not on this package.
type HubBroadcaster struct {
	hub *Hub
}

// NewHubBroadcaster creates a new HubBroadcaster.
func NewHubBroadcaster(hub *Hub) *HubBroadcaster {
	return &HubBroadcaster{hub: hub}
}

// Room helpers. executionRoom/workflowRoom let a client watch one
// execution or every execution of one workflow; userRoom is the
// per-user dashboard feed.
func executionRoom(executionID string) string {
	return "execution:" + executionID
}

func workflowRoom(workflowID string) string {
	return "workflow:" + workflowID
}

func userRoom(userID string) string {
	return "user:" + userID
}

func (b *HubBroadcaster) BroadcastExecutionStarted(userID, workflowID, executionID string, totalNodes int) {
	event := ExecutionEvent{
		Type:        EventTypeExecutionStarted,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Status:      "running",
		Progress: &ProgressInfo{
			TotalNodes:     totalNodes,
			CompletedNodes: 0,
		},
		Timestamp: time.Now(),
	}
	b.broadcast(executionID, workflowID, userID, event)
}

func (b *HubBroadcaster) BroadcastExecutionCompleted(userID, workflowID, executionID string, output json.RawMessage) {
	event := ExecutionEvent{
		Type:        EventTypeExecutionCompleted,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Status:      "completed",
		Output:      &output,
		Timestamp:   time.Now(),
	}
	b.broadcast(executionID, workflowID, userID, event)
}

func (b *HubBroadcaster) BroadcastExecutionFailed(userID, workflowID, executionID string, errorMsg string) {
	event := ExecutionEvent{
		Type:        EventTypeExecutionFailed,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Status:      "failed",
		Error:       &errorMsg,
		Timestamp:   time.Now(),
	}
	b.broadcast(executionID, workflowID, userID, event)
}

func (b *HubBroadcaster) BroadcastNodeStarted(userID, workflowID, executionID, nodeID, nodeType string) {
	now := time.Now()
	event := ExecutionEvent{
		Type:        EventTypeNodeStarted,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Node: &NodeInfo{
			NodeID:    nodeID,
			NodeType:  nodeType,
			Status:    "running",
			StartedAt: &now,
		},
		Timestamp: now,
	}
	b.broadcast(executionID, workflowID, userID, event)
}

func (b *HubBroadcaster) BroadcastNodeCompleted(userID, workflowID, executionID, nodeID string, output json.RawMessage, durationMs int) {
	now := time.Now()
	event := ExecutionEvent{
		Type:        EventTypeNodeCompleted,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Node: &NodeInfo{
			NodeID:      nodeID,
			Status:      "completed",
			OutputData:  &output,
			DurationMs:  &durationMs,
			CompletedAt: &now,
		},
		Timestamp: now,
	}
	b.broadcast(executionID, workflowID, userID, event)
}

func (b *HubBroadcaster) BroadcastNodeFailed(userID, workflowID, executionID, nodeID string, errorMsg string) {
	now := time.Now()
	event := ExecutionEvent{
		Type:        EventTypeNodeFailed,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Node: &NodeInfo{
			NodeID:      nodeID,
			Status:      "failed",
			ErrorMsg:    &errorMsg,
			CompletedAt: &now,
		},
		Timestamp: now,
	}
	b.broadcast(executionID, workflowID, userID, event)
}

func (b *HubBroadcaster) BroadcastProgress(userID, workflowID, executionID string, completedNodes, totalNodes int) {
	percentage := 0.0
	if totalNodes > 0 {
		percentage = float64(completedNodes) / float64(totalNodes) * 100.0
	}

	event := ExecutionEvent{
		Type:        EventTypeExecutionProgress,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Progress: &ProgressInfo{
			TotalNodes:     totalNodes,
			CompletedNodes: completedNodes,
			Percentage:     percentage,
		},
		Timestamp: time.Now(),
	}
	b.broadcast(executionID, workflowID, userID, event)
}

// broadcast sends an event to every room a client might be watching it from.
func (b *HubBroadcaster) broadcast(executionID, workflowID, userID string, event ExecutionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	b.hub.BroadcastToRoom(executionRoom(executionID), data)
	b.hub.BroadcastToRoom(workflowRoom(workflowID), data)
	b.hub.BroadcastToRoom(userRoom(userID), data)
}
