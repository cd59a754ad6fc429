package workflow

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Workflow is the immutable-per-version graph definition a user submits.
// It plays the role of WorkflowSpec: its Definition holds the node/edge
// set the DAG resolver and executor consume.
type Workflow struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Definition  json.RawMessage `db:"definition" json:"definition"`
	Status      string          `db:"status" json:"status"`
	Version     int             `db:"version" json:"version"`
	CreatedBy   string          `db:"created_by" json:"created_by"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// WorkflowDefinition is the WorkflowSpec: a set of nodes and the edges
// between them, plus opaque settings forwarded to node handlers.
type WorkflowDefinition struct {
	Nodes    []Node                 `json:"nodes"`
	Edges    []Edge                 `json:"edges"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// NodeData carries the node's display name and opaque handler config.
type NodeData struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

// Node is a vertex in the workflow graph. Its id must be unique within
// the spec; Type categorizes it for dispatch (see NodeCategory).
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Position is the node's canvas coordinates, carried through unchanged by
// the core but never interpreted by it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed dependency u -> v: v may not start until u completes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// NodeType names a recognized node kind. Only the "agent" category is
// dispatched specially by the executor (to the AgentInvoker); every other
// type falls through to the identity pass-through handler.
type NodeType string

const (
	NodeTypeAgent NodeType = "agent"

	NodeTypeTriggerWebhook  NodeType = "trigger:webhook"
	NodeTypeTriggerSchedule NodeType = "trigger:schedule"

	NodeTypeActionHTTP      NodeType = "action:http"
	NodeTypeActionTransform NodeType = "action:transform"
	NodeTypeActionFormula   NodeType = "action:formula"
	NodeTypeActionCode      NodeType = "action:code"

	NodeTypeControlIf          NodeType = "logic:if"
	NodeTypeControlLoop         NodeType = "logic:loop"
	NodeTypeControlParallel     NodeType = "logic:parallel"
	NodeTypeControlSubWorkflow  NodeType = "integration:sub_workflow"
)

// Category buckets a node type into the four dispatch categories named
// in the spec: agent, trigger, action, logic, integration.
func (t NodeType) Category() string {
	switch {
	case t == NodeTypeAgent:
		return "agent"
	case len(t) > 8 && t[:8] == "trigger:":
		return "trigger"
	case len(t) > 7 && t[:7] == "action:":
		return "action"
	case len(t) > 6 && t[:6] == "logic:":
		return "logic"
	case len(t) > 12 && t[:12] == "integration:":
		return "integration"
	default:
		return "action"
	}
}

// IsTrigger reports whether a node type starts a workflow rather than
// being driven by upstream output.
func (t NodeType) IsTrigger() bool {
	return t.Category() == "trigger"
}

// HTTPActionConfig configures an action:http node.
type HTTPActionConfig struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
}

// WebhookTriggerConfig configures a trigger:webhook node.
type WebhookTriggerConfig struct {
	Path     string `json:"path,omitempty"`
	AuthType string `json:"auth_type,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// ScheduleTriggerConfig configures a trigger:schedule node.
type ScheduleTriggerConfig struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// AgentConfig configures an agent node: which agent to invoke and with
// what static settings, beyond the dynamic per-run input.
type AgentConfig struct {
	AgentID string          `json:"agent_id"`
	Model   string          `json:"model,omitempty"`
	Prompt  string          `json:"prompt,omitempty"`
	Tools   []string        `json:"tools,omitempty"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

// CreateWorkflowInput is the payload for creating a Workflow.
type CreateWorkflowInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Definition  json.RawMessage `json:"definition"`
}

// UpdateWorkflowInput is the payload for updating a Workflow.
type UpdateWorkflowInput struct {
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition,omitempty"`
	Status      string          `json:"status,omitempty"`
}

// WorkflowStatus is the lifecycle state of a Workflow definition (not to
// be confused with ExecutionStatus, the lifecycle of one run of it).
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusInactive WorkflowStatus = "inactive"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// LogEntry is one append-only entry in an execution_log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id,omitempty"`
}

// ExecutionLog is an append-only sequence of LogEntry; its length is
// monotone non-decreasing over the life of an execution.
type ExecutionLog []LogEntry

// WorkflowExecution is the durable record of one run of a Workflow.
type WorkflowExecution struct {
	ID              string           `db:"id" json:"id"`
	UserID          string           `db:"user_id" json:"user_id"`
	WorkflowID      string           `db:"workflow_id" json:"workflow_id"`
	WorkflowVersion int              `db:"workflow_version" json:"workflow_version"`
	Status          string           `db:"status" json:"status"`
	TriggerType     string           `db:"trigger_type" json:"trigger_type"`
	InputData       *json.RawMessage `db:"input_data" json:"input_data,omitempty"`
	OutputData      *json.RawMessage `db:"output_data" json:"output_data,omitempty"`
	Context         *json.RawMessage `db:"context" json:"context,omitempty"`
	TotalNodes      int              `db:"total_nodes" json:"total_nodes"`
	CompletedNodes  int              `db:"completed_nodes" json:"completed_nodes"`
	FailedNodes     int              `db:"failed_nodes" json:"failed_nodes"`
	RetryCount      int              `db:"retry_count" json:"retry_count"`
	MaxRetries      int              `db:"max_retries" json:"max_retries"`
	Priority        int              `db:"priority" json:"priority"`
	ScheduledAt     *time.Time       `db:"scheduled_at" json:"scheduled_at,omitempty"`
	BrokerTaskID    *string          `db:"broker_task_id" json:"broker_task_id,omitempty"`
	ErrorMessage    *string          `db:"error_message" json:"error_message,omitempty"`
	ErrorDetails    *json.RawMessage `db:"error_details" json:"error_details,omitempty"`
	ExecutionLog    json.RawMessage  `db:"execution_log" json:"execution_log,omitempty"`
	DurationSeconds *float64         `db:"duration_seconds" json:"duration_seconds,omitempty"`
	StartedAt       *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

// ProgressPercentage is completed_nodes / total_nodes, 0 when there are
// no nodes (an empty workflow is immediately 100% by definition of
// completion, but this helper only reports the raw ratio).
func (e *WorkflowExecution) ProgressPercentage() float64 {
	if e.TotalNodes == 0 {
		return 100.0
	}
	return float64(e.CompletedNodes) / float64(e.TotalNodes) * 100.0
}

// CanRetry reports whether this execution may be retried: only from a
// terminal failed state, and only while under the retry budget.
func (e *WorkflowExecution) CanRetry() bool {
	return e.Status == string(ExecutionStatusFailed) && e.RetryCount < e.MaxRetries
}

// NodeExecution is the durable per-node record within a WorkflowExecution.
type NodeExecution struct {
	ID                  string           `db:"id" json:"id"`
	WorkflowExecutionID string           `db:"workflow_execution_id" json:"workflow_execution_id"`
	UserID              string           `db:"user_id" json:"user_id"`
	AgentID             *string          `db:"agent_id" json:"agent_id,omitempty"`
	NodeID              string           `db:"node_id" json:"node_id"`
	NodeName            string           `db:"node_name" json:"node_name"`
	NodeType            string           `db:"node_type" json:"node_type"`
	ParentNodeIDs        pq.StringArray   `db:"parent_node_ids" json:"parent_node_ids"`
	ChildNodeIDs         pq.StringArray   `db:"child_node_ids" json:"child_node_ids"`
	ExecutionOrder       int              `db:"execution_order" json:"execution_order"`
	Status               string           `db:"status" json:"status"`
	InputData            *json.RawMessage `db:"input_data" json:"input_data,omitempty"`
	OutputData           *json.RawMessage `db:"output_data" json:"output_data,omitempty"`
	AgentResponse        *string          `db:"agent_response" json:"agent_response,omitempty"`
	TokensUsed           *int             `db:"tokens_used" json:"tokens_used,omitempty"`
	ModelUsed            *string          `db:"model_used" json:"model_used,omitempty"`
	ToolsCalled          pq.StringArray   `db:"tools_called" json:"tools_called,omitempty"`
	ToolResults          *json.RawMessage `db:"tool_results" json:"tool_results,omitempty"`
	RetryCount           int              `db:"retry_count" json:"retry_count"`
	MaxRetries           int              `db:"max_retries" json:"max_retries"`
	ErrorMessage         *string          `db:"error_message" json:"error_message,omitempty"`
	ErrorDetails         *json.RawMessage `db:"error_details" json:"error_details,omitempty"`
	ErrorStack           *string          `db:"error_stack" json:"error_stack,omitempty"`
	ExecutionLog         json.RawMessage  `db:"execution_log" json:"execution_log,omitempty"`
	DurationMs           *int             `db:"duration_ms" json:"duration_ms,omitempty"`
	StartedAt            *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt          *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// ExecutionStatus is the WorkflowExecution/NodeExecution lifecycle state.
// "skipped" applies only to NodeExecution and is reserved: nothing in
// this core currently transitions a node into it.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusSkipped   ExecutionStatus = "skipped"
)

// ExecutionFilter filters ListExecutionsAdvanced results.
type ExecutionFilter struct {
	WorkflowID  string     `json:"workflow_id,omitempty"`
	Status      string     `json:"status,omitempty"`
	TriggerType string     `json:"trigger_type,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// Validate checks internal consistency of the filter.
func (f ExecutionFilter) Validate() error {
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return errors.New("end_date must be after start_date")
	}
	return nil
}

// PaginationCursor is the decoded form of an opaque list cursor: the
// creation time and id of the last item seen, used as a keyset bound.
type PaginationCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// Encode base64-encodes the cursor as JSON.
func (c PaginationCursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodePaginationCursor reverses Encode.
func DecodePaginationCursor(encoded string) (PaginationCursor, error) {
	if encoded == "" {
		return PaginationCursor{}, errors.New("empty cursor")
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return PaginationCursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	var cursor PaginationCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return PaginationCursor{}, fmt.Errorf("invalid cursor format: %w", err)
	}
	return cursor, nil
}

// ExecutionListResult is a page of WorkflowExecution records.
type ExecutionListResult struct {
	Data       []*WorkflowExecution `json:"data"`
	Cursor     string               `json:"cursor,omitempty"`
	HasMore    bool                 `json:"has_more"`
	TotalCount int                  `json:"total_count"`
}

// ExecutionWithNodes pairs an execution with its materialized nodes.
type ExecutionWithNodes struct {
	Execution *WorkflowExecution `json:"execution"`
	Nodes     []*NodeExecution   `json:"nodes"`
}

// ExecutionStats summarizes executions grouped by status.
type ExecutionStats struct {
	TotalCount   int            `json:"total_count"`
	StatusCounts map[string]int `json:"status_counts"`
}

// DryRunResult is the outcome of validating a workflow without running it.
type DryRunResult struct {
	Valid             bool              `json:"valid"`
	Levels            [][]string        `json:"levels"`
	VariableMapping   map[string]string `json:"variable_mapping"`
	Warnings          []DryRunWarning   `json:"warnings"`
	Errors            []DryRunError     `json:"errors"`
	ParallelPotential float64           `json:"parallel_potential"`
	CriticalPath      []string          `json:"critical_path,omitempty"`
}

// DryRunWarning is a non-fatal dry-run observation.
type DryRunWarning struct {
	NodeID  string `json:"node_id"`
	Message string `json:"message"`
}

// DryRunError is a fatal dry-run finding.
type DryRunError struct {
	NodeID  string `json:"node_id"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// WorkflowVersion is a snapshot of a Workflow's Definition at a past
// version, retained so RestoreWorkflowVersion can roll back.
type WorkflowVersion struct {
	ID         string          `db:"id" json:"id"`
	WorkflowID string          `db:"workflow_id" json:"workflow_id"`
	Version    int             `db:"version" json:"version"`
	Definition json.RawMessage `db:"definition" json:"definition"`
	CreatedBy  string          `db:"created_by" json:"created_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
