package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/yash-kavaiya/orchestrator/internal/dag"
)

// QueuePublisher is the boundary to the Task Broker Adapter: the service
// enqueues a run request rather than calling the Executor directly when
// queue-driven dispatch is configured.
type QueuePublisher interface {
	PublishWorkflowExecution(ctx context.Context, userID, executionID string, priority int) error
}

// Service implements workflow CRUD, dry-run validation, and the
// run/cancel/retry entry points the spec's Workflow Executor component
// exposes, delegating the actual DAG walk to Executor.
type Service struct {
	repo      *Repository
	logger    *slog.Logger
	executor  Executor
	publisher QueuePublisher
}

// NewService constructs a Service. SetExecutor/SetQueuePublisher wire in
// the run-time dependencies that would otherwise create an import cycle.
func NewService(repo *Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetExecutor wires the Executor used for synchronous/inline runs.
func (s *Service) SetExecutor(executor Executor) {
	s.executor = executor
}

// SetQueuePublisher wires the broker adapter used for async/queued runs.
func (s *Service) SetQueuePublisher(publisher QueuePublisher) {
	s.publisher = publisher
}

// ValidationError reports why a workflow definition or input failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Create validates and inserts a new Workflow.
func (s *Service) Create(ctx context.Context, userID, createdBy string, input CreateWorkflowInput) (*Workflow, error) {
	var definition WorkflowDefinition
	if err := json.Unmarshal(input.Definition, &definition); err != nil {
		return nil, &ValidationError{Field: "definition", Message: "must be valid JSON"}
	}
	if err := s.validateDefinition(definition); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, userID, createdBy, input)
}

// GetByID fetches a Workflow, scoped to userID.
func (s *Service) GetByID(ctx context.Context, userID, id string) (*Workflow, error) {
	return s.repo.GetByID(ctx, userID, id)
}

// Update validates (if Definition changed) and persists Workflow changes.
func (s *Service) Update(ctx context.Context, userID, id string, input UpdateWorkflowInput) (*Workflow, error) {
	if input.Definition != nil {
		var definition WorkflowDefinition
		if err := json.Unmarshal(input.Definition, &definition); err != nil {
			return nil, &ValidationError{Field: "definition", Message: "must be valid JSON"}
		}
		if err := s.validateDefinition(definition); err != nil {
			return nil, err
		}
	}
	return s.repo.Update(ctx, userID, id, input)
}

// Delete archives a Workflow.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, userID, id)
}

// List returns a page of Workflows owned by userID.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]*Workflow, int, error) {
	workflows, err := s.repo.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.repo.Count(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return workflows, count, nil
}

// validateDefinition checks graph-level invariants: at least one node,
// at least one trigger, every edge endpoint resolves, and the node set
// forms a DAG (delegated to internal/dag so this is the single source
// of cycle-detection truth shared with the executor).
func (s *Service) validateDefinition(def WorkflowDefinition) error {
	if len(def.Nodes) == 0 {
		return &ValidationError{Field: "nodes", Message: "workflow must have at least one node"}
	}

	hasTrigger := false
	nodeIDs := make([]string, 0, len(def.Nodes))
	seen := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		if seen[n.ID] {
			return &ValidationError{Field: "nodes", Message: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = true
		nodeIDs = append(nodeIDs, n.ID)
		if NodeType(n.Type).IsTrigger() {
			hasTrigger = true
		}
	}
	if !hasTrigger {
		return &ValidationError{Field: "nodes", Message: "workflow must have at least one trigger node"}
	}

	edgePairs := make([][2]string, 0, len(def.Edges))
	for _, e := range def.Edges {
		edgePairs = append(edgePairs, [2]string{e.Source, e.Target})
	}

	graph, err := dag.Build(nodeIDs, edgePairs)
	if err != nil {
		return &ValidationError{Field: "edges", Message: err.Error()}
	}
	if _, err := graph.Levels(); err != nil {
		return &ValidationError{Field: "edges", Message: err.Error()}
	}

	return nil
}

// Execute starts a new WorkflowExecution for a Workflow. When a
// QueuePublisher is configured, dispatch is async: a pending execution
// row is created and handed to the broker, and PublishWorkflowExecution
// returns once enqueued, not once the workflow finishes. Without one,
// Execute runs the Executor inline and blocks until the workflow reaches
// a terminal state.
func (s *Service) Execute(ctx context.Context, userID, workflowID, triggerType string, inputData json.RawMessage, priority int) (*WorkflowExecution, error) {
	wf, err := s.repo.GetByID(ctx, userID, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != string(WorkflowStatusActive) && wf.Status != string(WorkflowStatusDraft) {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("workflow is %s and cannot be executed", wf.Status)}
	}

	var definition WorkflowDefinition
	if err := json.Unmarshal(wf.Definition, &definition); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}

	execution, err := s.repo.CreateExecution(ctx, userID, workflowID, wf.Version, triggerType, inputData, 3, priority, nil)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	if err := s.repo.SetTotalNodes(ctx, execution.ID, countNonTriggerNodes(definition.Nodes)); err != nil {
		return nil, fmt.Errorf("set total nodes: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishWorkflowExecution(ctx, userID, execution.ID, priority); err != nil {
			return nil, fmt.Errorf("enqueue execution: %w", err)
		}
		return execution, nil
	}

	if s.executor == nil {
		return nil, fmt.Errorf("no executor or queue publisher configured")
	}
	if err := s.executor.Execute(ctx, userID, execution.ID); err != nil {
		return nil, err
	}
	return s.repo.GetExecution(ctx, userID, execution.ID)
}

func countNonTriggerNodes(nodes []Node) int {
	n := 0
	for _, node := range nodes {
		if !NodeType(node.Type).IsTrigger() {
			n++
		}
	}
	return n
}

// CancelExecution cancels a running or pending execution.
func (s *Service) CancelExecution(ctx context.Context, userID, executionID string) error {
	if s.executor == nil {
		return fmt.Errorf("no executor configured")
	}
	return s.executor.Cancel(ctx, userID, executionID)
}

// RetryWorkflow re-enters a failed execution from its current node state.
func (s *Service) RetryWorkflow(ctx context.Context, userID, executionID string) error {
	if s.executor == nil {
		return fmt.Errorf("no executor configured")
	}
	return s.executor.RetryWorkflow(ctx, userID, executionID)
}

// RetryNode re-enters a single failed node within a failed execution.
func (s *Service) RetryNode(ctx context.Context, userID, executionID, nodeID string) error {
	if s.executor == nil {
		return fmt.Errorf("no executor configured")
	}
	return s.executor.RetryNode(ctx, userID, executionID, nodeID)
}

// GetExecution fetches a WorkflowExecution by ID.
func (s *Service) GetExecution(ctx context.Context, userID, executionID string) (*WorkflowExecution, error) {
	return s.repo.GetExecution(ctx, userID, executionID)
}

// GetExecutionWithNodes fetches a WorkflowExecution together with its
// per-node records.
func (s *Service) GetExecutionWithNodes(ctx context.Context, userID, executionID string) (*ExecutionWithNodes, error) {
	return s.repo.GetExecutionWithNodes(ctx, userID, executionID)
}

// ListExecutions returns a filtered, cursor-paginated page of executions.
func (s *Service) ListExecutions(ctx context.Context, userID string, filter ExecutionFilter, cursor string, limit int) (*ExecutionListResult, error) {
	return s.repo.ListExecutions(ctx, userID, filter, cursor, limit)
}

// GetExecutionStats summarizes execution counts by status.
func (s *Service) GetExecutionStats(ctx context.Context, userID, workflowID string) (*ExecutionStats, error) {
	return s.repo.GetExecutionStats(ctx, userID, workflowID)
}

// ListWorkflowVersions, GetWorkflowVersion and RestoreWorkflowVersion
// expose the version history recorded by Update whenever Definition changes.
func (s *Service) ListWorkflowVersions(ctx context.Context, workflowID string) ([]*WorkflowVersion, error) {
	return s.repo.ListWorkflowVersions(ctx, workflowID)
}

func (s *Service) GetWorkflowVersion(ctx context.Context, workflowID string, version int) (*WorkflowVersion, error) {
	return s.repo.GetWorkflowVersion(ctx, workflowID, version)
}

func (s *Service) RestoreWorkflowVersion(ctx context.Context, userID, workflowID string, version int) (*Workflow, error) {
	return s.repo.RestoreWorkflowVersion(ctx, userID, workflowID, version)
}

// --- Dry run -----------------------------------------------------------

var variableReferenceRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// DryRun validates a workflow definition without persisting or executing
// it: structural validation plus level resolution, variable-reference
// checking, and the supplemental critical-path/parallel-potential metrics.
func (s *Service) DryRun(def WorkflowDefinition) *DryRunResult {
	result := &DryRunResult{
		Valid:           true,
		VariableMapping: make(map[string]string),
	}

	if len(def.Nodes) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, DryRunError{Field: "nodes", Message: "workflow must have at least one node"})
		return result
	}

	nodeIDs := make([]string, 0, len(def.Nodes))
	nodeByID := make(map[string]Node, len(def.Nodes))
	hasTrigger := false
	for _, n := range def.Nodes {
		nodeIDs = append(nodeIDs, n.ID)
		nodeByID[n.ID] = n
		if NodeType(n.Type).IsTrigger() {
			hasTrigger = true
		}
	}
	if !hasTrigger {
		result.Valid = false
		result.Errors = append(result.Errors, DryRunError{Field: "nodes", Message: "workflow must have at least one trigger node"})
	}

	edgePairs := make([][2]string, 0, len(def.Edges))
	for _, e := range def.Edges {
		edgePairs = append(edgePairs, [2]string{e.Source, e.Target})
	}

	graph, err := dag.Build(nodeIDs, edgePairs)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, DryRunError{Field: "edges", Message: err.Error()})
		return result
	}

	levels, err := graph.Levels()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, DryRunError{Field: "edges", Message: err.Error()})
		return result
	}
	result.Levels = levels

	if pp, err := graph.ParallelPotential(); err == nil {
		result.ParallelPotential = pp
	}
	if cp, err := graph.CriticalPath(); err == nil {
		result.CriticalPath = cp
	}

	// Variable reference checking: every ${steps.X.field} or ${trigger.field}
	// must reference a node that is actually a parent (directly or
	// transitively) of the node using it — a forward or sideways
	// reference is a warning, not a hard error, since it only fails at
	// run time if that data is actually read.
	available := map[string]bool{"trigger": true}
	for _, level := range levels {
		for _, nodeID := range level {
			node := nodeByID[nodeID]
			refs := variableReferenceRegex.FindAllStringSubmatch(string(node.Data.Config), -1)
			for _, ref := range refs {
				root := firstSegment(ref[1])
				result.VariableMapping[ref[1]] = nodeID
				if !available[root] {
					result.Warnings = append(result.Warnings, DryRunWarning{
						NodeID:  nodeID,
						Message: fmt.Sprintf("references %q which has not executed by this point in the graph", ref[1]),
					})
				}
			}
			available[nodeID] = true
		}
	}

	for _, n := range def.Nodes {
		if n.Type == string(NodeTypeAgent) {
			var cfg AgentConfig
			if len(n.Data.Config) > 0 {
				_ = json.Unmarshal(n.Data.Config, &cfg)
			}
			if cfg.AgentID == "" {
				result.Warnings = append(result.Warnings, DryRunWarning{NodeID: n.ID, Message: "agent node has no agent_id configured"})
			}
		}
	}

	return result
}

func firstSegment(ref string) string {
	for i, c := range ref {
		if c == '.' {
			return ref[:i]
		}
	}
	return ref
}
