package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yash-kavaiya/orchestrator/internal/credential"
	"github.com/yash-kavaiya/orchestrator/internal/dag"
	"github.com/yash-kavaiya/orchestrator/internal/workflow"
)

// Broadcaster defines the interface for broadcasting execution events
// onto the event bus rooms (execution:<id>, workflow:<id>, user:<id>).
type Broadcaster interface {
	BroadcastExecutionStarted(userID, workflowID, executionID string, totalNodes int)
	BroadcastExecutionCompleted(userID, workflowID, executionID string, output json.RawMessage)
	BroadcastExecutionFailed(userID, workflowID, executionID string, errorMsg string)
	BroadcastNodeStarted(userID, workflowID, executionID, nodeID, nodeType string)
	BroadcastNodeCompleted(userID, workflowID, executionID, nodeID string, output json.RawMessage, durationMs int)
	BroadcastNodeFailed(userID, workflowID, executionID, nodeID string, errorMsg string)
	BroadcastProgress(userID, workflowID, executionID string, completedNodes, totalNodes int)
}

// AgentInvoker is the boundary to whatever actually runs an agent node.
// This core never calls an LLM itself; it only calls through this
// interface, satisfied by internal/agent's echo and bedrock implementations.
type AgentInvoker interface {
	Invoke(ctx context.Context, req AgentRequest) (AgentResponse, error)
}

// AgentRequest is the input to an agent node invocation.
type AgentRequest struct {
	AgentID string
	Prompt  string
	Model   string
	Tools   []string
	Input   map[string]interface{}
}

// AgentResponse is the output of an agent node invocation.
type AgentResponse struct {
	Output      interface{}
	RawText     string
	TokensUsed  int
	ModelUsed   string
	ToolsCalled []string
	ToolResults interface{}
}

// levelConcurrency bounds how many nodes within one level run at once.
const levelConcurrency = 8

// Executor drives a WorkflowExecution through its DAG level by level,
// dispatching every ready node within a level concurrently and waiting
// for the whole level to settle before advancing (the level barrier).
type Executor struct {
	repo               *workflow.Repository
	logger             *slog.Logger
	broadcaster        Broadcaster
	agentInvoker       AgentInvoker
	retryStrategy      *RetryStrategy
	circuitBreakers    *CircuitBreakerRegistry
	defaultRetryConfig NodeRetryConfig
	credentialInjector *credential.Injector
}

// New creates an Executor with a null agent invoker (use NewWithAgent
// to wire a real one) and no broadcaster.
func New(repo *workflow.Repository, logger *slog.Logger) *Executor {
	return &Executor{
		repo:               repo,
		logger:             logger,
		retryStrategy:      NewRetryStrategy(DefaultRetryConfig(), logger),
		circuitBreakers:    NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig(), logger),
		defaultRetryConfig: DefaultNodeRetryConfig(),
	}
}

// NewWithAgent creates an Executor wired to a Broadcaster, AgentInvoker
// and credential injector.
func NewWithAgent(repo *workflow.Repository, logger *slog.Logger, broadcaster Broadcaster, invoker AgentInvoker, injector *credential.Injector) *Executor {
	return &Executor{
		repo:               repo,
		logger:             logger,
		broadcaster:        broadcaster,
		agentInvoker:       invoker,
		retryStrategy:      NewRetryStrategy(DefaultRetryConfig(), logger),
		circuitBreakers:    NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig(), logger),
		defaultRetryConfig: DefaultNodeRetryConfig(),
		credentialInjector: injector,
	}
}

// executionContext holds the state threaded through one run of a
// WorkflowExecution: the growing map of per-node outputs that later
// levels read from, plus identifying fields for broadcast/credential calls.
type executionContext struct {
	UserID      string
	ExecutionID string
	WorkflowID  string
	TriggerData map[string]interface{}

	mu          sync.RWMutex
	nodeOutputs map[string]interface{}
	done        map[string]bool
}

func newExecutionContext(userID, executionID, workflowID string, triggerData map[string]interface{}) *executionContext {
	return &executionContext{
		UserID:      userID,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		TriggerData: triggerData,
		nodeOutputs: make(map[string]interface{}),
		done:        make(map[string]bool),
	}
}

func (ec *executionContext) setOutput(nodeID string, output interface{}) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodeOutputs[nodeID] = output
	ec.done[nodeID] = true
}

func (ec *executionContext) doneSnapshot() map[string]bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	snap := make(map[string]bool, len(ec.done))
	for k, v := range ec.done {
		snap[k] = v
	}
	return snap
}

func (ec *executionContext) inputFor(parentIDs []string) map[string]interface{} {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	parents := make(map[string]interface{}, len(parentIDs))
	for _, p := range parentIDs {
		parents[p] = ec.nodeOutputs[p]
	}
	return map[string]interface{}{
		"trigger": ec.TriggerData,
		"parents": parents,
	}
}

// Execute runs a WorkflowExecution from its current state to a terminal
// status. It is the single entry point used by both the synchronous
// HTTP-triggered path and the broker-driven worker path (see
// Open Question ii in DESIGN.md): both simply call Execute with the
// same (userID, executionID) pair; Execute itself is idempotent against
// a non-pending parent, since a second invocation will find the
// execution already running and reject the transition.
func (e *Executor) Execute(ctx context.Context, userID, executionID string) error {
	execution, err := e.repo.GetExecution(ctx, userID, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}

	if execution.Status != string(workflow.ExecutionStatusPending) {
		return fmt.Errorf("%w: execution %s is %s, not pending", workflow.ErrIllegalTransition, executionID, execution.Status)
	}

	if err := e.repo.TransitionExecution(ctx, userID, executionID, workflow.ExecutionStatusPending, workflow.ExecutionStatusRunning); err != nil {
		return fmt.Errorf("transition to running: %w", err)
	}

	wf, err := e.repo.GetByID(ctx, userID, execution.WorkflowID)
	if err != nil {
		return e.failExecution(ctx, execution, fmt.Errorf("load workflow: %w", err))
	}

	var definition workflow.WorkflowDefinition
	if err := json.Unmarshal(wf.Definition, &definition); err != nil {
		return e.failExecution(ctx, execution, fmt.Errorf("parse workflow definition: %w", err))
	}

	nodeIDs := make([]string, 0, len(definition.Nodes))
	nodeByID := make(map[string]workflow.Node, len(definition.Nodes))
	for _, n := range definition.Nodes {
		nodeIDs = append(nodeIDs, n.ID)
		nodeByID[n.ID] = n
	}
	edgePairs := make([][2]string, 0, len(definition.Edges))
	for _, ed := range definition.Edges {
		edgePairs = append(edgePairs, [2]string{ed.Source, ed.Target})
	}

	graph, err := dag.Build(nodeIDs, edgePairs)
	if err != nil {
		return e.failExecution(ctx, execution, fmt.Errorf("build graph: %w", err))
	}
	levels, err := graph.Levels()
	if err != nil {
		return e.failExecution(ctx, execution, fmt.Errorf("resolve levels: %w", err))
	}

	var triggerData map[string]interface{}
	if execution.InputData != nil {
		_ = json.Unmarshal(*execution.InputData, &triggerData)
	}
	if triggerData == nil {
		triggerData = make(map[string]interface{})
	}

	execCtx := newExecutionContext(userID, executionID, execution.WorkflowID, triggerData)

	totalNodes := 0
	for _, n := range definition.Nodes {
		if !workflow.NodeType(n.Type).IsTrigger() {
			totalNodes++
		}
	}

	if e.broadcaster != nil {
		e.broadcaster.BroadcastExecutionStarted(userID, execution.WorkflowID, executionID, totalNodes)
	}

	completed := 0
	for levelIdx, level := range levels {
		// Cooperative cancellation: checked once per level boundary, not
		// mid-level, so a level that is already dispatched always finishes.
		if ctx.Err() != nil {
			return e.cancelExecution(ctx, execution)
		}

		cur, err := e.repo.GetExecution(ctx, userID, executionID)
		if err != nil {
			return fmt.Errorf("reload execution: %w", err)
		}
		if cur.Status == string(workflow.ExecutionStatusCancelled) {
			return nil
		}

		results := e.runLevel(ctx, execution, nodeByID, level, execCtx, levelIdx, graph)

		// levelCompleted tracks this level's non-trigger successes so a
		// mid-level failure persists exactly the nodes that actually
		// finished before returning, keeping completed_nodes+failed_nodes
		// <= total_nodes true at every point, not just at terminal states.
		levelCompleted := 0
		for _, r := range results {
			if r.err != nil {
				if e.broadcaster != nil {
					e.broadcaster.BroadcastNodeFailed(userID, execution.WorkflowID, executionID, r.nodeID, r.err.Error())
				}
				if cerr := e.repo.IncrementNodeCounts(ctx, executionID, levelCompleted, 1); cerr != nil {
					e.logger.Error("failed to persist node progress", "error", cerr, "execution_id", executionID)
				}
				return e.failExecution(ctx, execution, fmt.Errorf("node %s failed: %w", r.nodeID, r.err))
			}
			if !workflow.NodeType(nodeByID[r.nodeID].Type).IsTrigger() {
				completed++
				levelCompleted++
			}
			if e.broadcaster != nil {
				outputJSON, _ := json.Marshal(r.output)
				e.broadcaster.BroadcastNodeCompleted(userID, execution.WorkflowID, executionID, r.nodeID, outputJSON, r.durationMs)
				e.broadcaster.BroadcastProgress(userID, execution.WorkflowID, executionID, completed, totalNodes)
			}
		}

		if err := e.repo.IncrementNodeCounts(ctx, executionID, levelCompleted, 0); err != nil {
			return fmt.Errorf("persist node progress: %w", err)
		}
	}

	outputData, _ := json.Marshal(execCtx.nodeOutputs)
	if err := e.repo.CompleteExecution(ctx, userID, executionID, outputData, completed); err != nil {
		return err
	}
	if e.broadcaster != nil {
		e.broadcaster.BroadcastExecutionCompleted(userID, execution.WorkflowID, executionID, outputData)
	}
	return nil
}

type nodeResult struct {
	nodeID     string
	output     interface{}
	err        error
	durationMs int
}

// runLevel dispatches every node in one DAG level concurrently, bounded
// by levelConcurrency, and blocks until all of them finish: this is the
// level barrier that keeps downstream levels from starting early.
func (e *Executor) runLevel(ctx context.Context, execution *workflow.WorkflowExecution, nodeByID map[string]workflow.Node, level []string, execCtx *executionContext, levelIdx int, graph *dag.Graph) []nodeResult {
	results := make([]nodeResult, len(level))
	sem := make(chan struct{}, levelConcurrency)
	var wg sync.WaitGroup

	for i, nodeID := range level {
		wg.Add(1)
		go func(i int, nodeID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			node := nodeByID[nodeID]

			if workflow.NodeType(node.Type).IsTrigger() {
				execCtx.setOutput(nodeID, execCtx.TriggerData)
				results[i] = nodeResult{nodeID: nodeID, output: execCtx.TriggerData}
				return
			}

			if e.broadcaster != nil {
				e.broadcaster.BroadcastNodeStarted(execution.UserID, execution.WorkflowID, execution.ID, nodeID, node.Type)
			}

			start := time.Now()
			output, err := e.executeNodeWithTracking(ctx, execution, node, execCtx, levelIdx, graph.Parents(nodeID), graph.Children(nodeID))
			durationMs := int(time.Since(start).Milliseconds())

			if err == nil {
				execCtx.setOutput(nodeID, output)
			}
			results[i] = nodeResult{nodeID: nodeID, output: output, err: err, durationMs: durationMs}
		}(i, nodeID)
	}

	wg.Wait()
	return results
}

// executeNodeWithTracking creates the NodeExecution record, runs the
// node (with retry if configured), and patches the record with the
// outcome.
func (e *Executor) executeNodeWithTracking(ctx context.Context, execution *workflow.WorkflowExecution, node workflow.Node, execCtx *executionContext, levelIdx int, parentIDs, childIDs []string) (interface{}, error) {
	input := execCtx.inputFor(parentIDs)
	inputJSON, _ := json.Marshal(input)

	nodeExec, err := e.repo.CreateNodeExecution(ctx, execution.ID, execution.UserID, node.ID, node.Data.Name, node.Type, levelIdx, parentIDs, childIDs, inputJSON)
	if err != nil {
		e.logger.Error("failed to create node execution record", "error", err, "node_id", node.ID)
	}

	retryConfig := e.nodeRetryConfig(node)

	var output interface{}
	var execErr error
	retryCount := 0

	if retryConfig.Enabled {
		strategy := NewRetryStrategy(retryConfig.RetryConfig, e.logger)
		result, err := strategy.ExecuteWithResult(ctx, func(ctx context.Context, attempt int) (interface{}, error) {
			retryCount = attempt
			return e.dispatchNode(ctx, execution, node, input)
		})
		output, execErr = result, err
	} else {
		output, execErr = e.dispatchNode(ctx, execution, node, input)
	}

	if execErr != nil {
		execErr = WrapError(execErr, node.ID, node.Type, retryCount)
	}

	if nodeExec != nil {
		outputJSON, _ := json.Marshal(output)
		if execErr != nil {
			errMsg := execErr.Error()
			_ = e.repo.PatchNodeExecution(ctx, nodeExec.ID, workflow.ExecutionStatusFailed, nil, &errMsg, retryCount)
		} else {
			_ = e.repo.PatchNodeExecution(ctx, nodeExec.ID, workflow.ExecutionStatusCompleted, outputJSON, nil, retryCount)
		}
	}

	return output, execErr
}

func (e *Executor) nodeRetryConfig(node workflow.Node) NodeRetryConfig {
	config := e.defaultRetryConfig
	if len(node.Data.Config) == 0 {
		return config
	}
	var configMap map[string]interface{}
	if err := json.Unmarshal(node.Data.Config, &configMap); err != nil {
		return config
	}
	retryData, ok := configMap["retry"]
	if !ok {
		return config
	}
	return e.parseRetryConfig(retryData)
}

func (e *Executor) parseRetryConfig(data interface{}) NodeRetryConfig {
	config := e.defaultRetryConfig
	retryMap, ok := data.(map[string]interface{})
	if !ok {
		return config
	}
	if enabled, ok := retryMap["enabled"].(bool); ok {
		config.Enabled = enabled
	}
	if maxRetries, ok := retryMap["max_retries"].(float64); ok {
		config.MaxRetries = int(maxRetries)
	}
	if initialBackoff, ok := retryMap["initial_backoff_ms"].(float64); ok {
		config.InitialBackoff = time.Duration(initialBackoff) * time.Millisecond
	}
	if maxBackoff, ok := retryMap["max_backoff_ms"].(float64); ok {
		config.MaxBackoff = time.Duration(maxBackoff) * time.Millisecond
	}
	if multiplier, ok := retryMap["backoff_multiplier"].(float64); ok {
		config.BackoffMultiplier = multiplier
	}
	return config
}

// dispatchNode routes a node to the agent invoker (for agent nodes) or
// the identity pass-through handler (everything else): trigger, action,
// logic and integration nodes are not given domain-specific semantics
// by this core, consistent with its scope boundary.
func (e *Executor) dispatchNode(ctx context.Context, execution *workflow.WorkflowExecution, node workflow.Node, input map[string]interface{}) (interface{}, error) {
	nodeToExecute := node
	var credentialValues []string

	if e.credentialInjector != nil && len(node.Data.Config) > 0 {
		injCtx := &credential.InjectionContext{
			UserID:      execution.UserID,
			WorkflowID:  execution.WorkflowID,
			ExecutionID: execution.ID,
			AccessedBy:  execution.UserID,
		}
		injectResult, err := e.credentialInjector.InjectCredentials(ctx, node.Data.Config, injCtx)
		if err != nil {
			return nil, fmt.Errorf("inject credentials: %w", err)
		}
		nodeToExecute.Data.Config = injectResult.Config
		credentialValues = injectResult.Values
	}

	breaker := e.circuitBreakers.GetOrCreate(nodeToExecute.Type)

	var output interface{}
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		if workflow.NodeType(nodeToExecute.Type).Category() == "agent" {
			output, innerErr = e.dispatchAgent(ctx, nodeToExecute, input)
		} else {
			output, innerErr = e.passThrough(nodeToExecute, input)
		}
		return innerErr
	})

	if len(credentialValues) > 0 && e.credentialInjector != nil {
		output = e.credentialInjector.MaskOutput(output, credentialValues)
	}

	return output, err
}

// passThrough is the identity handler used for every non-agent node
// category: it simply surfaces its input as its output, so the graph
// remains connected and downstream nodes see something, without this
// core claiming to interpret http/transform/slack/etc semantics it
// does not own.
func (e *Executor) passThrough(node workflow.Node, input map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"node_id":   node.ID,
		"node_type": node.Type,
		"input":     input,
	}, nil
}

func (e *Executor) dispatchAgent(ctx context.Context, node workflow.Node, input map[string]interface{}) (interface{}, error) {
	if e.agentInvoker == nil {
		return nil, fmt.Errorf("no agent invoker configured for node %s", node.ID)
	}

	var cfg workflow.AgentConfig
	if len(node.Data.Config) > 0 {
		_ = json.Unmarshal(node.Data.Config, &cfg)
	}

	resp, err := e.agentInvoker.Invoke(ctx, AgentRequest{
		AgentID: cfg.AgentID,
		Prompt:  cfg.Prompt,
		Model:   cfg.Model,
		Tools:   cfg.Tools,
		Input:   input,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"output":       resp.Output,
		"tokens_used":  resp.TokensUsed,
		"model_used":   resp.ModelUsed,
		"tools_called": resp.ToolsCalled,
	}, nil
}

// failExecution marks an execution as terminally failed and broadcasts
// the failure. Node counts are not touched here: a mid-level failure has
// already persisted its completed/failed tally via IncrementNodeCounts
// before this is called, and a pre-dispatch failure has none to record.
func (e *Executor) failExecution(ctx context.Context, execution *workflow.WorkflowExecution, err error) error {
	errMsg := err.Error()
	_ = e.repo.FailExecution(ctx, execution.UserID, execution.ID, errMsg, 0, 0)
	if e.broadcaster != nil {
		e.broadcaster.BroadcastExecutionFailed(execution.UserID, execution.WorkflowID, execution.ID, errMsg)
	}
	return err
}

// cancelExecution finalizes a cancellation request observed mid-run: any
// node already dispatched in the current level is allowed to finish
// (runLevel's WaitGroup already guarantees that), but no further level
// is started.
func (e *Executor) cancelExecution(ctx context.Context, execution *workflow.WorkflowExecution) error {
	return e.repo.TransitionExecution(ctx, execution.UserID, execution.ID, workflow.ExecutionStatusRunning, workflow.ExecutionStatusCancelled)
}

// Cancel requests cancellation of a running (or still-pending) execution.
// Nodes not yet dispatched will never start; a node mid-flight when
// cancellation is observed is allowed to finish (see Execute's
// per-level check).
func (e *Executor) Cancel(ctx context.Context, userID, executionID string) error {
	execution, err := e.repo.GetExecution(ctx, userID, executionID)
	if err != nil {
		return err
	}
	switch execution.Status {
	case string(workflow.ExecutionStatusPending):
		return e.repo.TransitionExecution(ctx, userID, executionID, workflow.ExecutionStatusPending, workflow.ExecutionStatusCancelled)
	case string(workflow.ExecutionStatusRunning):
		return e.repo.CancelPending(ctx, userID, executionID)
	default:
		return fmt.Errorf("%w: execution %s is %s, cannot cancel", workflow.ErrIllegalTransition, executionID, execution.Status)
	}
}

// RetryWorkflow resets a failed execution to pending (incrementing its
// retry count) and re-enters Execute. It does not reset node executions
// that already completed.
func (e *Executor) RetryWorkflow(ctx context.Context, userID, executionID string) error {
	execution, err := e.repo.GetExecution(ctx, userID, executionID)
	if err != nil {
		return err
	}
	if !execution.CanRetry() {
		return fmt.Errorf("%w: execution %s has exhausted its retry budget", workflow.ErrRetryExhausted, executionID)
	}
	if err := e.repo.RetryExecution(ctx, userID, executionID); err != nil {
		return err
	}
	return e.Execute(ctx, userID, executionID)
}

// RetryNode resets a single failed node back to pending within an
// otherwise-failed execution, then re-drives Execute so the level loop
// picks it (and anything downstream of it) back up.
func (e *Executor) RetryNode(ctx context.Context, userID, executionID, nodeID string) error {
	if err := e.repo.RetryNode(ctx, userID, executionID, nodeID); err != nil {
		return err
	}
	if err := e.repo.ReopenExecution(ctx, userID, executionID); err != nil {
		return err
	}
	return e.Execute(ctx, userID, executionID)
}
