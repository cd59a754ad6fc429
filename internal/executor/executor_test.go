package executor_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/yash-kavaiya/orchestrator/internal/agent"
	"github.com/yash-kavaiya/orchestrator/internal/executor"
	"github.com/yash-kavaiya/orchestrator/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// newMockRepo wires a workflow.Repository to a sqlmock-backed sqlx.DB and
// primes the index-creation statements NewRepository issues on open, the
// way the rest of the corpus sets up repository tests.
func newMockRepo(t *testing.T) (*workflow.Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 7; i++ {
		mock.ExpectExec(`CREATE INDEX`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo, err := workflow.NewRepository(sqlxDB)
	require.NoError(t, err)
	return repo, mock
}

var executionColumns = []string{
	"id", "user_id", "workflow_id", "workflow_version", "status", "trigger_type",
	"input_data", "output_data", "context", "total_nodes", "completed_nodes", "failed_nodes",
	"retry_count", "max_retries", "priority", "scheduled_at", "broker_task_id",
	"error_message", "error_details", "execution_log", "duration_seconds",
	"started_at", "completed_at", "created_at",
}

func executionRow(id, userID, workflowID, status string) []driverValue {
	return []driverValue{
		id, userID, workflowID, 1, status, "manual",
		nil, nil, nil, 3, 0, 0,
		0, 3, 0, nil, nil,
		nil, nil, nil, nil,
		nil, nil, time.Now(),
	}
}

// driverValue is a local alias kept readable at call sites; sqlmock.Rows
// accepts plain interface{} values directly.
type driverValue = interface{}

func newExecutionRows(vals ...driverValue) *sqlmock.Rows {
	return sqlmock.NewRows(executionColumns).AddRow(vals...)
}

var workflowColumns = []string{
	"id", "user_id", "name", "description", "definition", "status", "version",
	"created_by", "created_at", "updated_at",
}

func workflowRow(id, userID string, definition []byte) *sqlmock.Rows {
	return sqlmock.NewRows(workflowColumns).AddRow(
		id, userID, "wf", "", definition, "active", 1, userID, time.Now(), time.Now(),
	)
}

var nodeExecColumns = []string{
	"id", "workflow_execution_id", "user_id", "agent_id", "node_id", "node_name", "node_type",
	"parent_node_ids", "child_node_ids", "execution_order", "status", "input_data",
	"output_data", "agent_response", "tokens_used", "model_used", "tools_called",
	"tool_results", "retry_count", "max_retries", "error_message", "error_details",
	"error_stack", "execution_log", "duration_ms", "started_at", "completed_at",
}

func nodeExecRow(id, executionID, nodeID string) *sqlmock.Rows {
	return sqlmock.NewRows(nodeExecColumns).AddRow(
		id, executionID, "user-1", nil, nodeID, nodeID, "agent",
		"{}", "{}", 0, "running", nil,
		nil, nil, nil, nil, "{}",
		nil, 0, 3, nil, nil,
		nil, nil, nil, time.Now(), nil,
	)
}

func agentNode(id string, parents ...string) workflow.Node {
	cfg, _ := json.Marshal(workflow.AgentConfig{AgentID: "agent-" + id, Prompt: "run " + id})
	return workflow.Node{ID: id, Type: string(workflow.NodeTypeAgent), Data: workflow.NodeData{Name: id, Config: cfg}}
}

func triggerNode(id string) workflow.Node {
	return workflow.Node{ID: id, Type: string(workflow.NodeTypeTriggerWebhook), Data: workflow.NodeData{Name: id}}
}

// TestExecuteDiamondParallelism runs t -> a, t -> b, a -> c, b -> c end to
// end through a real Repository (sqlmock-backed) and the Echo
// AgentInvoker, and asserts the persisted completed_nodes tally matches
// every non-trigger node in the graph, not just the last level run.
func TestExecuteDiamondParallelism(t *testing.T) {
	repo, mock := newMockRepo(t)

	const userID = "user-1"
	const workflowID = "wf-1"
	const executionID = "exec-1"

	def := workflow.WorkflowDefinition{
		Nodes: []workflow.Node{
			triggerNode("t"),
			agentNode("a", "t"),
			agentNode("b", "t"),
			agentNode("c", "a", "b"),
		},
		Edges: []workflow.Edge{
			{Source: "t", Target: "a"},
			{Source: "t", Target: "b"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "c"},
		},
	}
	defJSON, err := json.Marshal(def)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM workflow_executions`).
		WithArgs(executionID, userID).
		WillReturnRows(newExecutionRows(executionRow(executionID, userID, workflowID, string(workflow.ExecutionStatusPending))...))

	mock.ExpectExec(`UPDATE workflow_executions`).
		WithArgs(executionID, userID, string(workflow.ExecutionStatusPending), string(workflow.ExecutionStatusRunning), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT \* FROM workflows`).
		WithArgs(workflowID, userID).
		WillReturnRows(workflowRow(workflowID, userID, defJSON))

	// Per-level cancellation check reloads the execution; three levels here.
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`SELECT \* FROM workflow_executions`).
			WithArgs(executionID, userID).
			WillReturnRows(newExecutionRows(executionRow(executionID, userID, workflowID, string(workflow.ExecutionStatusRunning))...))
	}

	for _, id := range []string{"a", "b", "c"} {
		mock.ExpectQuery(`INSERT INTO node_executions`).
			WillReturnRows(nodeExecRow("ne-"+id, executionID, id))
		mock.ExpectExec(`UPDATE node_executions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	// Level 1 (a, b) and level 2 (c) each persist their own tally.
	mock.ExpectExec(`UPDATE workflow_executions`).
		WithArgs(executionID, 2, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE workflow_executions`).
		WithArgs(executionID, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`UPDATE workflow_executions`).
		WithArgs(executionID, userID, string(workflow.ExecutionStatusCompleted), sqlmock.AnyArg(), sqlmock.AnyArg(), 3, string(workflow.ExecutionStatusRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exec := executor.NewWithAgent(repo, testLogger(), nil, agent.NewEcho(), nil)
	err = exec.Execute(context.Background(), userID, executionID)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestExecuteCancelMidFlight checks that a cancellation observed between
// levels stops the run without executing the remaining levels and
// without ever reaching CompleteExecution or FailExecution.
func TestExecuteCancelMidFlight(t *testing.T) {
	repo, mock := newMockRepo(t)

	const userID = "user-1"
	const workflowID = "wf-2"
	const executionID = "exec-2"

	def := workflow.WorkflowDefinition{
		Nodes: []workflow.Node{
			triggerNode("t"),
			agentNode("a", "t"),
			agentNode("b", "a"),
		},
		Edges: []workflow.Edge{
			{Source: "t", Target: "a"},
			{Source: "a", Target: "b"},
		},
	}
	defJSON, err := json.Marshal(def)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM workflow_executions`).
		WithArgs(executionID, userID).
		WillReturnRows(newExecutionRows(executionRow(executionID, userID, workflowID, string(workflow.ExecutionStatusPending))...))

	mock.ExpectExec(`UPDATE workflow_executions`).
		WithArgs(executionID, userID, string(workflow.ExecutionStatusPending), string(workflow.ExecutionStatusRunning), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT \* FROM workflows`).
		WithArgs(workflowID, userID).
		WillReturnRows(workflowRow(workflowID, userID, defJSON))

	// Level 0 (trigger) and level 1 (a) run normally.
	mock.ExpectQuery(`SELECT \* FROM workflow_executions`).
		WithArgs(executionID, userID).
		WillReturnRows(newExecutionRows(executionRow(executionID, userID, workflowID, string(workflow.ExecutionStatusRunning))...))
	mock.ExpectQuery(`SELECT \* FROM workflow_executions`).
		WithArgs(executionID, userID).
		WillReturnRows(newExecutionRows(executionRow(executionID, userID, workflowID, string(workflow.ExecutionStatusRunning))...))

	mock.ExpectQuery(`INSERT INTO node_executions`).
		WillReturnRows(nodeExecRow("ne-a", executionID, "a"))
	mock.ExpectExec(`UPDATE node_executions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`UPDATE workflow_executions`).
		WithArgs(executionID, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Before level 2 (b) starts, an external Cancel has already flipped
	// the row to cancelled — Execute must observe this on reload and
	// return without running b or touching CompleteExecution/FailExecution.
	mock.ExpectQuery(`SELECT \* FROM workflow_executions`).
		WithArgs(executionID, userID).
		WillReturnRows(newExecutionRows(executionRow(executionID, userID, workflowID, string(workflow.ExecutionStatusCancelled))...))

	exec := executor.NewWithAgent(repo, testLogger(), nil, agent.NewEcho(), nil)
	err = exec.Execute(context.Background(), userID, executionID)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
