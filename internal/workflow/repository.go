package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrRetryExhausted    = errors.New("retry budget exhausted")
)

// Repository is the Execution Store: durable state for Workflows,
// WorkflowExecutions and NodeExecutions, backed by Postgres via sqlx.
type Repository struct {
	db *sqlx.DB
}

// NewRepository opens a Repository against db and ensures every index
// the store's query patterns depend on exists, so no separate migration
// step is required to bring a fresh database up to a servable state.
func NewRepository(db *sqlx.DB) (*Repository, error) {
	r := &Repository{db: db}
	if err := r.ensureIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return r, nil
}

func (r *Repository) ensureIndexes(ctx context.Context) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_workflows_user_id ON workflows (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_user_status ON workflow_executions (user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow_id ON workflow_executions (workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_created_at ON workflow_executions (created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_scheduled_at ON workflow_executions (scheduled_at) WHERE scheduled_at IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_node_executions_workflow_execution_id ON node_executions (workflow_execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_node_executions_status ON node_executions (status)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- Workflow (spec) CRUD -------------------------------------------------

// Create inserts a new Workflow definition owned by userID.
func (r *Repository) Create(ctx context.Context, userID, createdBy string, input CreateWorkflowInput) (*Workflow, error) {
	id := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO workflows (id, user_id, name, description, definition, status, version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *
	`
	var wf Workflow
	err := r.db.QueryRowxContext(ctx, query,
		id, userID, input.Name, input.Description, input.Definition, string(WorkflowStatusDraft), 1, createdBy, now, now,
	).StructScan(&wf)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetByID fetches a Workflow, scoped to userID so ownership failures read
// identically to a missing row (see the NotFound-masks-ACL-failure
// invariant the store must uphold).
func (r *Repository) GetByID(ctx context.Context, userID, id string) (*Workflow, error) {
	query := `SELECT * FROM workflows WHERE id = $1 AND user_id = $2`
	var wf Workflow
	err := r.db.GetContext(ctx, &wf, query, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wf, nil
}

// Update updates a Workflow, bumping its version and writing a snapshot
// to workflow_versions whenever Definition changes.
func (r *Repository) Update(ctx context.Context, userID, id string, input UpdateWorkflowInput) (*Workflow, error) {
	current, err := r.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	newVersion := current.Version
	if input.Definition != nil {
		newVersion++
	}

	query := `
		UPDATE workflows
		SET name = COALESCE(NULLIF($3, ''), name),
		    description = COALESCE(NULLIF($4, ''), description),
		    definition = COALESCE($5, definition),
		    status = COALESCE(NULLIF($6, ''), status),
		    version = $7,
		    updated_at = $8
		WHERE id = $1 AND user_id = $2
		RETURNING *
	`
	var wf Workflow
	err = r.db.QueryRowxContext(ctx, query,
		id, userID, input.Name, input.Description, input.Definition, input.Status, newVersion, time.Now(),
	).StructScan(&wf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if input.Definition != nil {
		if _, err := r.CreateWorkflowVersion(ctx, id, newVersion, input.Definition, current.CreatedBy); err != nil {
			return nil, fmt.Errorf("snapshot workflow version: %w", err)
		}
	}

	return &wf, nil
}

// Delete archives a Workflow (soft delete).
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	query := `UPDATE workflows SET status = $3, updated_at = $4 WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID, string(WorkflowStatusArchived), time.Now())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List retrieves non-archived Workflows owned by userID.
func (r *Repository) List(ctx context.Context, userID string, limit, offset int) ([]*Workflow, error) {
	query := `
		SELECT * FROM workflows
		WHERE user_id = $1 AND status != $4
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`
	var workflows []*Workflow
	err := r.db.SelectContext(ctx, &workflows, query, userID, limit, offset, string(WorkflowStatusArchived))
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

// Count returns the number of non-archived Workflows owned by userID.
func (r *Repository) Count(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM workflows WHERE user_id = $1 AND status != $2`
	var count int
	err := r.db.GetContext(ctx, &count, query, userID, string(WorkflowStatusArchived))
	return count, err
}

// --- WorkflowExecution (Execution Store core) -----------------------------

// CreateExecution inserts a new WorkflowExecution in pending status,
// along with one pending NodeExecution per non-trigger node named in
// nodeSpecs (parent/child IDs and execution_order derived by the caller
// from internal/dag).
func (r *Repository) CreateExecution(ctx context.Context, userID, workflowID string, workflowVersion int, triggerType string, inputData []byte, maxRetries, priority int, scheduledAt *time.Time) (*WorkflowExecution, error) {
	id := uuid.New().String()
	now := time.Now()

	var inputParam interface{}
	if len(inputData) > 0 {
		inputParam = inputData
	}

	query := `
		INSERT INTO workflow_executions
			(id, user_id, workflow_id, workflow_version, status, trigger_type, input_data,
			 total_nodes, completed_nodes, failed_nodes, retry_count, max_retries, priority,
			 scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, 0, $8, $9, $10, $11)
		RETURNING *
	`
	var exec WorkflowExecution
	err := r.db.QueryRowxContext(ctx, query,
		id, userID, workflowID, workflowVersion, string(ExecutionStatusPending), triggerType, inputParam,
		maxRetries, priority, scheduledAt, now,
	).StructScan(&exec)
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// SetTotalNodes records the node count computed once the graph has been
// resolved, so ProgressPercentage is meaningful from the first broadcast.
func (r *Repository) SetTotalNodes(ctx context.Context, executionID string, total int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workflow_executions SET total_nodes = $2 WHERE id = $1`, executionID, total)
	return err
}

// GetExecution fetches a WorkflowExecution, scoped to userID.
func (r *Repository) GetExecution(ctx context.Context, userID, id string) (*WorkflowExecution, error) {
	query := `SELECT * FROM workflow_executions WHERE id = $1 AND user_id = $2`
	var exec WorkflowExecution
	err := r.db.GetContext(ctx, &exec, query, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &exec, nil
}

// transitionTable enumerates the legal WorkflowExecution status edges.
var transitionTable = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending:   {ExecutionStatusRunning, ExecutionStatusCancelled},
	ExecutionStatusRunning:   {ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled},
	ExecutionStatusFailed:    {ExecutionStatusPending}, // retry only
	ExecutionStatusCompleted: {},
	ExecutionStatusCancelled: {},
}

func isLegalTransition(from, to ExecutionStatus) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionExecution atomically moves a WorkflowExecution from `from`
// to `to`, failing with ErrIllegalTransition if the row isn't currently
// in `from` (this is the optimistic compare-and-swap the transition
// table requires — no lost updates between two concurrent callers).
func (r *Repository) TransitionExecution(ctx context.Context, userID, id string, from, to ExecutionStatus) error {
	if !isLegalTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	now := time.Now()
	var startedAt, completedAt interface{}
	if to == ExecutionStatusRunning {
		startedAt = now
	}
	if to == ExecutionStatusCompleted || to == ExecutionStatusFailed || to == ExecutionStatusCancelled {
		completedAt = now
	}

	query := `
		UPDATE workflow_executions
		SET status = $4,
		    started_at = COALESCE($5, started_at),
		    completed_at = COALESCE($6, completed_at)
		WHERE id = $1 AND user_id = $2 AND status = $3
	`
	result, err := r.db.ExecContext(ctx, query, id, userID, string(from), string(to), startedAt, completedAt)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the row doesn't exist under this user, or it has already
		// moved on — distinguish so callers see the right error.
		if _, err := r.GetExecution(ctx, userID, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// CompleteExecution marks a running execution completed and stores its
// aggregate output. completed_nodes is set explicitly rather than trusted
// to equal total_nodes, so a terminal row always reflects the nodes the
// executor actually ran.
func (r *Repository) CompleteExecution(ctx context.Context, userID, id string, outputData []byte, completedNodes int) error {
	now := time.Now()
	query := `
		UPDATE workflow_executions
		SET status = $3, output_data = $4, completed_at = $5, completed_nodes = $6
		WHERE id = $1 AND user_id = $2 AND status = $7
	`
	result, err := r.db.ExecContext(ctx, query, id, userID, string(ExecutionStatusCompleted), outputData, now, completedNodes, string(ExecutionStatusRunning))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: completing execution %s", ErrIllegalTransition, id)
	}
	return nil
}

// FailExecution marks an execution (running or pending) terminally failed,
// recording how many nodes had already completed or failed at the point of
// failure so completed_nodes+failed_nodes never exceeds total_nodes.
func (r *Repository) FailExecution(ctx context.Context, userID, id, errMsg string, completedNodes, failedNodes int) error {
	now := time.Now()
	query := `
		UPDATE workflow_executions
		SET status = $3, error_message = $4, completed_at = $5,
		    completed_nodes = completed_nodes + $6, failed_nodes = failed_nodes + $7
		WHERE id = $1 AND user_id = $2 AND status IN ($8, $9)
	`
	_, err := r.db.ExecContext(ctx, query, id, userID, string(ExecutionStatusFailed), errMsg, now, completedNodes, failedNodes,
		string(ExecutionStatusRunning), string(ExecutionStatusPending))
	return err
}

// IncrementNodeCounts bumps the persisted completed_nodes/failed_nodes
// tally on a running execution. Called once per DAG level so the row's
// progress never lags what BroadcastProgress already reported over the
// WebSocket channel.
func (r *Repository) IncrementNodeCounts(ctx context.Context, executionID string, completedDelta, failedDelta int) error {
	if completedDelta == 0 && failedDelta == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET completed_nodes = completed_nodes + $2, failed_nodes = failed_nodes + $3
		WHERE id = $1
	`, executionID, completedDelta, failedDelta)
	return err
}

// CancelPending transitions a running execution to cancelled and cascades
// the cancellation to every node execution still pending or running.
func (r *Repository) CancelPending(ctx context.Context, userID, executionID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE workflow_executions SET status = $3, completed_at = $4
		WHERE id = $1 AND user_id = $2 AND status = $5
	`, executionID, userID, string(ExecutionStatusCancelled), now, string(ExecutionStatusRunning))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: cancelling execution %s", ErrIllegalTransition, executionID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE node_executions SET status = $3
		WHERE workflow_execution_id = $1 AND status IN ($4, $5)
	`, executionID, userID, string(ExecutionStatusCancelled), string(ExecutionStatusPending), string(ExecutionStatusRunning))
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RetryExecution resets a failed execution back to pending and bumps
// retry_count. It does not reset node executions.
func (r *Repository) RetryExecution(ctx context.Context, userID, id string) error {
	query := `
		UPDATE workflow_executions
		SET status = $3, retry_count = retry_count + 1, error_message = NULL, completed_at = NULL
		WHERE id = $1 AND user_id = $2 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, id, userID, string(ExecutionStatusPending), string(ExecutionStatusFailed))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: retrying execution %s", ErrIllegalTransition, id)
	}
	return nil
}

// ReopenExecution moves a failed execution back to running without
// touching its retry_count, used by RetryNode (node-level retry doesn't
// spend the workflow's own retry budget).
func (r *Repository) ReopenExecution(ctx context.Context, userID, id string) error {
	query := `
		UPDATE workflow_executions SET status = $3, completed_at = NULL
		WHERE id = $1 AND user_id = $2 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, id, userID, string(ExecutionStatusRunning), string(ExecutionStatusFailed))
	return err
}

// AppendLog appends one LogEntry to an execution's append-only execution_log.
func (r *Repository) AppendLog(ctx context.Context, executionID string, entry LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET execution_log = COALESCE(execution_log, '[]'::jsonb) || $2::jsonb
		WHERE id = $1
	`, executionID, fmt.Sprintf("[%s]", data))
	return err
}

// --- NodeExecution ---------------------------------------------------------

// CreateNodeExecution inserts a running NodeExecution record.
func (r *Repository) CreateNodeExecution(ctx context.Context, workflowExecutionID, userID, nodeID, nodeName, nodeType string, executionOrder int, parentIDs, childIDs []string, inputData []byte) (*NodeExecution, error) {
	id := uuid.New().String()
	now := time.Now()

	var inputParam interface{}
	if len(inputData) > 0 {
		inputParam = inputData
	}

	query := `
		INSERT INTO node_executions
			(id, workflow_execution_id, user_id, node_id, node_name, node_type,
			 parent_node_ids, child_node_ids, execution_order, status, input_data,
			 retry_count, max_retries, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 3, $12)
		RETURNING *
	`
	var ne NodeExecution
	err := r.db.QueryRowxContext(ctx, query,
		id, workflowExecutionID, userID, nodeID, nodeName, nodeType,
		pq.Array(parentIDs), pq.Array(childIDs), executionOrder, string(ExecutionStatusRunning), inputParam, now,
	).StructScan(&ne)
	if err != nil {
		return nil, err
	}
	return &ne, nil
}

// PatchNodeExecution updates a NodeExecution with its terminal outcome.
func (r *Repository) PatchNodeExecution(ctx context.Context, id string, status ExecutionStatus, outputData []byte, errorMessage *string, retryCount int) error {
	now := time.Now()
	var outputParam interface{}
	if len(outputData) > 0 {
		outputParam = outputData
	}
	query := `
		UPDATE node_executions
		SET status = $2, output_data = COALESCE($3, output_data), error_message = $4,
		    retry_count = $5, completed_at = $6,
		    duration_ms = EXTRACT(EPOCH FROM ($6 - started_at)) * 1000
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, string(status), outputParam, errorMessage, retryCount, now)
	return err
}

// RetryNode resets a single node execution (identified by its node_id
// within a workflow execution) back to pending so the next Execute pass
// re-dispatches it.
func (r *Repository) RetryNode(ctx context.Context, userID, workflowExecutionID, nodeID string) error {
	query := `
		UPDATE node_executions
		SET status = $4, error_message = NULL, completed_at = NULL, retry_count = retry_count + 1
		WHERE workflow_execution_id = $1 AND user_id = $2 AND node_id = $3 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query, workflowExecutionID, userID, nodeID, string(ExecutionStatusPending), string(ExecutionStatusFailed))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: node %s is not in a failed state", ErrIllegalTransition, nodeID)
	}
	return nil
}

// GetNodeExecutions retrieves every NodeExecution for a WorkflowExecution,
// in execution order.
func (r *Repository) GetNodeExecutions(ctx context.Context, workflowExecutionID string) ([]*NodeExecution, error) {
	query := `SELECT * FROM node_executions WHERE workflow_execution_id = $1 ORDER BY execution_order ASC, node_id ASC`
	var nodes []*NodeExecution
	err := r.db.SelectContext(ctx, &nodes, query, workflowExecutionID)
	return nodes, err
}

// --- Listing / pagination --------------------------------------------------

func (r *Repository) buildExecutionFilterQuery(filter ExecutionFilter, args []interface{}, argIndex int) (string, []interface{}) {
	var conditions []string

	if filter.WorkflowID != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", argIndex))
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, filter.Status)
	}
	if filter.TriggerType != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("trigger_type = $%d", argIndex))
		args = append(args, filter.TriggerType)
	}
	if filter.StartDate != nil {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, *filter.EndDate)
	}

	if len(conditions) == 0 {
		return "", args
	}
	clause := " AND " + conditions[0]
	for _, c := range conditions[1:] {
		clause += " AND " + c
	}
	return clause, args
}

// ListExecutions returns a cursor-paginated, filtered page of
// WorkflowExecutions owned by userID.
func (r *Repository) ListExecutions(ctx context.Context, userID string, filter ExecutionFilter, cursor string, limit int) (*ExecutionListResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}

	var cursorData PaginationCursor
	if cursor != "" {
		decoded, err := DecodePaginationCursor(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		cursorData = decoded
	}

	args := []interface{}{userID}
	argIndex := 1
	cursorCondition := ""
	if cursor != "" {
		args = append(args, cursorData.CreatedAt, cursorData.ID)
		cursorCondition = fmt.Sprintf(" AND (created_at < $%d OR (created_at = $%d AND id < $%d))", argIndex+1, argIndex+1, argIndex+2)
		argIndex += 2
	}

	filterClause, args := r.buildExecutionFilterQuery(filter, args, argIndex)

	query := fmt.Sprintf(`
		SELECT * FROM workflow_executions
		WHERE user_id = $1%s%s
		ORDER BY created_at DESC, id DESC
		LIMIT %d
	`, cursorCondition, filterClause, limit+1)

	var executions []*WorkflowExecution
	if err := r.db.SelectContext(ctx, &executions, query, args...); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	hasMore := len(executions) > limit
	if hasMore {
		executions = executions[:limit]
	}

	var nextCursor string
	if hasMore && len(executions) > 0 {
		last := executions[len(executions)-1]
		nextCursor = PaginationCursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}

	total, err := r.CountExecutions(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}

	return &ExecutionListResult{Data: executions, Cursor: nextCursor, HasMore: hasMore, TotalCount: total}, nil
}

// CountExecutions returns the number of WorkflowExecutions matching filter.
func (r *Repository) CountExecutions(ctx context.Context, userID string, filter ExecutionFilter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, fmt.Errorf("invalid filter: %w", err)
	}
	args := []interface{}{userID}
	filterClause, args := r.buildExecutionFilterQuery(filter, args, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM workflow_executions WHERE user_id = $1%s`, filterClause)
	var count int
	err := r.db.GetContext(ctx, &count, query, args...)
	return count, err
}

// GetExecutionWithNodes fetches an execution together with its nodes.
func (r *Repository) GetExecutionWithNodes(ctx context.Context, userID, executionID string) (*ExecutionWithNodes, error) {
	exec, err := r.GetExecution(ctx, userID, executionID)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	nodes, err := r.GetNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get node executions: %w", err)
	}
	return &ExecutionWithNodes{Execution: exec, Nodes: nodes}, nil
}

// GetExecutionStats summarizes execution counts by status for userID.
func (r *Repository) GetExecutionStats(ctx context.Context, userID, workflowID string) (*ExecutionStats, error) {
	query := `SELECT status, COUNT(*) as count FROM workflow_executions WHERE user_id = $1`
	args := []interface{}{userID}
	if workflowID != "" {
		query += " AND workflow_id = $2"
		args = append(args, workflowID)
	}
	query += " GROUP BY status"

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &ExecutionStats{StatusCounts: make(map[string]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.StatusCounts[status] = count
		stats.TotalCount += count
	}
	return stats, rows.Err()
}

// --- Workflow versions ------------------------------------------------------

func (r *Repository) CreateWorkflowVersion(ctx context.Context, workflowID string, version int, definition json.RawMessage, createdBy string) (*WorkflowVersion, error) {
	id := uuid.New().String()
	now := time.Now()
	query := `
		INSERT INTO workflow_versions (id, workflow_id, version, definition, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`
	var v WorkflowVersion
	err := r.db.QueryRowxContext(ctx, query, id, workflowID, version, definition, createdBy, now).StructScan(&v)
	if err != nil {
		return nil, fmt.Errorf("create workflow version: %w", err)
	}
	return &v, nil
}

func (r *Repository) ListWorkflowVersions(ctx context.Context, workflowID string) ([]*WorkflowVersion, error) {
	query := `SELECT * FROM workflow_versions WHERE workflow_id = $1 ORDER BY version DESC`
	var versions []*WorkflowVersion
	err := r.db.SelectContext(ctx, &versions, query, workflowID)
	return versions, err
}

func (r *Repository) GetWorkflowVersion(ctx context.Context, workflowID string, version int) (*WorkflowVersion, error) {
	query := `SELECT * FROM workflow_versions WHERE workflow_id = $1 AND version = $2`
	var v WorkflowVersion
	err := r.db.GetContext(ctx, &v, query, workflowID, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow version: %w", err)
	}
	return &v, nil
}

func (r *Repository) RestoreWorkflowVersion(ctx context.Context, userID, workflowID string, version int) (*Workflow, error) {
	versionData, err := r.GetWorkflowVersion(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}
	wf, err := r.Update(ctx, userID, workflowID, UpdateWorkflowInput{Definition: versionData.Definition})
	if err != nil {
		return nil, fmt.Errorf("restore workflow version: %w", err)
	}
	return wf, nil
}
