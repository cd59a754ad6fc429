package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yash-kavaiya/orchestrator/internal/api/middleware"
	"github.com/yash-kavaiya/orchestrator/internal/api/response"
	"github.com/yash-kavaiya/orchestrator/internal/workflow"
)

// ExecutionService is the subset of workflow.Service the HTTP layer
// drives. Defined here, not imported, so tests can substitute a fake.
type ExecutionService interface {
	Execute(ctx context.Context, userID, workflowID, triggerType string, inputData json.RawMessage, priority int) (*workflow.WorkflowExecution, error)
	CancelExecution(ctx context.Context, userID, executionID string) error
	RetryWorkflow(ctx context.Context, userID, executionID string) error
	RetryNode(ctx context.Context, userID, executionID, nodeID string) error
	GetExecution(ctx context.Context, userID, executionID string) (*workflow.WorkflowExecution, error)
	GetExecutionWithNodes(ctx context.Context, userID, executionID string) (*workflow.ExecutionWithNodes, error)
	ListExecutions(ctx context.Context, userID string, filter workflow.ExecutionFilter, cursor string, limit int) (*workflow.ExecutionListResult, error)
}

// ExecutionHandler binds the execution lifecycle routes named in §6:
// create/list/get/cancel/retry execution, node list/detail, logs.
type ExecutionHandler struct {
	service ExecutionService
	logger  *slog.Logger
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(service ExecutionService, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{service: service, logger: logger}
}

// createExecutionRequest is the body of POST /workflows/{id}/executions.
type createExecutionRequest struct {
	InputData   json.RawMessage `json:"input_data"`
	Context     json.RawMessage `json:"context"`
	Priority    int             `json:"priority"`
	ScheduledAt *string         `json:"scheduled_at"`
	MaxRetries  *int            `json:"max_retries"`
}

// Create handles POST /workflows/{workflowID}/executions.
func (h *ExecutionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	workflowID := chi.URLParam(r, "workflowID")
	if workflowID == "" {
		response.BadRequest(w, h.logger, "workflow id is required")
		return
	}

	var req createExecutionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.ValidationError(w, h.logger, "invalid request body: "+err.Error())
			return
		}
	}

	execution, err := h.service.Execute(r.Context(), userID, workflowID, "manual", req.InputData, req.Priority)
	if err != nil {
		h.handleServiceError(w, err, "create execution", "workflow_id", workflowID)
		return
	}

	response.Created(w, h.logger, execution)
}

// List handles GET /executions?workflow_id=&status=&limit=&offset=.
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	filter := workflow.ExecutionFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Status:     r.URL.Query().Get("status"),
	}
	if err := filter.Validate(); err != nil {
		response.ValidationError(w, h.logger, err.Error())
		return
	}

	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)
	cursor := r.URL.Query().Get("cursor")

	result, err := h.service.ListExecutions(r.Context(), userID, filter, cursor, limit)
	if err != nil {
		h.handleServiceError(w, err, "list executions")
		return
	}

	response.Paginated(w, h.logger, result.Data, limit, offset, result.TotalCount)
}

// Get handles GET /executions/{executionID}.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	executionID := chi.URLParam(r, "executionID")

	execution, err := h.service.GetExecution(r.Context(), userID, executionID)
	if err != nil {
		h.handleServiceError(w, err, "get execution", "execution_id", executionID)
		return
	}

	response.OK(w, h.logger, execution)
}

// Cancel handles POST /executions/{executionID}/cancel.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	executionID := chi.URLParam(r, "executionID")

	if err := h.service.CancelExecution(r.Context(), userID, executionID); err != nil {
		h.handleServiceError(w, err, "cancel execution", "execution_id", executionID)
		return
	}

	response.NoContent(w)
}

// retryRequest is the optional body of POST /executions/{id}/retry: an
// empty body retries the whole execution; a node_id retries one node.
type retryRequest struct {
	NodeID string `json:"node_id"`
}

// Retry handles POST /executions/{executionID}/retry.
func (h *ExecutionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	executionID := chi.URLParam(r, "executionID")

	var req retryRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body is valid: whole-execution retry
	}

	var err error
	if req.NodeID != "" {
		err = h.service.RetryNode(r.Context(), userID, executionID, req.NodeID)
	} else {
		err = h.service.RetryWorkflow(r.Context(), userID, executionID)
	}
	if err != nil {
		h.handleServiceError(w, err, "retry execution", "execution_id", executionID)
		return
	}

	response.NoContent(w)
}

// ListNodes handles GET /executions/{executionID}/nodes.
func (h *ExecutionHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	executionID := chi.URLParam(r, "executionID")

	result, err := h.service.GetExecutionWithNodes(r.Context(), userID, executionID)
	if err != nil {
		h.handleServiceError(w, err, "list node executions", "execution_id", executionID)
		return
	}

	response.OK(w, h.logger, result.Nodes)
}

// GetNode handles GET /executions/{executionID}/nodes/{nodeExecID}.
func (h *ExecutionHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	executionID := chi.URLParam(r, "executionID")
	nodeExecID := chi.URLParam(r, "nodeExecID")

	result, err := h.service.GetExecutionWithNodes(r.Context(), userID, executionID)
	if err != nil {
		h.handleServiceError(w, err, "get node execution", "execution_id", executionID)
		return
	}

	for _, node := range result.Nodes {
		if node.ID == nodeExecID {
			response.OK(w, h.logger, node)
			return
		}
	}
	response.NotFound(w, h.logger, "node execution not found")
}

// Logs handles GET /executions/{executionID}/logs.
func (h *ExecutionHandler) Logs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	executionID := chi.URLParam(r, "executionID")

	execution, err := h.service.GetExecution(r.Context(), userID, executionID)
	if err != nil {
		h.handleServiceError(w, err, "get execution logs", "execution_id", executionID)
		return
	}

	if len(execution.ExecutionLog) == 0 {
		response.OK(w, h.logger, []workflow.LogEntry{})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(execution.ExecutionLog)
}

// handleServiceError maps domain/sentinel errors onto the status codes
// named in §6: 400 validation, 404 not-found-or-unauthorized (the two
// are deliberately conflated), 409 illegal transition, 500 otherwise.
func (h *ExecutionHandler) handleServiceError(w http.ResponseWriter, err error, op string, logFields ...any) {
	var validationErr *workflow.ValidationError
	if errors.As(err, &validationErr) {
		response.ValidationError(w, h.logger, err.Error())
		return
	}
	if errors.Is(err, workflow.ErrNotFound) {
		response.NotFound(w, h.logger, "not found")
		return
	}
	if errors.Is(err, workflow.ErrIllegalTransition) {
		response.Conflict(w, h.logger, err.Error())
		return
	}

	h.logger.Error("failed to "+op, append([]any{"error", err}, logFields...)...)
	response.InternalError(w, h.logger, "failed to "+op)
}

func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
