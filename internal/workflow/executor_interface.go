package workflow

import "context"

// Executor is the boundary the Service uses to kick off or resume a
// WorkflowExecution without depending on internal/executor directly
// (which itself depends on this package) — the dependency points inward.
type Executor interface {
	Execute(ctx context.Context, userID, executionID string) error
	Cancel(ctx context.Context, userID, executionID string) error
	RetryWorkflow(ctx context.Context, userID, executionID string) error
	RetryNode(ctx context.Context, userID, executionID, nodeID string) error
}
