// Package agent provides executor.AgentInvoker implementations — the
// boundary through which the workflow executor reaches an actual model.
package agent

import (
	"context"
	"fmt"

	"github.com/yash-kavaiya/orchestrator/internal/executor"
)

// Echo is a deterministic, no-network AgentInvoker. It never calls a
// model: it "answers" by reflecting its input back as output, tagged with
// the agent and prompt it was asked to run. Useful for dry-running
// workflows, local development, and tests where model nondeterminism
// would make assertions flaky.
type Echo struct{}

// NewEcho returns an Echo invoker.
func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Invoke(ctx context.Context, req executor.AgentRequest) (executor.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return executor.AgentResponse{}, err
	}

	text := fmt.Sprintf("echo[%s]: %s", req.AgentID, req.Prompt)

	return executor.AgentResponse{
		Output: map[string]interface{}{
			"agent_id": req.AgentID,
			"prompt":   req.Prompt,
			"input":    req.Input,
		},
		RawText:     text,
		TokensUsed:  0,
		ModelUsed:   "echo",
		ToolsCalled: nil,
		ToolResults: nil,
	}, nil
}
