package agent

import (
	"context"
	"testing"

	"github.com/yash-kavaiya/orchestrator/internal/executor"
)

func TestEchoInvokeReflectsInput(t *testing.T) {
	e := NewEcho()
	req := executor.AgentRequest{
		AgentID: "agent-1",
		Prompt:  "summarize this",
		Input:   map[string]interface{}{"text": "hello"},
	}

	resp, err := e.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ModelUsed != "echo" {
		t.Fatalf("expected echo model, got %q", resp.ModelUsed)
	}
	if resp.TokensUsed != 0 {
		t.Fatalf("expected zero tokens, got %d", resp.TokensUsed)
	}

	out, ok := resp.Output.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map output, got %T", resp.Output)
	}
	if out["agent_id"] != "agent-1" {
		t.Fatalf("expected agent_id passthrough, got %v", out["agent_id"])
	}
}

func TestEchoInvokeRespectsCancellation(t *testing.T) {
	e := NewEcho()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Invoke(ctx, executor.AgentRequest{AgentID: "agent-1"})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
