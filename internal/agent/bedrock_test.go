package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/yash-kavaiya/orchestrator/internal/executor"
)

type mockBedrockAPI struct {
	invokeModelFunc func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

func (m *mockBedrockAPI) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return m.invokeModelFunc(ctx, params, optFns...)
}

func TestBedrockInvokeClaude(t *testing.T) {
	mock := &mockBedrockAPI{
		invokeModelFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			var req claudeRequest
			if err := json.Unmarshal(params.Body, &req); err != nil {
				t.Fatalf("unmarshal request: %v", err)
			}
			if req.Messages[0].Content == "" {
				t.Fatal("expected non-empty prompt content")
			}

			resp := claudeResponse{
				ID:         "msg_1",
				Model:      "claude-3-haiku",
				Role:       "assistant",
				StopReason: "end_turn",
				Content:    []claudeContentBlock{{Type: "text", Text: "done"}},
			}
			resp.Usage.InputTokens = 5
			resp.Usage.OutputTokens = 3
			body, _ := json.Marshal(resp)
			return &bedrockruntime.InvokeModelOutput{Body: body}, nil
		},
	}

	b := &Bedrock{client: mock}
	resp, err := b.Invoke(context.Background(), executor.AgentRequest{
		AgentID: "agent-1",
		Prompt:  "hello",
		Tools:   []string{"search"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RawText != "done" {
		t.Fatalf("expected text %q, got %q", "done", resp.RawText)
	}
	if resp.TokensUsed != 8 {
		t.Fatalf("expected 8 tokens, got %d", resp.TokensUsed)
	}
	if resp.ModelUsed != "claude-3-haiku" {
		t.Fatalf("expected model name passthrough, got %q", resp.ModelUsed)
	}
}

func TestNewBedrockRequiresRegion(t *testing.T) {
	_, err := NewBedrock(context.Background(), BedrockConfig{})
	if err == nil {
		t.Fatal("expected error for missing region")
	}
}
