package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/yash-kavaiya/orchestrator/internal/executor"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 4096
	defaultModel     = "anthropic.claude-3-haiku-20240307-v1:0"
)

// bedrockAPI is the subset of bedrockruntime.Client used here, narrowed
// so tests can supply a fake.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockConfig configures a Bedrock-backed invoker.
type BedrockConfig struct {
	Region             string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
}

// Bedrock invokes Anthropic Claude models through AWS Bedrock. It
// implements executor.AgentInvoker; the executor never imports this
// package directly, only the interface it satisfies.
type Bedrock struct {
	client bedrockAPI
}

// NewBedrock builds a Bedrock invoker from the given config, loading AWS
// credentials the same way the rest of this codebase's AWS clients do.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock: region is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &Bedrock{client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeResponse struct {
	ID         string               `json:"id"`
	Model      string               `json:"model"`
	Role       string               `json:"role"`
	Content    []claudeContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke sends req.Prompt (with req.Input serialized alongside it) to
// the configured Claude model and returns its completion.
func (b *Bedrock) Invoke(ctx context.Context, req executor.AgentRequest) (executor.AgentResponse, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	userContent := req.Prompt
	if len(req.Input) > 0 {
		inputJSON, err := json.Marshal(req.Input)
		if err != nil {
			return executor.AgentResponse{}, fmt.Errorf("bedrock: marshal input: %w", err)
		}
		userContent = fmt.Sprintf("%s\n\nInput:\n%s", req.Prompt, string(inputJSON))
	}

	claudeReq := claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        defaultMaxTokens,
		Messages: []claudeMessage{
			{Role: "user", Content: userContent},
		},
	}
	if len(req.Tools) > 0 {
		claudeReq.System = fmt.Sprintf("Available tools: %s", strings.Join(req.Tools, ", "))
	}

	body, err := json.Marshal(claudeReq)
	if err != nil {
		return executor.AgentResponse{}, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return executor.AgentResponse{}, fmt.Errorf("bedrock: invoke model: %w", err)
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(out.Body, &claudeResp); err != nil {
		return executor.AgentResponse{}, fmt.Errorf("bedrock: parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return executor.AgentResponse{
		Output: map[string]interface{}{
			"text":        text.String(),
			"stop_reason": claudeResp.StopReason,
		},
		RawText:     text.String(),
		TokensUsed:  claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
		ModelUsed:   claudeResp.Model,
		ToolsCalled: req.Tools,
		ToolResults: nil,
	}, nil
}
