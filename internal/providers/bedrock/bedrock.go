// Package bedrock adapts AWS Bedrock's Converse/ConverseStream API to the
// providers.Provider contract. This is the binding the four-cache-point
// prompt-caching limit in the provider contract is named for.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/pkg/convo"
)

// maxCachePoints is the Bedrock Converse API's documented limit on prompt
// cache-control checkpoints per request — the spec's reference point for
// the cache allocation policy.
const maxCachePoints = 4

const defaultContextLimit = 200000

// Config configures Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Provider implements providers.Provider against AWS Bedrock.
type Provider struct {
	client *bedrockruntime.Client
	region string
}

// New builds a Bedrock provider, resolving AWS credentials from cfg or,
// when cfg carries no explicit keys, the default SDK credential chain.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return &Provider{client: bedrockruntime.NewFromConfig(awsCfg), region: region}, nil
}

func (p *Provider) Metadata() providers.Metadata {
	return providers.Metadata{Name: "bedrock", DisplayName: "AWS Bedrock", RequiresKey: false}
}

func (p *Provider) GetModelConfig(model string) (providers.ModelConfig, error) {
	return providers.ModelConfig{
		ModelName:         model,
		ContextLimit:      defaultContextLimit,
		SupportsStreaming: true,
		SupportsThinking:  strings.Contains(model, "claude"),
		SupportsCache:     strings.Contains(model, "claude"),
		MaxCachePoints:    maxCachePoints,
	}, nil
}

func (p *Provider) SupportsStreaming(model string) bool { return true }

func (p *Provider) FetchSupportedModels(ctx context.Context) ([]string, error) {
	return []string{
		"anthropic.claude-3-sonnet-20240229-v1:0",
		"anthropic.claude-3-haiku-20240307-v1:0",
		"amazon.titan-text-premier-v1:0",
		"meta.llama3-70b-instruct-v1:0",
	}, nil
}

func (p *Provider) ConfigureOAuth(ctx context.Context) error {
	return fmt.Errorf("bedrock: authentication is via AWS credentials, not OAuth")
}

func (p *Provider) CompleteWithModel(ctx context.Context, model string, req providers.CompletionRequest) (providers.CompletionResult, error) {
	input, err := toConverseInput(model, req)
	if err != nil {
		return providers.CompletionResult{}, providers.New("bedrock", "", err)
	}
	resp, err := p.client.Converse(ctx, input)
	if err != nil {
		return providers.CompletionResult{}, providers.New("bedrock", "", err)
	}
	out, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return providers.CompletionResult{}, providers.New("bedrock", providers.KindServerError, fmt.Errorf("unexpected converse output shape"))
	}
	msg := fromBedrockMessage(out.Value)
	var usage convo.Usage
	if resp.Usage != nil {
		usage = convo.Usage{
			InputTokens:  int(aws.ToInt32(resp.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(resp.Usage.OutputTokens)),
		}
	}
	return providers.CompletionResult{Message: msg, Usage: usage, StopReason: string(resp.StopReason)}, nil
}

func (p *Provider) Stream(ctx context.Context, model string, req providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	input, err := toConverseStreamInput(model, req)
	if err != nil {
		return nil, providers.New("bedrock", "", err)
	}
	resp, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, providers.New("bedrock", "", err)
	}

	out := make(chan providers.StreamEvent, 16)
	go func() {
		defer close(out)
		eventStream := resp.GetStream()
		defer eventStream.Close()

		var toolID, toolName string
		var toolInput strings.Builder

		for event := range eventStream.Events() {
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolID = aws.ToString(tu.Value.ToolUseId)
					toolName = aws.ToString(tu.Value.Name)
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if d.Value != "" {
						out <- providers.StreamEvent{TextDelta: d.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if d.Value.Input != nil {
						toolInput.WriteString(*d.Value.Input)
						out <- providers.StreamEvent{ToolCallID: toolID, ToolCallName: toolName, ToolCallArgsFrag: *d.Value.Input}
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- providers.StreamEvent{StopReason: string(ev.Value.StopReason), Done: true}
				return
			}
		}
		if err := eventStream.Err(); err != nil {
			out <- providers.StreamEvent{Done: true}
			return
		}
		out <- providers.StreamEvent{Done: true}
	}()
	return out, nil
}

func toConverseInput(model string, req providers.CompletionRequest) (*bedrockruntime.ConverseInput, error) {
	messages, err := toBedrockMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	return input, nil
}

func toConverseStreamInput(model string, req providers.CompletionRequest) (*bedrockruntime.ConverseStreamInput, error) {
	base, err := toConverseInput(model, req)
	if err != nil {
		return nil, err
	}
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         base.ModelId,
		Messages:        base.Messages,
		System:          base.System,
		InferenceConfig: base.InferenceConfig,
	}, nil
}

func toBedrockMessages(msgs []convo.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		var content []types.ContentBlock
		for _, c := range m.Content {
			switch v := c.(type) {
			case convo.Text:
				content = append(content, &types.ContentBlockMemberText{Value: v.Text})
			case convo.ToolRequest:
				var input map[string]any
				_ = json.Unmarshal(v.Arguments, &input)
				content = append(content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(v.ID),
					Name:      aws.String(v.ToolName),
					Input:     document.NewLazyDocument(input),
				}})
			case convo.ToolResponse:
				content = append(content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(v.ID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: toolResponseText(v)}},
					Status:    toolResultStatus(v.IsError),
				}})
			}
		}
		role := types.ConversationRoleUser
		if m.Role == convo.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out, nil
}

func toolResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func toolResponseText(r convo.ToolResponse) string {
	var sb strings.Builder
	for _, c := range r.Content {
		if t, ok := c.(convo.Text); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func fromBedrockMessage(m types.Message) convo.Message {
	out := convo.Message{Role: convo.RoleAssistant, Created: time.Now().UTC(), Metadata: convo.DefaultMetadata()}
	for _, block := range m.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			out.Content = append(out.Content, convo.Text{Text: v.Value})
		case *types.ContentBlockMemberToolUse:
			var args json.RawMessage
			if v.Value.Input != nil {
				args, _ = v.Value.Input.MarshalSmithyDocument()
			}
			out.Content = append(out.Content, convo.ToolRequest{
				ID: aws.ToString(v.Value.ToolUseId), ToolName: aws.ToString(v.Value.Name), Arguments: args,
			})
		}
	}
	return out
}
