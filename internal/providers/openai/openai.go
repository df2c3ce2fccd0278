// Package openai adapts the OpenAI chat-completions API to the
// providers.Provider contract. OpenAI has no native Thinking/RedactedThinking
// block type, so those blocks are dropped on the way out, per the spec's
// rule that providers may discard content they cannot represent.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/pkg/convo"
)

const defaultContextLimit = 128000

var contextLimits = map[string]int{
	"gpt-4-turbo": 128000,
	"gpt-4o":      128000,
	"gpt-4":       8192,
	"gpt-3.5":     16385,
}

// Config configures Provider.
type Config struct {
	APIKey  string
	BaseURL string
}

// Provider implements providers.Provider against the OpenAI chat
// completions API.
type Provider struct {
	client *openai.Client
}

// New builds an OpenAI provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{client: openai.NewClientWithConfig(oaiCfg)}, nil
}

func (p *Provider) Metadata() providers.Metadata {
	return providers.Metadata{Name: "openai", DisplayName: "OpenAI", RequiresKey: true}
}

func (p *Provider) GetModelConfig(model string) (providers.ModelConfig, error) {
	limit := defaultContextLimit
	for prefix, l := range contextLimits {
		if strings.HasPrefix(model, prefix) {
			limit = l
			break
		}
	}
	return providers.ModelConfig{
		ModelName:         model,
		ContextLimit:      limit,
		SupportsStreaming: true,
		SupportsThinking:  false,
		SupportsCache:     false,
	}, nil
}

func (p *Provider) SupportsStreaming(model string) bool { return true }

func (p *Provider) FetchSupportedModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, providers.New("openai", "", err)
	}
	out := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		out = append(out, m.ID)
	}
	return out, nil
}

func (p *Provider) ConfigureOAuth(ctx context.Context) error {
	return fmt.Errorf("openai: provider uses static API keys, not OAuth")
}

func (p *Provider) CompleteWithModel(ctx context.Context, model string, req providers.CompletionRequest) (providers.CompletionResult, error) {
	params := toChatRequest(model, req, false)
	resp, err := p.client.CreateChatCompletion(ctx, params)
	if err != nil {
		return providers.CompletionResult{}, providers.New("openai", "", err)
	}
	if len(resp.Choices) == 0 {
		return providers.CompletionResult{}, providers.New("openai", providers.KindServerError, fmt.Errorf("empty choices in response"))
	}
	choice := resp.Choices[0]
	msg := fromChatMessage(choice.Message)
	usage := convo.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	return providers.CompletionResult{Message: msg, Usage: usage, StopReason: string(choice.FinishReason)}, nil
}

func (p *Provider) Stream(ctx context.Context, model string, req providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	params := toChatRequest(model, req, true)
	stream, err := p.client.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return nil, providers.New("openai", "", err)
	}

	out := make(chan providers.StreamEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		pendingCalls := map[int]*strings.Builder{}
		pendingNames := map[int]string{}
		pendingIDs := map[int]string{}

		for {
			chunk, err := stream.Recv()
			if err != nil {
				out <- providers.StreamEvent{Done: true}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				out <- providers.StreamEvent{TextDelta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				if tc.ID != "" {
					pendingIDs[idx] = tc.ID
				}
				if tc.Function.Name != "" {
					pendingNames[idx] = tc.Function.Name
				}
				b, ok := pendingCalls[idx]
				if !ok {
					b = &strings.Builder{}
					pendingCalls[idx] = b
				}
				b.WriteString(tc.Function.Arguments)
				out <- providers.StreamEvent{
					ToolCallID:       pendingIDs[idx],
					ToolCallName:     pendingNames[idx],
					ToolCallArgsFrag: tc.Function.Arguments,
				}
			}
			if choice.FinishReason != "" {
				out <- providers.StreamEvent{StopReason: string(choice.FinishReason)}
			}
		}
	}()
	return out, nil
}

func toChatRequest(model string, req providers.CompletionRequest, stream bool) openai.ChatCompletionRequest {
	params := openai.ChatCompletionRequest{
		Model:       model,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, toChatMessages(m)...)
	}
	for _, t := range req.Tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Schema, &schema)
		params.Tools = append(params.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return params
}

// toChatMessages converts one convo.Message — which may carry several
// content blocks — into the OpenAI chat message(s) it maps to. A message
// made only of tool responses explodes into one "tool" role message per
// response, since OpenAI models each tool result as its own message.
func toChatMessages(m convo.Message) []openai.ChatCompletionMessage {
	if m.HasOnlyToolResponses() {
		var out []openai.ChatCompletionMessage
		for _, c := range m.Content {
			tr := c.(convo.ToolResponse)
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: tr.ID,
				Content:    toolResponseText(tr),
			})
		}
		return out
	}

	role := openai.ChatMessageRoleUser
	if m.Role == convo.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}
	msg := openai.ChatCompletionMessage{Role: role, Content: m.Text()}
	for _, c := range m.Content {
		if tr, ok := c.(convo.ToolRequest); ok {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tr.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tr.ToolName,
					Arguments: string(tr.Arguments),
				},
			})
		}
		// Thinking/RedactedThinking blocks are intentionally dropped: OpenAI
		// has no wire representation for them.
	}
	return []openai.ChatCompletionMessage{msg}
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

func fromChatMessage(m openai.ChatCompletionMessage) convo.Message {
	out := convo.Message{Role: convo.RoleAssistant, Created: time.Now().UTC(), Metadata: convo.DefaultMetadata()}
	if m.Content != "" {
		out.Content = append(out.Content, convo.Text{Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		out.Content = append(out.Content, convo.ToolRequest{
			ID:        tc.ID,
			ToolName:  tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}
