// Package anthropic adapts the Anthropic Messages API to the providers.Provider
// contract, including native Thinking/RedactedThinking block support and
// Bedrock-style cache-control markers on the most recent messages.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/internal/providers/oauthcache"
	"github.com/agentrt/core/pkg/convo"
)

// contextLimits maps model-name substrings to context window sizes. Unmatched
// models fall back to defaultContextLimit.
var contextLimits = map[string]int{
	"claude-3-opus":   200000,
	"claude-3-haiku":  200000,
	"claude-3-sonnet": 200000,
	"claude-sonnet-4": 200000,
	"claude-opus-4":   200000,
}

const defaultContextLimit = 200000

// maxCachePoints is the number of cache-control breakpoints Anthropic
// accepts per request.
const maxCachePoints = 4

// Config configures Provider. Either APIKey or OAuth must be set: a static
// key takes precedence, otherwise the provider authenticates through the
// cached/interactive OAuth flow described by OAuth.
type Config struct {
	APIKey  string
	BaseURL string
	OAuth   *oauthcache.Config
}

// Provider implements providers.Provider against the Anthropic API.
type Provider struct {
	mu      sync.RWMutex
	client  sdk.Client
	baseURL string
	oauth   *oauthcache.Config
}

// New builds an Anthropic provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" && cfg.OAuth == nil {
		return nil, fmt.Errorf("anthropic: API key or OAuth config is required")
	}
	p := &Provider{baseURL: cfg.BaseURL, oauth: cfg.OAuth}
	if cfg.APIKey != "" {
		p.client = newClient(cfg.APIKey, cfg.BaseURL)
		return p, nil
	}
	// OAuth-only configuration: install whatever is already cached, if
	// anything: the first real request (or an explicit ConfigureOAuth
	// call) drives the interactive flow if the cache is empty or stale.
	if tok, err := oauthcache.Load(cfg.OAuth.Provider); err == nil && tok != nil {
		p.client = newClient(tok.AccessToken, cfg.BaseURL)
	}
	return p, nil
}

func newClient(apiKey, baseURL string) sdk.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return sdk.NewClient(opts...)
}

// ensureAuth guarantees p.client is backed by a non-expired credential
// before a wire call: a no-op for static-key configurations, otherwise the
// cached-token/refresh/interactive-flow sequence from internal/providers/
// oauthcache, run again here (not just from an explicit ConfigureOAuth
// call) so a long-lived process keeps working across token expiry.
func (p *Provider) ensureAuth(ctx context.Context) error {
	if p.oauth == nil {
		return nil
	}
	tok, err := oauthcache.EnsureToken(ctx, *p.oauth)
	if err != nil {
		return fmt.Errorf("anthropic: oauth: %w", err)
	}
	p.mu.Lock()
	p.client = newClient(tok.AccessToken, p.baseURL)
	p.mu.Unlock()
	return nil
}

func (p *Provider) clientFor(ctx context.Context) (sdk.Client, error) {
	if err := p.ensureAuth(ctx); err != nil {
		return sdk.Client{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client, nil
}

func (p *Provider) Metadata() providers.Metadata {
	return providers.Metadata{Name: "anthropic", DisplayName: "Anthropic Claude", RequiresKey: true}
}

func (p *Provider) GetModelConfig(model string) (providers.ModelConfig, error) {
	limit := defaultContextLimit
	for prefix, l := range contextLimits {
		if strings.Contains(model, prefix) {
			limit = l
			break
		}
	}
	return providers.ModelConfig{
		ModelName:         model,
		ContextLimit:      limit,
		SupportsStreaming: true,
		SupportsThinking:  true,
		SupportsCache:     true,
		MaxCachePoints:    maxCachePoints,
	}, nil
}

func (p *Provider) SupportsStreaming(model string) bool { return true }

func (p *Provider) FetchSupportedModels(ctx context.Context) ([]string, error) {
	return []string{
		"claude-opus-4-20250514",
		"claude-sonnet-4-20250514",
		"claude-3-haiku-20240307",
	}, nil
}

// ConfigureOAuth forces the cached/refresh/interactive-flow sequence to run
// immediately (e.g. for a CLI "login" command), rather than waiting for the
// next wire call to discover the credential is missing or stale.
func (p *Provider) ConfigureOAuth(ctx context.Context) error {
	if p.oauth == nil {
		return fmt.Errorf("anthropic: provider was not configured for OAuth")
	}
	return p.ensureAuth(ctx)
}

func (p *Provider) CompleteWithModel(ctx context.Context, model string, req providers.CompletionRequest) (providers.CompletionResult, error) {
	client, err := p.clientFor(ctx)
	if err != nil {
		return providers.CompletionResult{}, err
	}
	params := toMessageParams(model, req)

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return providers.CompletionResult{}, providers.New("anthropic", "", err)
	}

	msg := fromAnthropicMessage(resp)
	usage := convo.Usage{
		InputTokens:              int(resp.Usage.InputTokens),
		OutputTokens:             int(resp.Usage.OutputTokens),
		CacheCreationInputTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadInputTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	return providers.CompletionResult{Message: msg, Usage: usage, StopReason: string(resp.StopReason)}, nil
}

// maxEmptyStreamEvents bounds how many consecutive no-op SSE events we
// tolerate before treating the stream as malformed.
const maxEmptyStreamEvents = 300

func (p *Provider) Stream(ctx context.Context, model string, req providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	client, err := p.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	params := toMessageParams(model, req)
	out := make(chan providers.StreamEvent, 16)

	go func() {
		defer close(out)
		stream := client.Messages.NewStreaming(ctx, params)

		var currentToolID, currentToolName string
		var currentToolInput strings.Builder
		emptyEvents := 0

		for stream.Next() {
			event := stream.Current()
			processed := false

			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					tu := block.AsToolUse()
					currentToolID, currentToolName = tu.ID, tu.Name
					currentToolInput.Reset()
					processed = true
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						out <- providers.StreamEvent{TextDelta: delta.Text}
						processed = true
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						out <- providers.StreamEvent{ThinkingDelta: delta.Thinking}
						processed = true
					}
				case "input_json_delta":
					if delta.PartialJSON != "" {
						currentToolInput.WriteString(delta.PartialJSON)
						out <- providers.StreamEvent{ToolCallID: currentToolID, ToolCallName: currentToolName, ToolCallArgsFrag: delta.PartialJSON}
						processed = true
					}
				}
			case "message_delta":
				out <- providers.StreamEvent{StopReason: string(event.AsMessageDelta().Delta.StopReason)}
				processed = true
			case "message_stop":
				out <- providers.StreamEvent{Done: true}
				return
			case "error":
				out <- providers.StreamEvent{Done: true}
				return
			}

			if processed {
				emptyEvents = 0
			} else if emptyEvents++; emptyEvents >= maxEmptyStreamEvents {
				out <- providers.StreamEvent{Done: true}
				return
			}
		}
		out <- providers.StreamEvent{Done: true}
	}()

	return out, nil
}

func toMessageParams(model string, req providers.CompletionRequest) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(req.MaxTokens),
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = 4096
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}

	// AllocateCachePoints decides which message indices should carry a
	// cache-control breakpoint; wiring it onto the wire param requires the
	// SDK's per-block CacheControl field, applied in toAnthropicBlocks via
	// the cacheAt set below.
	cachePoints := providers.AllocateCachePoints(req.SystemPrompt != "", len(req.Messages), maxCachePoints)
	cacheAt := make(map[int]bool, len(cachePoints))
	for _, i := range cachePoints {
		cacheAt[i] = true
	}

	for i, m := range req.Messages {
		blocks := toAnthropicBlocks(m, cacheAt[i])
		role := sdk.MessageParamRoleUser
		if m.Role == convo.RoleAssistant {
			role = sdk.MessageParamRoleAssistant
		}
		params.Messages = append(params.Messages, sdk.MessageParam{Role: role, Content: blocks})
	}
	return params
}

func toAnthropicBlocks(m convo.Message, cachePoint bool) []sdk.ContentBlockParamUnion {
	var out []sdk.ContentBlockParamUnion
	for i, c := range m.Content {
		last := i == len(m.Content)-1
		switch v := c.(type) {
		case convo.Text:
			block := sdk.NewTextBlock(v.Text)
			if cachePoint && last {
				block.OfText.CacheControl = sdk.NewCacheControlEphemeralParam()
			}
			out = append(out, block)
		case convo.Thinking:
			out = append(out, sdk.ContentBlockParamUnion{OfThinking: &sdk.ThinkingBlockParam{Thinking: v.Thinking, Signature: v.Signature}})
		case convo.RedactedThinking:
			out = append(out, sdk.ContentBlockParamUnion{OfRedactedThinking: &sdk.RedactedThinkingBlockParam{Data: v.Data}})
		case convo.ToolRequest:
			var input any
			_ = json.Unmarshal(v.Arguments, &input)
			out = append(out, sdk.NewToolUseBlock(v.ID, input, v.ToolName))
		case convo.ToolResponse:
			out = append(out, sdk.NewToolResultBlock(v.ID, toolResponseText(v), v.IsError))
		}
	}
	return out
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

func fromAnthropicMessage(resp *sdk.Message) convo.Message {
	msg := convo.Message{Role: convo.RoleAssistant, Created: time.Now().UTC(), Metadata: convo.DefaultMetadata()}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content = append(msg.Content, convo.Text{Text: block.Text})
		case "thinking":
			t := block.AsThinking()
			msg.Content = append(msg.Content, convo.Thinking{Thinking: t.Thinking, Signature: t.Signature})
		case "redacted_thinking":
			r := block.AsRedactedThinking()
			msg.Content = append(msg.Content, convo.RedactedThinking{Data: r.Data})
		case "tool_use":
			tu := block.AsToolUse()
			args, _ := json.Marshal(tu.Input)
			msg.Content = append(msg.Content, convo.ToolRequest{ID: tu.ID, ToolName: tu.Name, Arguments: args})
		}
	}
	return msg
}
