// Package providers defines the narrow contract every language-model
// backend implements, plus the bounded error taxonomy and prompt-cache
// allocation policy shared across backends.
package providers

import (
	"context"

	"github.com/agentrt/core/pkg/convo"
)

// Metadata describes a provider for discovery/configuration surfaces.
type Metadata struct {
	Name        string
	DisplayName string
	RequiresKey bool
}

// ModelConfig describes the limits and capabilities of a specific model.
type ModelConfig struct {
	ModelName        string
	ContextLimit     int
	SupportsStreaming bool
	SupportsThinking  bool
	SupportsCache     bool
	MaxCachePoints    int
}

// CompletionRequest is a provider-agnostic request to generate the next
// assistant turn.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []convo.Message
	Tools        []ToolSpec
	MaxTokens    int
	Temperature  float64
}

// ToolSpec is the provider-facing description of a registered tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte // raw JSON Schema
}

// CompletionResult is a single, non-streamed model response.
type CompletionResult struct {
	Message convo.Message
	Usage   convo.Usage
	StopReason string
}

// StreamEvent is one frame of a streamed completion.
type StreamEvent struct {
	TextDelta       string
	ToolCallID      string
	ToolCallName    string
	ToolCallArgsFrag string
	ThinkingDelta   string
	Usage           *convo.Usage
	Done            bool
	StopReason      string
}

// Provider is implemented by every language-model backend. Methods accept
// a context so callers can cancel in-flight requests at any I/O boundary.
type Provider interface {
	Metadata() Metadata
	GetModelConfig(model string) (ModelConfig, error)
	CompleteWithModel(ctx context.Context, model string, req CompletionRequest) (CompletionResult, error)
	SupportsStreaming(model string) bool
	Stream(ctx context.Context, model string, req CompletionRequest) (<-chan StreamEvent, error)
	FetchSupportedModels(ctx context.Context) ([]string, error)
	ConfigureOAuth(ctx context.Context) error
}

// AllocateCachePoints decides which message indices in msgs should carry a
// prompt-cache breakpoint, given a provider-specific maximum number of
// points. One point always covers the system prompt (index -1, signaled
// via systemPromptPresent); remaining points go to the most recent
// messages first, since those are least likely to be evicted from the
// cache before the next turn. Tool specs are never cache points.
func AllocateCachePoints(systemPromptPresent bool, messageCount, maxPoints int) []int {
	if maxPoints <= 0 {
		return nil
	}
	points := make([]int, 0, maxPoints)
	remaining := maxPoints
	if systemPromptPresent {
		remaining--
	}
	if remaining < 0 {
		remaining = 0
	}
	for i := messageCount - 1; i >= 0 && len(points) < remaining; i-- {
		points = append(points, i)
	}
	return points
}
