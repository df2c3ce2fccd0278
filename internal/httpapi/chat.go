package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/pkg/convo"
)

// chatMessage is one OpenAI chat message, request or response side.
type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function chatFunctionDef `json:"function"`
}

type chatFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	ForceNonStream bool          `json:"force_non_stream"`
	Tools          []chatTool    `json:"tools,omitempty"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []chatChunkChoice `json:"choices"`
	Usage   *chatUsage        `json:"usage,omitempty"`
}

type chatChunkChoice struct {
	Index        int         `json:"index"`
	Delta        chatDelta   `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type chatDelta struct {
	Role      string              `json:"role,omitempty"`
	Content   string              `json:"content,omitempty"`
	ToolCalls []chatToolCallDelta `json:"tool_calls,omitempty"`
}

type chatToolCallDelta struct {
	Index    int                  `json:"index"`
	ID       string               `json:"id,omitempty"`
	Type     string               `json:"type,omitempty"`
	Function *chatFunctionDelta   `json:"function,omitempty"`
}

type chatFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

var inlineToolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// inlineToolCall is one <tool_call>{"name":...,"arguments":...}</tool_call>
// match stripped out of a backend's plain-text content.
type inlineToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// extractInlineToolCalls strips every <tool_call>...</tool_call> tag from
// text and returns the remaining content plus the parsed calls, for
// backends that emit tool calls as inline text rather than structured
// events.
func extractInlineToolCalls(text string) (string, []inlineToolCall) {
	matches := inlineToolCallPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	calls := make([]inlineToolCall, 0, len(matches))
	for _, m := range matches {
		var call inlineToolCall
		if err := json.Unmarshal([]byte(m[1]), &call); err == nil {
			calls = append(calls, call)
		}
	}
	stripped := inlineToolCallPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(stripped), calls
}

// handleChatCompletions implements POST /v1/chat/completions: an
// OpenAI-compatible single-turn proxy over one providers.Provider call,
// not the full multi-turn agent loop — a chat-completions caller owns its
// own history and tool-call bookkeeping, the way any OpenAI-compatible
// gateway treats this endpoint as a stateless completion, not a session.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON body: "+err.Error())
		return
	}

	providerName, modelName, err := s.resolveModel(req.Model)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	provider, err := s.providerFor(r.Context(), providerName)
	if err != nil {
		writeError(w, err)
		return
	}

	compReq := providers.CompletionRequest{
		Messages:    toConvoMessages(req.Messages),
		Tools:       toProviderTools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	id := "chatcmpl-" + s.now().Format("20060102T150405.000000000")
	created := s.now().Unix()

	wantsStream := req.Stream && !req.ForceNonStream
	if !wantsStream {
		s.completeNonStreaming(w, r.Context(), provider, modelName, compReq, id, created, req.Stream)
		return
	}

	s.completeStreaming(w, r.Context(), provider, modelName, compReq, id, created)
}

func (s *Server) completeNonStreaming(w http.ResponseWriter, ctx context.Context, provider providers.Provider, model string, req providers.CompletionRequest, id string, created int64, wrapAsSSE bool) {
	result, err := provider.CompleteWithModel(ctx, model, req)
	if err != nil {
		writeError(w, err)
		return
	}

	content, toolCalls := messageToChat(result.Message)

	if !wrapAsSSE {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			ID:      id,
			Object:  "chat.completion",
			Created: created,
			Model:   model,
			Choices: []chatChoice{{
				Index:        0,
				Message:      chatMessage{Role: "assistant", Content: content, ToolCalls: toolCalls},
				FinishReason: finishReason(result.StopReason, len(toolCalls) > 0),
			}},
			Usage: toChatUsage(result.Usage),
		})
		return
	}

	// force_non_stream: re-wrap the non-streaming call as an SSE sequence —
	// role chunk, content chunk, one two-stage pair per tool call, a
	// finish+usage chunk, then [DONE].
	sse, err := newSSEWriter(w)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{Role: "assistant"}}}})
	if content != "" {
		_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{Content: content}}}})
	}
	for i, tc := range toolCalls {
		sendToolCallChunks(sse, id, created, model, i, tc)
	}
	finish := finishReason(result.StopReason, len(toolCalls) > 0)
	usage := toChatUsage(result.Usage)
	_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{}, FinishReason: &finish}}, Usage: &usage})
	sse.done()
}

func (s *Server) completeStreaming(w http.ResponseWriter, ctx context.Context, provider providers.Provider, model string, req providers.CompletionRequest, id string, created int64) {
	if !provider.SupportsStreaming(model) {
		s.completeNonStreaming(w, ctx, provider, model, req, id, created, true)
		return
	}

	events, err := provider.Stream(ctx, model, req)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{Role: "assistant"}}}})

	var textBuf strings.Builder
	var usage *chatUsage
	toolCallIndex := 0
	finish := "stop"

	for ev := range events {
		switch {
		case ev.ToolCallName != "" && ev.ToolCallArgsFrag == "":
			// First stage: name announced, empty arguments.
			_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{ToolCalls: []chatToolCallDelta{{
					Index: toolCallIndex, ID: ev.ToolCallID, Type: "function",
					Function: &chatFunctionDelta{Name: ev.ToolCallName, Arguments: ""},
				}}}}}})
			finish = "tool_calls"
		case ev.ToolCallArgsFrag != "":
			// Second+ stage: argument fragment chunks.
			_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{ToolCalls: []chatToolCallDelta{{
					Index: toolCallIndex, Function: &chatFunctionDelta{Arguments: ev.ToolCallArgsFrag},
				}}}}}})
		case ev.TextDelta != "":
			textBuf.WriteString(ev.TextDelta)
			content, calls := extractInlineToolCalls(textBuf.String())
			if len(calls) > 0 {
				textBuf.Reset()
				if content != "" {
					_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
						Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{Content: content}}}})
				}
				for _, c := range calls {
					sendToolCallChunks(sse, id, created, model, toolCallIndex, chatToolCall{
						Type: "function", Function: chatFunctionCall{Name: c.Name, Arguments: string(c.Arguments)},
					})
					toolCallIndex++
				}
				finish = "tool_calls"
			} else {
				_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
					Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{Content: ev.TextDelta}}}})
			}
		}
		if ev.Usage != nil {
			u := toChatUsage(*ev.Usage)
			usage = &u
		}
		if ev.StopReason != "" {
			finish = ev.StopReason
		}
	}

	_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{}, FinishReason: &finish}}, Usage: usage})
	sse.done()
}

func sendToolCallChunks(sse *sseWriter, id string, created int64, model string, index int, tc chatToolCall) {
	_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{ToolCalls: []chatToolCallDelta{{
			Index: index, ID: tc.ID, Type: "function",
			Function: &chatFunctionDelta{Name: tc.Function.Name, Arguments: ""},
		}}}}}})
	_ = sse.send(chatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{ToolCalls: []chatToolCallDelta{{
			Index: index, Function: &chatFunctionDelta{Arguments: tc.Function.Arguments},
		}}}}}})
}

func finishReason(stopReason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	if stopReason != "" {
		return stopReason
	}
	return "stop"
}

func toChatUsage(u convo.Usage) chatUsage {
	return chatUsage{PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens, TotalTokens: u.Total()}
}

func messageToChat(m convo.Message) (string, []chatToolCall) {
	var content strings.Builder
	var calls []chatToolCall
	for _, block := range m.Content {
		switch b := block.(type) {
		case convo.Text:
			content.WriteString(b.Text)
		case convo.ToolRequest:
			calls = append(calls, chatToolCall{
				ID: b.ID, Type: "function",
				Function: chatFunctionCall{Name: b.ToolName, Arguments: string(b.Arguments)},
			})
		}
	}
	return content.String(), calls
}

// toConvoMessages translates an OpenAI chat history into the content-block
// conversation model: assistant tool_calls become ToolRequest blocks, and
// a "tool" role message (itself keyed by tool_call_id) becomes a user
// message carrying a single ToolResponse block, matching how
// Message.EffectiveRole treats an all-ToolResponse user message as a tool
// turn.
func toConvoMessages(msgs []chatMessage) []convo.Message {
	out := make([]convo.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "tool":
			out = append(out, convo.Message{
				Role: convo.RoleUser,
				Content: []convo.ContentBlock{convo.ToolResponse{
					ID:      m.ToolCallID,
					Content: []convo.ContentBlock{convo.Text{Text: m.Content}},
				}},
				Metadata: convo.DefaultMetadata(),
			})
		case "assistant":
			var blocks []convo.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, convo.Text{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, convo.ToolRequest{
					ID: tc.ID, ToolName: tc.Function.Name,
					Arguments: json.RawMessage(tc.Function.Arguments),
				})
			}
			out = append(out, convo.Message{Role: convo.RoleAssistant, Content: blocks, Metadata: convo.DefaultMetadata()})
		default:
			out = append(out, convo.NewUserMessage(m.Content))
		}
	}
	return out
}

func toProviderTools(tools []chatTool) []providers.ToolSpec {
	if len(tools) == 0 {
		return nil
	}
	out := make([]providers.ToolSpec, 0, len(tools))
	for _, t := range tools {
		out = append(out, providers.ToolSpec{
			Name: t.Function.Name, Description: t.Function.Description, Schema: t.Function.Parameters,
		})
	}
	return out
}

// resolveModel splits a "provider/model" id, or (if the request names
// just a model, or nothing at all) falls back to the default provider and
// that provider's default model — the same fallback shape the scheduler
// uses for recipe-driven runs.
func (s *Server) resolveModel(requested string) (providerName, modelName string, err error) {
	providerName, modelName = s.llm.DefaultProvider, ""
	if requested != "" {
		if idx := strings.IndexByte(requested, '/'); idx >= 0 {
			providerName, modelName = requested[:idx], requested[idx+1:]
		} else {
			modelName = requested
		}
	}
	if providerName == "" {
		return "", "", fmt.Errorf("no provider configured; set llm.default_provider or pass \"provider/model\"")
	}
	if modelName == "" {
		modelName = s.llm.Providers[providerName].DefaultModel
	}
	if modelName == "" {
		return "", "", fmt.Errorf("no model configured for provider %q", providerName)
	}
	return providerName, modelName, nil
}

// handleModels implements GET /v1/models: it lists the single configured
// model id, per spec.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	providerName, modelName, err := s.resolveModel("")
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       providerName + "/" + modelName,
			"object":   "model",
			"created":  s.now().Unix(),
			"owned_by": providerName,
		}},
	})
}
