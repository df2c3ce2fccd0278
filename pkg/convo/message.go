// Package convo implements the content-block conversation model shared by
// the agent core, providers, and session store: messages are trees of typed
// content blocks rather than flat strings, carrying independent
// agent/user visibility flags per block.
package convo

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind discriminates ContentBlock variants for JSON (de)serialization.
type Kind string

const (
	KindText                    Kind = "text"
	KindImage                   Kind = "image"
	KindThinking                Kind = "thinking"
	KindRedactedThinking        Kind = "redactedThinking"
	KindToolRequest              Kind = "toolRequest"
	KindToolResponse              Kind = "toolResponse"
	KindToolConfirmationRequest  Kind = "toolConfirmationRequest"
	KindFrontendToolRequest      Kind = "frontendToolRequest"
	KindSystemNotification       Kind = "systemNotification"
)

// ContentBlock is implemented by every message content variant.
type ContentBlock interface {
	Kind() Kind
}

// Text is a plain text block.
type Text struct {
	Text string `json:"text"`
}

func (Text) Kind() Kind { return KindText }

// Image is an inline base64-encoded image.
type Image struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (Image) Kind() Kind { return KindImage }

// Thinking is a provider's visible chain-of-thought block; it carries a
// signature some providers require to be echoed back verbatim on the next
// turn.
type Thinking struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

func (Thinking) Kind() Kind { return KindThinking }

// RedactedThinking is an opaque, provider-encrypted thinking block that
// must be echoed back byte-for-byte without inspection.
type RedactedThinking struct {
	Data string `json:"data"`
}

func (RedactedThinking) Kind() Kind { return KindRedactedThinking }

// ToolRequest is an assistant's request to invoke a tool.
type ToolRequest struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
}

func (ToolRequest) Kind() Kind { return KindToolRequest }

// ToolResponse carries the result of a ToolRequest, matched by ID.
type ToolResponse struct {
	ID       string         `json:"id"`
	Content  []ContentBlock `json:"content"`
	IsError  bool           `json:"isError,omitempty"`
}

func (ToolResponse) Kind() Kind { return KindToolResponse }

// ToolConfirmationRequest asks the user to approve a pending tool call
// before it runs.
type ToolConfirmationRequest struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
	Prompt    string          `json:"prompt,omitempty"`
}

func (ToolConfirmationRequest) Kind() Kind { return KindToolConfirmationRequest }

// FrontendToolRequest is a tool call meant to be executed by the client
// surface (e.g. a browser extension) rather than the agent runtime.
type FrontendToolRequest struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
}

func (FrontendToolRequest) Kind() Kind { return KindFrontendToolRequest }

// SystemNotification is an out-of-band note (e.g. "context was
// compacted") surfaced to the user but never sent to the provider.
type SystemNotification struct {
	Text string `json:"text"`
}

func (SystemNotification) Kind() Kind { return KindSystemNotification }

// Usage tallies token accounting for a single completion call.
type Usage struct {
	InputTokens              int `json:"inputTokens"`
	OutputTokens             int `json:"outputTokens"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens,omitempty"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens,omitempty"`
}

// Add accumulates other into u and returns the sum.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens + other.InputTokens,
		OutputTokens:             u.OutputTokens + other.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens + other.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens + other.CacheReadInputTokens,
	}
}

// Total returns input+output tokens, the figure Session insights report.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Metadata carries per-message visibility flags and free-form tags.
type Metadata struct {
	AgentVisible bool     `json:"agentVisible"`
	UserVisible  bool     `json:"userVisible"`
	Tags         []string `json:"tags,omitempty"`
}

// DefaultMetadata is visible to both the agent and the user, the common
// case for ordinary turns.
func DefaultMetadata() Metadata {
	return Metadata{AgentVisible: true, UserVisible: true}
}

// Message is a single turn: a role, a list of content blocks, and
// visibility metadata.
type Message struct {
	ID       string         `json:"id,omitempty"`
	Role     Role           `json:"role"`
	Created  time.Time      `json:"created"`
	Content  []ContentBlock `json:"content"`
	Metadata Metadata       `json:"metadata"`
}

// NewUserMessage builds a user message with default visibility from plain
// text.
func NewUserMessage(text string) Message {
	return Message{
		Role:     RoleUser,
		Created:  time.Now().UTC(),
		Content:  []ContentBlock{Text{Text: text}},
		Metadata: DefaultMetadata(),
	}
}

// NewAssistantMessage builds an assistant message with default visibility
// from plain text.
func NewAssistantMessage(text string) Message {
	return Message{
		Role:     RoleAssistant,
		Created:  time.Now().UTC(),
		Content:  []ContentBlock{Text{Text: text}},
		Metadata: DefaultMetadata(),
	}
}

// HasToolRequest reports whether m carries at least one ToolRequest block.
func (m Message) HasToolRequest() bool {
	for _, c := range m.Content {
		if _, ok := c.(ToolRequest); ok {
			return true
		}
	}
	return false
}

// HasToolResponse reports whether m carries at least one ToolResponse
// block.
func (m Message) HasToolResponse() bool {
	for _, c := range m.Content {
		if _, ok := c.(ToolResponse); ok {
			return true
		}
	}
	return false
}

// HasOnlyToolResponses reports whether every content block in m is a
// ToolResponse — used to compute EffectiveRole.
func (m Message) HasOnlyToolResponses() bool {
	found := false
	for _, c := range m.Content {
		if _, ok := c.(ToolResponse); !ok {
			return false
		}
		found = true
	}
	return found
}

// EffectiveRole returns "tool" for a user message whose content is
// entirely tool responses (it behaves like a tool-turn for adjacency
// merging), and the literal role otherwise.
func (m Message) EffectiveRole() string {
	if m.Role == RoleUser && m.HasOnlyToolResponses() {
		return "tool"
	}
	return string(m.Role)
}

// IsEmpty reports whether m carries no content blocks at all.
func (m Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// Text concatenates all Text blocks in m, in order, separated by newlines.
func (m Message) Text() string {
	var out string
	for _, c := range m.Content {
		if t, ok := c.(Text); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

// blockEnvelope is the wire form of a ContentBlock: a type tag plus the
// block's own fields inlined.
type blockEnvelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// MarshalJSON encodes the message, flattening each content block's type
// tag alongside its fields.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID       string            `json:"id,omitempty"`
		Role     Role              `json:"role"`
		Created  time.Time         `json:"created"`
		Content  []json.RawMessage `json:"content"`
		Metadata Metadata          `json:"metadata"`
	}
	a := alias{ID: m.ID, Role: m.Role, Created: m.Created, Metadata: m.Metadata}
	for _, c := range m.Content {
		raw, err := marshalBlock(c)
		if err != nil {
			return nil, err
		}
		a.Content = append(a.Content, raw)
	}
	return json.Marshal(a)
}

// UnmarshalJSON decodes the message, dispatching each content block by its
// "type" tag.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID       string            `json:"id,omitempty"`
		Role     Role              `json:"role"`
		Created  time.Time         `json:"created"`
		Content  []json.RawMessage `json:"content"`
		Metadata Metadata          `json:"metadata"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.ID, m.Role, m.Created, m.Metadata = a.ID, a.Role, a.Created, a.Metadata
	m.Content = nil
	for _, raw := range a.Content {
		block, err := unmarshalBlock(raw)
		if err != nil {
			return err
		}
		m.Content = append(m.Content, block)
	}
	return nil
}

func marshalBlock(c ContentBlock) (json.RawMessage, error) {
	fields, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, err
	}
	typeTag, _ := json.Marshal(string(c.Kind()))
	m["type"] = typeTag
	return json.Marshal(m)
}

func unmarshalBlock(raw json.RawMessage) (ContentBlock, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}
	switch Kind(tag.Type) {
	case KindText:
		var v Text
		return v, json.Unmarshal(raw, &v)
	case KindImage:
		var v Image
		return v, json.Unmarshal(raw, &v)
	case KindThinking:
		var v Thinking
		return v, json.Unmarshal(raw, &v)
	case KindRedactedThinking:
		var v RedactedThinking
		return v, json.Unmarshal(raw, &v)
	case KindToolRequest:
		var v ToolRequest
		return v, json.Unmarshal(raw, &v)
	case KindToolResponse:
		var v toolResponseWire
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		content := make([]ContentBlock, 0, len(v.Content))
		for _, r := range v.Content {
			b, err := unmarshalBlock(r)
			if err != nil {
				return nil, err
			}
			content = append(content, b)
		}
		return ToolResponse{ID: v.ID, Content: content, IsError: v.IsError}, nil
	case KindToolConfirmationRequest:
		var v ToolConfirmationRequest
		return v, json.Unmarshal(raw, &v)
	case KindFrontendToolRequest:
		var v FrontendToolRequest
		return v, json.Unmarshal(raw, &v)
	case KindSystemNotification:
		var v SystemNotification
		return v, json.Unmarshal(raw, &v)
	default:
		return nil, fmt.Errorf("convo: unknown content block type %q", tag.Type)
	}
}

type toolResponseWire struct {
	ID      string            `json:"id"`
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError,omitempty"`
}
