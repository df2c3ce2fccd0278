package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/internal/toolregistry"
	"github.com/agentrt/core/pkg/convo"
)

// fakeProvider drives a scripted sequence of non-streaming completions,
// one per call to CompleteWithModel.
type fakeProvider struct {
	responses []providers.CompletionResult
	errs      []error
	call      int
	streaming bool
}

func (p *fakeProvider) Metadata() providers.Metadata { return providers.Metadata{Name: "fake"} }
func (p *fakeProvider) GetModelConfig(model string) (providers.ModelConfig, error) {
	return providers.ModelConfig{ModelName: model}, nil
}
func (p *fakeProvider) SupportsStreaming(model string) bool { return p.streaming }
func (p *fakeProvider) FetchSupportedModels(ctx context.Context) ([]string, error) { return nil, nil }
func (p *fakeProvider) ConfigureOAuth(ctx context.Context) error                   { return nil }

func (p *fakeProvider) CompleteWithModel(ctx context.Context, model string, req providers.CompletionRequest) (providers.CompletionResult, error) {
	idx := p.call
	p.call++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return providers.CompletionResult{}, p.errs[idx]
	}
	if idx < len(p.responses) {
		return p.responses[idx], nil
	}
	return providers.CompletionResult{Message: convo.NewAssistantMessage("done")}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, model string, req providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	return nil, errors.New("streaming not supported by fakeProvider")
}

// memStore is an in-memory SessionStore for tests.
type memStore struct {
	sessions map[string]*Session
}

func newMemStore(s *Session) *memStore {
	return &memStore{sessions: map[string]*Session{s.ID: s}}
}

func (m *memStore) Get(ctx context.Context, id string) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return s, nil
}
func (m *memStore) Update(ctx context.Context, s *Session) error {
	m.sessions[s.ID] = s
	return nil
}
func (m *memStore) AppendMessage(ctx context.Context, sessionID string, msg convo.Message) error {
	return nil
}
func (m *memStore) ReplaceConversation(ctx context.Context, sessionID string, conv *convo.Conversation) error {
	return nil
}

func newTestSession() *Session {
	return &Session{
		ID:           "sess-1",
		Conversation: convo.Empty(),
		Config:       SessionConfig{MaxTurns: 5},
	}
}

func drain(t *testing.T, ch <-chan AgentEvent) []AgentEvent {
	t.Helper()
	var out []AgentEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

func TestReply_NoToolCallSettlesImmediately(t *testing.T) {
	session := newTestSession()
	provider := &fakeProvider{responses: []providers.CompletionResult{
		{Message: convo.NewAssistantMessage("hello there")},
	}}
	loop := New(provider, nil, newMemStore(session), nil)

	ch, err := loop.Reply(context.Background(), session.ID, convo.NewUserMessage("hi"))
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	events := drain(t, ch)

	var sawMessage, sawComplete bool
	for _, e := range events {
		switch e.Type {
		case EventMessage:
			sawMessage = true
			if e.Message.Text() != "hello there" {
				t.Errorf("unexpected message text: %q", e.Message.Text())
			}
		case EventTurnComplete:
			sawComplete = true
			if e.Turn != 1 {
				t.Errorf("expected turn 1, got %d", e.Turn)
			}
		case EventError:
			t.Errorf("unexpected error event: %v", e.Err)
		}
	}
	if !sawMessage || !sawComplete {
		t.Fatalf("expected a Message and TurnComplete event, got %+v", events)
	}
}

func TestReply_ToolCallLoopsThenSettles(t *testing.T) {
	session := newTestSession()
	toolCallMsg := convo.Message{
		Role:     convo.RoleAssistant,
		Metadata: convo.DefaultMetadata(),
		Content: []convo.ContentBlock{
			convo.ToolRequest{ID: "call-1", ToolName: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)},
		},
	}
	provider := &fakeProvider{responses: []providers.CompletionResult{
		{Message: toolCallMsg},
		{Message: convo.NewAssistantMessage("the tool said: hi")},
	}}

	reg := toolregistry.New()
	_ = reg.Register(toolregistry.Tool{
		Name:   "echo",
		Schema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args json.RawMessage) ([]convo.ContentBlock, error) {
			return []convo.ContentBlock{convo.Text{Text: "hi"}}, nil
		},
	})

	loop := New(provider, reg, newMemStore(session), nil)
	ch, err := loop.Reply(context.Background(), session.ID, convo.NewUserMessage("echo hi"))
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	events := drain(t, ch)

	turns := 0
	for _, e := range events {
		if e.Type == EventTurnComplete {
			turns++
		}
		if e.Type == EventError {
			t.Fatalf("unexpected error: %v", e.Err)
		}
	}
	if turns != 1 {
		t.Fatalf("expected exactly one TurnComplete across the whole tool round trip, got %d", turns)
	}
	if provider.call != 2 {
		t.Fatalf("expected provider called twice (tool round + follow-up), got %d", provider.call)
	}
}

func TestReply_MaxTurnsSynthesizesTruncationNotice(t *testing.T) {
	session := newTestSession()
	session.Config.MaxTurns = 1

	toolCallMsg := convo.Message{
		Role:     convo.RoleAssistant,
		Metadata: convo.DefaultMetadata(),
		Content: []convo.ContentBlock{
			convo.ToolRequest{ID: "call-1", ToolName: "loop", Arguments: json.RawMessage(`{}`)},
		},
	}
	provider := &fakeProvider{responses: []providers.CompletionResult{
		{Message: toolCallMsg},
		{Message: toolCallMsg},
	}}
	reg := toolregistry.New()
	_ = reg.Register(toolregistry.Tool{
		Name:   "loop",
		Schema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args json.RawMessage) ([]convo.ContentBlock, error) {
			return []convo.ContentBlock{convo.Text{Text: "again"}}, nil
		},
	})

	loop := New(provider, reg, newMemStore(session), nil)
	ch, err := loop.Reply(context.Background(), session.ID, convo.NewUserMessage("go"))
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	events := drain(t, ch)

	var sawTruncation bool
	for _, e := range events {
		if e.Type == EventMessage && e.Message.Text() == truncationNotice {
			sawTruncation = true
		}
	}
	if !sawTruncation {
		t.Fatalf("expected a truncation-notice message once MaxTurns was exceeded, got %+v", events)
	}
}

func TestReply_NonRetryableProviderErrorEndsTurn(t *testing.T) {
	session := newTestSession()
	provider := &fakeProvider{errs: []error{
		providers.New("fake", providers.KindAuthentication, errors.New("bad key")),
	}}
	loop := New(provider, nil, newMemStore(session), nil)

	ch, err := loop.Reply(context.Background(), session.ID, convo.NewUserMessage("hi"))
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	events := drain(t, ch)

	var sawError bool
	for _, e := range events {
		if e.Type == EventError {
			sawError = true
			if !e.Fatal {
				t.Errorf("expected fatal error event")
			}
		}
		if e.Type == EventTurnComplete {
			t.Errorf("should not reach TurnComplete after a fatal provider error")
		}
	}
	if !sawError {
		t.Fatalf("expected an Error event, got %+v", events)
	}
	if provider.call != 1 {
		t.Errorf("authentication errors must not be retried, got %d calls", provider.call)
	}
}
