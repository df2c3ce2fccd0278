package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/agentrt/core/internal/agentcore"
	"github.com/agentrt/core/pkg/convo"
)

// memStore is a minimal in-memory Store used only to exercise LoopAdapter
// without a real database.
type memStore struct {
	sessions map[string]*Session
	messages map[string][]convo.Message
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*Session{}, messages: map[string][]convo.Message{}}
}

func (m *memStore) CreateSession(ctx context.Context, session *Session) error {
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id string, includeMessages bool) (*Session, []convo.Message, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil, nil
	}
	cp := *s
	if !includeMessages {
		return &cp, nil, nil
	}
	return &cp, append([]convo.Message(nil), m.messages[id]...), nil
}

func (m *memStore) ApplyUpdate(ctx context.Context, id string, update SessionUpdate) error {
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if update.Name != nil {
		s.Name = *update.Name
	}
	if update.UserSetName != nil {
		s.UserSetName = *update.UserSetName
	}
	if update.ProviderName != nil {
		s.ProviderName = *update.ProviderName
	}
	if update.ModelConfig != nil {
		s.ModelConfig = update.ModelConfig
	}
	return nil
}

func (m *memStore) DeleteSession(ctx context.Context, id string) error {
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) ListSessionsByTypes(ctx context.Context, opts ListOptions) ([]*Session, error) {
	return nil, nil
}

func (m *memStore) AddMessage(ctx context.Context, sessionID string, msg convo.Message) error {
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return nil
}

func (m *memStore) ReplaceConversation(ctx context.Context, sessionID string, conv *convo.Conversation) error {
	if conv == nil {
		m.messages[sessionID] = nil
		return nil
	}
	m.messages[sessionID] = append([]convo.Message(nil), conv.Messages()...)
	return nil
}

func (m *memStore) TruncateConversation(ctx context.Context, sessionID string, since time.Time) error {
	return nil
}

func (m *memStore) GetMessageMetadata(ctx context.Context, sessionID, messageID, key string) (string, bool, error) {
	return "", false, nil
}

func (m *memStore) SetMessageMetadata(ctx context.Context, sessionID, messageID, key, value string) error {
	return nil
}

func (m *memStore) GetInsights(ctx context.Context) (Insights, error) { return Insights{}, nil }
func (m *memStore) HealthCheck(ctx context.Context) error             { return nil }
func (m *memStore) SearchChatHistory(ctx context.Context, query string, opts SearchOptions) ([]SearchMatch, error) {
	return nil, nil
}

func TestLoopAdapter_EnsureThenGetRoundTrips(t *testing.T) {
	store := newMemStore()
	adapter := NewLoopAdapter(store)
	ctx := context.Background()

	s := &agentcore.Session{
		ID:           "20260730_1",
		Provider:     "anthropic",
		Model:        "claude-test",
		SystemPrompt: "be terse",
		Config:       agentcore.SessionConfig{MaxTurns: 10, EnableStreaming: false},
		Conversation: convo.New(convo.NewUserMessage("hi")),
		Created:      time.Now().UTC(),
	}
	if err := adapter.EnsureSession(ctx, s, TypeUser); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	got, err := adapter.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SystemPrompt != "be terse" || got.Config.MaxTurns != 10 || got.Config.EnableStreaming {
		t.Fatalf("unexpected round-tripped session: %+v", got)
	}
	if got.Conversation.Len() != 1 || got.Conversation.Messages()[0].Text() != "hi" {
		t.Fatalf("conversation did not seed correctly: %+v", got.Conversation)
	}
}

func TestLoopAdapter_UpdateAndAppend(t *testing.T) {
	store := newMemStore()
	adapter := NewLoopAdapter(store)
	ctx := context.Background()

	s := &agentcore.Session{ID: "20260730_2", Provider: "anthropic", Model: "claude-test"}
	if err := adapter.EnsureSession(ctx, s, TypeUser); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	if err := adapter.AppendMessage(ctx, s.ID, convo.NewUserMessage("hello")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	s.Name = "renamed"
	if err := adapter.Update(ctx, s); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := adapter.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "renamed" {
		t.Fatalf("expected renamed session, got %+v", got)
	}
	if got.Conversation.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", got.Conversation.Len())
	}
}
