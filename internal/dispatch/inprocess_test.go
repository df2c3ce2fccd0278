package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/agentrt/core/internal/agentcore"
	"github.com/agentrt/core/internal/pool"
	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/pkg/convo"
)

// singleTurnProvider always answers with a fixed text completion,
// enough to drive InProcessDispatcher through a no-tool-call turn.
type singleTurnProvider struct {
	text string
}

func (p *singleTurnProvider) Metadata() providers.Metadata { return providers.Metadata{Name: "fake"} }
func (p *singleTurnProvider) GetModelConfig(model string) (providers.ModelConfig, error) {
	return providers.ModelConfig{ModelName: model}, nil
}
func (p *singleTurnProvider) SupportsStreaming(model string) bool { return false }
func (p *singleTurnProvider) FetchSupportedModels(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (p *singleTurnProvider) ConfigureOAuth(ctx context.Context) error { return nil }
func (p *singleTurnProvider) CompleteWithModel(ctx context.Context, model string, req providers.CompletionRequest) (providers.CompletionResult, error) {
	return providers.CompletionResult{Message: convo.NewAssistantMessage(p.text)}, nil
}
func (p *singleTurnProvider) Stream(ctx context.Context, model string, req providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	return nil, errors.New("streaming not supported")
}

type memStore struct {
	sessions map[string]*agentcore.Session
}

func newMemStore() *memStore { return &memStore{sessions: map[string]*agentcore.Session{}} }

func (m *memStore) Get(ctx context.Context, id string) (*agentcore.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}
func (m *memStore) Update(ctx context.Context, s *agentcore.Session) error {
	m.sessions[s.ID] = s
	return nil
}
func (m *memStore) AppendMessage(ctx context.Context, sessionID string, msg convo.Message) error {
	return nil
}
func (m *memStore) ReplaceConversation(ctx context.Context, sessionID string, conv *convo.Conversation) error {
	return nil
}

func TestInProcessDispatcher_RunsSubTaskThroughReplyLoop(t *testing.T) {
	provider := &singleTurnProvider{text: "the answer is 42"}
	store := newMemStore()
	loop := agentcore.New(provider, nil, store, nil)
	p := pool.New(4)
	d := NewInProcessDispatcher(p, loop, store)

	task := SubTask{
		TaskID:             "calc-1",
		SubTaskDescription: "what is the answer",
		Routing:            RoutingDecision{AgentName: "mathematician"},
	}
	result := d.DispatchOne(context.Background(), task, Strategy{Kind: InProcessSpecialist})

	if result.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %v (err=%q)", result.Status, result.Err)
	}
	if result.Output != "the answer is 42" {
		t.Errorf("unexpected output: %q", result.Output)
	}
	if result.AgentName != "mathematician" {
		t.Errorf("unexpected agent name: %q", result.AgentName)
	}
}
