package sessionstore

import (
	"context"
	"fmt"
	"time"

	"github.com/agentrt/core/internal/agentcore"
	"github.com/agentrt/core/pkg/convo"
)

// LoopAdapter satisfies agentcore.SessionStore over a Store, translating
// between the loop's narrow Session view and the store's richer
// persisted Session record. SystemPrompt and the turn-budget config
// don't have dedicated columns in Session; they round-trip through
// ExtensionData, the field the store contract reserves for exactly this
// kind of caller-owned extensibility.
type LoopAdapter struct {
	Store Store
}

const (
	extKeySystemPrompt    = "agentcore_system_prompt"
	extKeyMaxTurns        = "agentcore_max_turns"
	extKeyEnableStreaming = "agentcore_enable_streaming"
)

// NewLoopAdapter wraps store so it satisfies agentcore.SessionStore.
func NewLoopAdapter(store Store) *LoopAdapter {
	return &LoopAdapter{Store: store}
}

// Get loads a session and its full conversation.
func (a *LoopAdapter) Get(ctx context.Context, id string) (*agentcore.Session, error) {
	session, msgs, err := a.Store.GetSession(ctx, id, true)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: get for loop: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("sessionstore: session %q not found", id)
	}
	return toLoopSession(session, msgs), nil
}

// Update persists the loop's view of a session back onto the store. A
// session the store has never seen is created first (as a sub-agent
// session, matching the dispatcher's use of Update to materialize a
// fresh per-sub-task session); an existing one has its name, provider,
// and model config patched in place. Token totals are the store's own
// bookkeeping via AddMessage; the system-prompt/config pair set at
// creation (see EnsureSession) is treated as immutable thereafter, so it
// isn't re-written here.
func (a *LoopAdapter) Update(ctx context.Context, s *agentcore.Session) error {
	existing, _, err := a.Store.GetSession(ctx, s.ID, false)
	if err != nil {
		return fmt.Errorf("sessionstore: check existing session: %w", err)
	}
	if existing == nil {
		return a.EnsureSession(ctx, s, TypeSubAgent)
	}

	provider := s.Provider
	name := s.Name
	userSet := s.NameIsUserSet
	modelConfig := &ModelConfig{ModelName: s.Model}

	if err := a.Store.ApplyUpdate(ctx, s.ID, SessionUpdate{
		Name:         &name,
		UserSetName:  &userSet,
		ProviderName: &provider,
		ModelConfig:  modelConfig,
	}); err != nil {
		return fmt.Errorf("sessionstore: apply loop update: %w", err)
	}
	return nil
}

// AppendMessage persists one new message onto the session's conversation.
func (a *LoopAdapter) AppendMessage(ctx context.Context, sessionID string, msg convo.Message) error {
	if err := a.Store.AddMessage(ctx, sessionID, msg); err != nil {
		return fmt.Errorf("sessionstore: append message for loop: %w", err)
	}
	return nil
}

// ReplaceConversation swaps a session's conversation wholesale.
func (a *LoopAdapter) ReplaceConversation(ctx context.Context, sessionID string, conv *convo.Conversation) error {
	if err := a.Store.ReplaceConversation(ctx, sessionID, conv); err != nil {
		return fmt.Errorf("sessionstore: replace conversation for loop: %w", err)
	}
	return nil
}

// EnsureSession creates a fresh store-backed session for a loop-level
// Session that doesn't exist yet (the loop's Get failing is the usual
// trigger), seeding ExtensionData with the system prompt and config.
func (a *LoopAdapter) EnsureSession(ctx context.Context, s *agentcore.Session, sessionType SessionType) error {
	return a.ensureSession(ctx, s, sessionType, "")
}

// EnsureScheduledSession is EnsureSession for a job-driven run: it stamps
// the persisted session with scheduleID so history queries filtered by
// schedule can find it.
func (a *LoopAdapter) EnsureScheduledSession(ctx context.Context, s *agentcore.Session, scheduleID string) error {
	return a.ensureSession(ctx, s, TypeScheduled, scheduleID)
}

func (a *LoopAdapter) ensureSession(ctx context.Context, s *agentcore.Session, sessionType SessionType, scheduleID string) error {
	now := s.Created
	if now.IsZero() {
		now = time.Now().UTC()
	}
	session := &Session{
		ID:           s.ID,
		Name:         s.Name,
		UserSetName:  s.NameIsUserSet,
		SessionType:  sessionType,
		CreatedAt:    now,
		UpdatedAt:    now,
		ProviderName: s.Provider,
		ScheduleID:   scheduleID,
		ModelConfig:  &ModelConfig{ModelName: s.Model},
		ExtensionData: map[string]any{
			extKeySystemPrompt:    s.SystemPrompt,
			extKeyMaxTurns:        s.Config.MaxTurns,
			extKeyEnableStreaming: s.Config.EnableStreaming,
		},
	}
	if err := a.Store.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("sessionstore: ensure session: %w", err)
	}
	if s.Conversation != nil && !s.Conversation.IsEmpty() {
		if err := a.Store.ReplaceConversation(ctx, s.ID, s.Conversation); err != nil {
			return fmt.Errorf("sessionstore: seed conversation: %w", err)
		}
	}
	return nil
}

func toLoopSession(session *Session, msgs []convo.Message) *agentcore.Session {
	out := &agentcore.Session{
		ID:            session.ID,
		Name:          session.Name,
		NameIsUserSet: session.UserSetName,
		Provider:      session.ProviderName,
		Conversation:  convo.New(msgs...),
		Config:        agentcore.DefaultSessionConfig(),
		Created:       session.CreatedAt,
		Updated:       session.UpdatedAt,
	}
	if session.ModelConfig != nil {
		out.Model = session.ModelConfig.ModelName
	}
	if v, ok := session.ExtensionData[extKeySystemPrompt].(string); ok {
		out.SystemPrompt = v
	}
	if n, ok := asInt(session.ExtensionData[extKeyMaxTurns]); ok {
		out.Config.MaxTurns = n
	}
	if v, ok := session.ExtensionData[extKeyEnableStreaming].(bool); ok {
		out.Config.EnableStreaming = v
	}
	return out
}

// asInt accepts the numeric shapes a round trip through either JSON
// (float64) or BSON (int32/int64) may produce for a stored int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
