package agentcore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentrt/core/internal/toolregistry"
	"github.com/agentrt/core/pkg/convo"
)

// maxUserMessagesForAutoName bounds how long a session stays eligible for
// an automatic name: once more than this many user-role messages have
// accumulated, the first impression has passed and a user-set name (or no
// name at all) is left alone.
const maxUserMessagesForAutoName = 3

// Session is the in-memory view of a session the reply loop drives. A
// concrete sessionstore implementation owns persistence; Session is the
// value that flows between the store and the loop.
type Session struct {
	ID            string
	Name          string
	NameIsUserSet bool
	Provider      string
	Model         string
	SystemPrompt  string
	Conversation  *convo.Conversation
	TotalUsage    convo.Usage
	Config        SessionConfig
	Created       time.Time
	Updated       time.Time
}

// SessionConfig bounds one session's reply loop.
type SessionConfig struct {
	// MaxTurns caps the number of provider round-trips a single Reply call
	// may take before the loop synthesizes a truncation notice and stops.
	MaxTurns int

	// EnableStreaming prefers the provider's streaming path when true and
	// the provider supports it.
	EnableStreaming bool
}

// DefaultSessionConfig returns the loop's default turn budget.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{MaxTurns: 25, EnableStreaming: true}
}

// SessionStore is the narrow slice of the session store (C5) the reply
// loop needs: reading a session, persisting appended messages, and
// replacing the conversation wholesale after a rewrite (summarization,
// fix-up, truncation).
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	AppendMessage(ctx context.Context, sessionID string, msg convo.Message) error
	ReplaceConversation(ctx context.Context, sessionID string, conv *convo.Conversation) error
}

// NamingProvider is the minimal provider capability the naming auto-update
// step needs: a short, non-streaming completion asked to name the chat.
type NamingProvider interface {
	SuggestName(ctx context.Context, conv *convo.Conversation) (string, error)
}

// Registry is the tool lookup the reply loop dispatches tool requests
// through; toolregistry.Registry satisfies it.
type Registry interface {
	Call(ctx context.Context, toolID, name string, args json.RawMessage) convo.ToolResponse
	Specs() []toolregistry.ToolSpec
}
