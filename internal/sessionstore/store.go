// Package sessionstore defines the pluggable session-persistence
// contract every backend (embedded SQL, Postgres-flavored SQL, document
// store) implements.
package sessionstore

import (
	"context"
	"strconv"
	"time"

	"github.com/agentrt/core/pkg/convo"
)

// SessionType discriminates why a session exists.
type SessionType string

const (
	TypeUser     SessionType = "user"
	TypeScheduled SessionType = "scheduled"
	TypeSubAgent SessionType = "sub_agent"
	TypeHidden   SessionType = "hidden"
	TypeTerminal SessionType = "terminal"
)

// ModelConfig is the persisted model configuration for a session.
type ModelConfig struct {
	ModelName      string
	ContextLimit   int
	Temperature    *float64
	MaxTokens      *int
	Toolshim       bool
	ToolshimModel  string
}

// Session is the persisted record for one conversation.
type Session struct {
	ID               string
	WorkingDir       string
	Name             string
	UserSetName      bool
	SessionType      SessionType
	CreatedAt        time.Time
	UpdatedAt        time.Time
	TotalTokens      int64
	InputTokens      int64
	OutputTokens     int64
	ScheduleID       string
	Recipe           string
	UserRecipeValues map[string]any
	ProviderName     string
	ModelConfig      *ModelConfig
	ExtensionData    map[string]any
	MessageCount     int
}

// SessionUpdate is a partial update applied to a session's scalar
// fields; nil pointers leave the corresponding field untouched.
type SessionUpdate struct {
	Name         *string
	UserSetName  *bool
	ProviderName *string
	ModelConfig  *ModelConfig
	ScheduleID   *string
}

// ListOptions filters ListSessionsByTypes.
type ListOptions struct {
	Types  []SessionType
	Limit  int
	Offset int
}

// Insights summarizes store-wide usage.
type Insights struct {
	TotalSessions int64
	TotalTokens   int64
}

// SearchMatch is one session's hit in a chat-history search, grouped by
// session with its most recent matching activity.
type SearchMatch struct {
	SessionID    string
	SessionName  string
	Snippet      string
	LastActivity time.Time
}

// SearchOptions narrows a SearchChatHistory call.
type SearchOptions struct {
	Limit         int
	After         *time.Time
	Before        *time.Time
	ExcludeSession string
}

// Store is the pluggable session-persistence contract.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string, includeMessages bool) (*Session, []convo.Message, error)
	ApplyUpdate(ctx context.Context, id string, update SessionUpdate) error
	DeleteSession(ctx context.Context, id string) error
	ListSessionsByTypes(ctx context.Context, opts ListOptions) ([]*Session, error)

	AddMessage(ctx context.Context, sessionID string, msg convo.Message) error
	ReplaceConversation(ctx context.Context, sessionID string, conv *convo.Conversation) error
	TruncateConversation(ctx context.Context, sessionID string, since time.Time) error

	GetMessageMetadata(ctx context.Context, sessionID, messageID, key string) (string, bool, error)
	SetMessageMetadata(ctx context.Context, sessionID, messageID, key, value string) error

	GetInsights(ctx context.Context) (Insights, error)
	HealthCheck(ctx context.Context) error
	SearchChatHistory(ctx context.Context, query string, opts SearchOptions) ([]SearchMatch, error)
}

// NextSessionID formats a date-prefixed id from a UTC timestamp and a
// per-day sequence counter, matching the spec's YYYYMMDD_<seq> format.
func NextSessionID(now time.Time, daySeq int64) string {
	return now.UTC().Format("20060102") + "_" + strconv.FormatInt(daySeq, 10)
}
