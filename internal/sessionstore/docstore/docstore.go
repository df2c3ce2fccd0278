// Package docstore implements sessionstore.Store over MongoDB, storing
// sessions and messages as two collections rather than relational
// tables.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/agentrt/core/internal/sessionstore"
	"github.com/agentrt/core/pkg/convo"
)

const (
	defaultSessionsCollection = "sessions"
	defaultMessagesCollection = "messages"
	defaultOpTimeout          = 10 * time.Second
)

// Store is a MongoDB-backed sessionstore.Store.
type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
	messages *mongo.Collection
	timeout  time.Duration
}

// Connect dials uri, selects database, and ensures indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		sessions: db.Collection(defaultSessionsCollection),
		messages: db.Collection(defaultMessagesCollection),
		timeout:  defaultOpTimeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("docstore: create session index: %w", err)
	}
	_, err = s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_type", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("docstore: create session_type index: %w", err)
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("docstore: create session_id/created index: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "content_text", Value: "text"}},
	})
	if err != nil {
		return fmt.Errorf("docstore: create content_text text index: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// sessionDocument is the persisted shape of a sessionstore.Session.
type sessionDocument struct {
	ID               string                  `bson:"id"`
	WorkingDir       string                  `bson:"working_dir"`
	Name             string                  `bson:"name"`
	UserSetName      bool                    `bson:"user_set_name"`
	SessionType      string                  `bson:"session_type"`
	CreatedAt        time.Time               `bson:"created_at"`
	UpdatedAt        time.Time               `bson:"updated_at"`
	TotalTokens      int64                   `bson:"total_tokens"`
	InputTokens      int64                   `bson:"input_tokens"`
	OutputTokens     int64                   `bson:"output_tokens"`
	ScheduleID       string                  `bson:"schedule_id"`
	Recipe           string                  `bson:"recipe"`
	UserRecipeValues map[string]any          `bson:"user_recipe_values,omitempty"`
	ProviderName     string                  `bson:"provider_name"`
	ModelConfig      *sessionstore.ModelConfig `bson:"model_config,omitempty"`
	ExtensionData    map[string]any          `bson:"extension_data,omitempty"`
}

func toDocument(s *sessionstore.Session) sessionDocument {
	return sessionDocument{
		ID:               s.ID,
		WorkingDir:       s.WorkingDir,
		Name:             s.Name,
		UserSetName:      s.UserSetName,
		SessionType:      string(s.SessionType),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		TotalTokens:      s.TotalTokens,
		InputTokens:      s.InputTokens,
		OutputTokens:     s.OutputTokens,
		ScheduleID:       s.ScheduleID,
		Recipe:           s.Recipe,
		UserRecipeValues: s.UserRecipeValues,
		ProviderName:     s.ProviderName,
		ModelConfig:      s.ModelConfig,
		ExtensionData:    s.ExtensionData,
	}
}

func (d sessionDocument) toSession() *sessionstore.Session {
	return &sessionstore.Session{
		ID:               d.ID,
		WorkingDir:       d.WorkingDir,
		Name:             d.Name,
		UserSetName:      d.UserSetName,
		SessionType:      sessionstore.SessionType(d.SessionType),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		TotalTokens:      d.TotalTokens,
		InputTokens:      d.InputTokens,
		OutputTokens:     d.OutputTokens,
		ScheduleID:       d.ScheduleID,
		Recipe:           d.Recipe,
		UserRecipeValues: d.UserRecipeValues,
		ProviderName:     d.ProviderName,
		ModelConfig:      d.ModelConfig,
		ExtensionData:    d.ExtensionData,
	}
}

// messageDocument is the persisted shape of one conversation turn. Extra
// carries out-of-band metadata (e.g. user reactions) keyed by name,
// since convo.Message itself has no such bag.
type messageDocument struct {
	SessionID   string            `bson:"session_id"`
	Seq         int               `bson:"seq"`
	MessageID   string            `bson:"message_id"`
	Created     time.Time         `bson:"created"`
	ContentText string            `bson:"content_text"`
	Message     convo.Message     `bson:"message"`
	Extra       map[string]string `bson:"extra,omitempty"`
}

// CreateSession inserts a new session document.
func (s *Store) CreateSession(ctx context.Context, session *sessionstore.Session) error {
	_, err := s.sessions.InsertOne(ctx, toDocument(session))
	if err != nil {
		return fmt.Errorf("docstore: create session: %w", err)
	}
	return nil
}

// GetSession loads a session, optionally including its full message history.
func (s *Store) GetSession(ctx context.Context, id string, includeMessages bool) (*sessionstore.Session, []convo.Message, error) {
	var doc sessionDocument
	err := s.sessions.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("docstore: get session: %w", err)
	}
	session := doc.toSession()

	if !includeMessages {
		return session, nil, nil
	}
	msgs, err := s.messagesFor(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	session.MessageCount = len(msgs)
	return session, msgs, nil
}

func (s *Store) messagesFor(ctx context.Context, sessionID string) ([]convo.Message, error) {
	cursor, err := s.messages.Find(ctx, bson.M{"session_id": sessionID}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("docstore: list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []convo.Message
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("docstore: decode message: %w", err)
		}
		msgs = append(msgs, doc.Message)
	}
	return msgs, cursor.Err()
}

// ApplyUpdate applies a partial update to a session's scalar fields.
func (s *Store) ApplyUpdate(ctx context.Context, id string, update sessionstore.SessionUpdate) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.UserSetName != nil {
		set["user_set_name"] = *update.UserSetName
	}
	if update.ProviderName != nil {
		set["provider_name"] = *update.ProviderName
	}
	if update.ScheduleID != nil {
		set["schedule_id"] = *update.ScheduleID
	}
	if update.ModelConfig != nil {
		set["model_config"] = update.ModelConfig
	}

	_, err := s.sessions.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("docstore: apply update: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.messages.DeleteMany(ctx, bson.M{"session_id": id}); err != nil {
		return fmt.Errorf("docstore: delete messages: %w", err)
	}
	if _, err := s.sessions.DeleteOne(ctx, bson.M{"id": id}); err != nil {
		return fmt.Errorf("docstore: delete session: %w", err)
	}
	return nil
}

// ListSessionsByTypes lists sessions filtered by type, newest first.
func (s *Store) ListSessionsByTypes(ctx context.Context, opts sessionstore.ListOptions) ([]*sessionstore.Session, error) {
	filter := bson.M{}
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		filter["session_type"] = bson.M{"$in": types}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.sessions.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("docstore: list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*sessionstore.Session
	for cursor.Next(ctx) {
		var doc sessionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("docstore: decode session: %w", err)
		}
		out = append(out, doc.toSession())
	}
	return out, cursor.Err()
}

// AddMessage appends one message to a session's conversation.
func (s *Store) AddMessage(ctx context.Context, sessionID string, msg convo.Message) error {
	seq, err := s.nextSeq(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = s.messages.InsertOne(ctx, messageDocument{
		SessionID:   sessionID,
		Seq:         seq,
		MessageID:   msg.ID,
		Created:     msg.Created,
		ContentText: msg.Text(),
		Message:     msg,
	})
	if err != nil {
		return fmt.Errorf("docstore: add message: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, sessionID string) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	var last messageDocument
	err := s.messages.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("docstore: next seq: %w", err)
	}
	return last.Seq + 1, nil
}

// ReplaceConversation atomically swaps a session's full message history.
func (s *Store) ReplaceConversation(ctx context.Context, sessionID string, conv *convo.Conversation) error {
	if _, err := s.messages.DeleteMany(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("docstore: clear messages: %w", err)
	}
	if conv == nil || conv.IsEmpty() {
		return nil
	}

	docs := make([]any, 0, conv.Len())
	for i, msg := range conv.Messages() {
		docs = append(docs, messageDocument{
			SessionID:   sessionID,
			Seq:         i,
			MessageID:   msg.ID,
			Created:     msg.Created,
			ContentText: msg.Text(),
			Message:     msg,
		})
	}
	if _, err := s.messages.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("docstore: insert messages: %w", err)
	}
	return nil
}

// TruncateConversation drops every message at or after since.
func (s *Store) TruncateConversation(ctx context.Context, sessionID string, since time.Time) error {
	_, err := s.messages.DeleteMany(ctx, bson.M{"session_id": sessionID, "created": bson.M{"$gte": since}})
	if err != nil {
		return fmt.Errorf("docstore: truncate conversation: %w", err)
	}
	return nil
}

// GetMessageMetadata reads one metadata key for a message, stored in the
// message record's extra bag.
func (s *Store) GetMessageMetadata(ctx context.Context, sessionID, messageID, key string) (string, bool, error) {
	var doc messageDocument
	err := s.messages.FindOne(ctx, bson.M{"session_id": sessionID, "message_id": messageID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("docstore: get message metadata: %w", err)
	}
	value, ok := doc.Extra[key]
	return value, ok, nil
}

// SetMessageMetadata upserts one metadata key on the message matching
// session/message id.
func (s *Store) SetMessageMetadata(ctx context.Context, sessionID, messageID, key, value string) error {
	field := "extra." + key
	_, err := s.messages.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "message_id": messageID},
		bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return fmt.Errorf("docstore: set message metadata: %w", err)
	}
	return nil
}

// GetInsights summarizes usage across every session.
func (s *Store) GetInsights(ctx context.Context) (sessionstore.Insights, error) {
	count, err := s.sessions.CountDocuments(ctx, bson.M{})
	if err != nil {
		return sessionstore.Insights{}, fmt.Errorf("docstore: count sessions: %w", err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$total_tokens"}}}},
	}
	cursor, err := s.sessions.Aggregate(ctx, pipeline)
	if err != nil {
		return sessionstore.Insights{}, fmt.Errorf("docstore: aggregate tokens: %w", err)
	}
	defer cursor.Close(ctx)

	var total int64
	if cursor.Next(ctx) {
		var row struct {
			Total int64 `bson:"total"`
		}
		if err := cursor.Decode(&row); err != nil {
			return sessionstore.Insights{}, fmt.Errorf("docstore: decode token total: %w", err)
		}
		total = row.Total
	}

	return sessionstore.Insights{TotalSessions: count, TotalTokens: total}, nil
}

// HealthCheck verifies the underlying connection is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("docstore: health check: %w", err)
	}
	return nil
}

// SearchChatHistory runs a MongoDB text search over message content,
// grouping hits by session and keeping the most recent match per session.
func (s *Store) SearchChatHistory(ctx context.Context, query string, opts sessionstore.SearchOptions) ([]sessionstore.SearchMatch, error) {
	filter := bson.M{"$text": bson.M{"$search": query}}
	if opts.ExcludeSession != "" {
		filter["session_id"] = bson.M{"$ne": opts.ExcludeSession}
	}
	created := bson.M{}
	if opts.After != nil {
		created["$gte"] = *opts.After
	}
	if opts.Before != nil {
		created["$lte"] = *opts.Before
	}
	if len(created) > 0 {
		filter["created"] = created
	}

	cursor, err := s.messages.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("docstore: search chat history: %w", err)
	}
	defer cursor.Close(ctx)

	seen := make(map[string]bool)
	var out []sessionstore.SearchMatch
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("docstore: decode search hit: %w", err)
		}
		if seen[doc.SessionID] {
			continue
		}
		seen[doc.SessionID] = true

		var sessDoc sessionDocument
		name := ""
		if err := s.sessions.FindOne(ctx, bson.M{"id": doc.SessionID}).Decode(&sessDoc); err == nil {
			name = sessDoc.Name
		}

		out = append(out, sessionstore.SearchMatch{
			SessionID:    doc.SessionID,
			SessionName:  name,
			Snippet:      snippet(doc.ContentText),
			LastActivity: doc.Created,
		})
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, cursor.Err()
}

func snippet(text string) string {
	const maxLen = 200
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
