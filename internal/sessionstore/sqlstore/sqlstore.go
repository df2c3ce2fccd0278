// Package sqlstore implements sessionstore.Store over database/sql,
// sharing one schema and query builder between an embedded SQLite file
// (modernc.org/sqlite, pure Go) and a Postgres-flavored DSN (lib/pq).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agentrt/core/internal/sessionstore"
	"github.com/agentrt/core/pkg/convo"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is a SQL-backed sessionstore.Store. It works against either an
// embedded SQLite file or a Postgres/CockroachDB DSN, selected by the
// constructor used.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open opens (creating if necessary) an embedded SQLite database at path
// and ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	s := &Store{db: db, dialect: dialectSQLite}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a Postgres (or CockroachDB) session store from dsn.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping postgres: %w", err)
	}

	s := &Store{db: db, dialect: dialectPostgres}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ph returns the i-th (1-based) placeholder for the store's dialect.
func (s *Store) ph(i int) string {
	if s.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (s *Store) ensureSchema(ctx context.Context) error {
	boolType, jsonType, timeType := "INTEGER", "TEXT", "TIMESTAMP"
	if s.dialect == dialectPostgres {
		boolType, jsonType, timeType = "BOOLEAN", "JSONB", "TIMESTAMPTZ"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			working_dir TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			user_set_name %s NOT NULL DEFAULT 0,
			session_type TEXT NOT NULL,
			created_at %s NOT NULL,
			updated_at %s NOT NULL,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			schedule_id TEXT NOT NULL DEFAULT '',
			recipe TEXT NOT NULL DEFAULT '',
			user_recipe_values %s,
			provider_name TEXT NOT NULL DEFAULT '',
			model_config %s,
			extension_data %s
		)`, boolType, timeType, timeType, jsonType, jsonType, jsonType),
		`CREATE INDEX IF NOT EXISTS idx_sessions_session_type ON sessions (session_type)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			created_at %s NOT NULL,
			text_content TEXT NOT NULL DEFAULT '',
			content %s NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`, timeType, jsonType),
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS message_metadata (
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (session_id, message_id, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: ensure schema: %w", err)
		}
	}

	if s.dialect == dialectSQLite {
		// Best-effort: FTS5 may be unavailable in a given sqlite build.
		// Search falls back to text_content LIKE scanning when absent.
		_, _ = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts
			USING fts5(session_id UNINDEXED, text_content, content='messages', content_rowid='rowid')`)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, session *sessionstore.Session) error {
	recipeValues, err := marshalJSON(session.UserRecipeValues)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal user_recipe_values: %w", err)
	}
	modelConfig, err := marshalJSON(session.ModelConfig)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal model_config: %w", err)
	}
	extensionData, err := marshalJSON(session.ExtensionData)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal extension_data: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO sessions
		(id, working_dir, name, user_set_name, session_type, created_at, updated_at,
		 total_tokens, input_tokens, output_tokens, schedule_id, recipe,
		 user_recipe_values, provider_name, model_config, extension_data)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8),
		s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13), s.ph(14), s.ph(15), s.ph(16))

	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.WorkingDir, session.Name, boolToInt(session.UserSetName),
		string(session.SessionType), session.CreatedAt, session.UpdatedAt,
		session.TotalTokens, session.InputTokens, session.OutputTokens,
		session.ScheduleID, session.Recipe, string(recipeValues), session.ProviderName,
		string(modelConfig), string(extensionData),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create session: %w", err)
	}
	return nil
}

type sessionScanner interface {
	Scan(dest ...any) error
}

func scanSession(sc sessionScanner) (*sessionstore.Session, error) {
	var (
		sess             sessionstore.Session
		sessionType      string
		userSetName      int
		recipeValues     sql.NullString
		modelConfigBytes sql.NullString
		extensionData    sql.NullString
	)
	if err := sc.Scan(
		&sess.ID, &sess.WorkingDir, &sess.Name, &userSetName, &sessionType,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.TotalTokens, &sess.InputTokens,
		&sess.OutputTokens, &sess.ScheduleID, &sess.Recipe, &recipeValues,
		&sess.ProviderName, &modelConfigBytes, &extensionData,
	); err != nil {
		return nil, err
	}
	sess.SessionType = sessionstore.SessionType(sessionType)
	sess.UserSetName = userSetName != 0

	if recipeValues.Valid && recipeValues.String != "" && recipeValues.String != "null" {
		if err := json.Unmarshal([]byte(recipeValues.String), &sess.UserRecipeValues); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal user_recipe_values: %w", err)
		}
	}
	if modelConfigBytes.Valid && modelConfigBytes.String != "" && modelConfigBytes.String != "null" {
		var mc sessionstore.ModelConfig
		if err := json.Unmarshal([]byte(modelConfigBytes.String), &mc); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal model_config: %w", err)
		}
		sess.ModelConfig = &mc
	}
	if extensionData.Valid && extensionData.String != "" && extensionData.String != "null" {
		if err := json.Unmarshal([]byte(extensionData.String), &sess.ExtensionData); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal extension_data: %w", err)
		}
	}
	return &sess, nil
}

const sessionColumns = `id, working_dir, name, user_set_name, session_type, created_at, updated_at,
	total_tokens, input_tokens, output_tokens, schedule_id, recipe, user_recipe_values,
	provider_name, model_config, extension_data`

// GetSession loads a session, optionally including its full message history.
func (s *Store) GetSession(ctx context.Context, id string, includeMessages bool) (*sessionstore.Session, []convo.Message, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM sessions WHERE id = %s`, sessionColumns, s.ph(1)), id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: get session: %w", err)
	}

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
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT content FROM messages WHERE session_id = %s ORDER BY seq ASC`, s.ph(1)),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []convo.Message
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("sqlstore: scan message: %w", err)
		}
		var msg convo.Message
		if err := json.Unmarshal([]byte(content), &msg); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ApplyUpdate applies a partial update to a session's scalar fields.
func (s *Store) ApplyUpdate(ctx context.Context, id string, update sessionstore.SessionUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = %s", col, s.ph(len(args))))
	}

	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.UserSetName != nil {
		add("user_set_name", boolToInt(*update.UserSetName))
	}
	if update.ProviderName != nil {
		add("provider_name", *update.ProviderName)
	}
	if update.ScheduleID != nil {
		add("schedule_id", *update.ScheduleID)
	}
	if update.ModelConfig != nil {
		b, err := marshalJSON(update.ModelConfig)
		if err != nil {
			return fmt.Errorf("sqlstore: marshal model_config: %w", err)
		}
		add("model_config", string(b))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = %s", s.ph(len(args))))

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = %s`, strings.Join(sets, ", "), s.ph(len(args)))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlstore: apply update: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages and metadata.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: delete session: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"message_metadata", "messages", "sessions"} {
		col := "session_id"
		if table == "sessions" {
			col = "id"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = %s`, table, col, s.ph(1)), id); err != nil {
			return fmt.Errorf("sqlstore: delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ListSessionsByTypes lists sessions filtered by type, newest first.
func (s *Store) ListSessionsByTypes(ctx context.Context, opts sessionstore.ListOptions) ([]*sessionstore.Session, error) {
	var args []any
	query := fmt.Sprintf(`SELECT %s FROM sessions`, sessionColumns)

	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			args = append(args, string(t))
			placeholders[i] = s.ph(len(args))
		}
		query += fmt.Sprintf(` WHERE session_type IN (%s)`, strings.Join(placeholders, ","))
	}
	query += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT %s`, s.ph(len(args)))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET %s`, s.ph(len(args)))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*sessionstore.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AddMessage appends one message to a session's conversation.
func (s *Store) AddMessage(ctx context.Context, sessionID string, msg convo.Message) error {
	content, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal message: %w", err)
	}

	var nextSeq int
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = %s`, s.ph(1)),
		sessionID)
	if err := row.Scan(&nextSeq); err != nil {
		return fmt.Errorf("sqlstore: next seq: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO messages (session_id, seq, message_id, created_at, text_content, content)
			VALUES (%s,%s,%s,%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6)),
		sessionID, nextSeq, msg.ID, msg.Created, msg.Text(), string(content))
	if err != nil {
		return fmt.Errorf("sqlstore: add message: %w", err)
	}
	return nil
}

// ReplaceConversation atomically swaps a session's full message history.
func (s *Store) ReplaceConversation(ctx context.Context, sessionID string, conv *convo.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: replace conversation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM messages WHERE session_id = %s`, s.ph(1)), sessionID); err != nil {
		return fmt.Errorf("sqlstore: clear messages: %w", err)
	}

	if conv != nil {
		for i, msg := range conv.Messages() {
			content, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("sqlstore: marshal message: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO messages (session_id, seq, message_id, created_at, text_content, content)
					VALUES (%s,%s,%s,%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6)),
				sessionID, i, msg.ID, msg.Created, msg.Text(), string(content))
			if err != nil {
				return fmt.Errorf("sqlstore: insert message: %w", err)
			}
		}
	}
	return tx.Commit()
}

// TruncateConversation drops every message at or after since.
func (s *Store) TruncateConversation(ctx context.Context, sessionID string, since time.Time) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM messages WHERE session_id = %s AND created_at >= %s`, s.ph(1), s.ph(2)),
		sessionID, since)
	if err != nil {
		return fmt.Errorf("sqlstore: truncate conversation: %w", err)
	}
	return nil
}

// GetMessageMetadata reads one metadata key for a message.
func (s *Store) GetMessageMetadata(ctx context.Context, sessionID, messageID, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM message_metadata WHERE session_id = %s AND message_id = %s AND key = %s`,
			s.ph(1), s.ph(2), s.ph(3)),
		sessionID, messageID, key)
	var value string
	if err := row.Scan(&value); err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("sqlstore: get message metadata: %w", err)
	}
	return value, true, nil
}

// SetMessageMetadata upserts one metadata key for a message.
func (s *Store) SetMessageMetadata(ctx context.Context, sessionID, messageID, key, value string) error {
	var query string
	switch s.dialect {
	case dialectPostgres:
		query = fmt.Sprintf(`INSERT INTO message_metadata (session_id, message_id, key, value)
			VALUES (%s,%s,%s,%s)
			ON CONFLICT (session_id, message_id, key) DO UPDATE SET value = EXCLUDED.value`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	default:
		query = fmt.Sprintf(`INSERT INTO message_metadata (session_id, message_id, key, value)
			VALUES (%s,%s,%s,%s)
			ON CONFLICT (session_id, message_id, key) DO UPDATE SET value = excluded.value`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	}
	if _, err := s.db.ExecContext(ctx, query, sessionID, messageID, key, value); err != nil {
		return fmt.Errorf("sqlstore: set message metadata: %w", err)
	}
	return nil
}

// GetInsights summarizes usage across every session.
func (s *Store) GetInsights(ctx context.Context) (sessionstore.Insights, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(total_tokens), 0) FROM sessions`)
	var insights sessionstore.Insights
	if err := row.Scan(&insights.TotalSessions, &insights.TotalTokens); err != nil {
		return sessionstore.Insights{}, fmt.Errorf("sqlstore: get insights: %w", err)
	}
	return insights, nil
}

// HealthCheck verifies the underlying connection is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlstore: health check: %w", err)
	}
	return nil
}

// SearchChatHistory searches message text across sessions, grouping hits
// by session and keeping the most recent match per session.
func (s *Store) SearchChatHistory(ctx context.Context, query string, opts sessionstore.SearchOptions) ([]sessionstore.SearchMatch, error) {
	var args []any
	sql := fmt.Sprintf(`SELECT m.session_id, s.name, m.text_content, m.created_at
		FROM messages m JOIN sessions s ON s.id = m.session_id
		WHERE m.text_content LIKE %s`, func() string { args = append(args, "%"+query+"%"); return s.ph(len(args)) }())

	if opts.ExcludeSession != "" {
		args = append(args, opts.ExcludeSession)
		sql += fmt.Sprintf(` AND m.session_id != %s`, s.ph(len(args)))
	}
	if opts.After != nil {
		args = append(args, *opts.After)
		sql += fmt.Sprintf(` AND m.created_at >= %s`, s.ph(len(args)))
	}
	if opts.Before != nil {
		args = append(args, *opts.Before)
		sql += fmt.Sprintf(` AND m.created_at <= %s`, s.ph(len(args)))
	}
	sql += ` ORDER BY m.created_at DESC`

	rows, err := s.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: search chat history: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []sessionstore.SearchMatch
	for rows.Next() {
		var m sessionstore.SearchMatch
		if err := rows.Scan(&m.SessionID, &m.SessionName, &m.Snippet, &m.LastActivity); err != nil {
			return nil, fmt.Errorf("sqlstore: scan search match: %w", err)
		}
		if seen[m.SessionID] {
			continue
		}
		seen[m.SessionID] = true
		out = append(out, m)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, rows.Err()
}
