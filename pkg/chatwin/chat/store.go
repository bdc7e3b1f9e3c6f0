// store.go provides SQLite persistence for conversations: the full message
// history plus the per-conversation summary cache. The cache is the only
// derived state that must survive restarts; it is stored alongside the
// history and round-trips losslessly.
package chat

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
	"github.com/robfig/cron/v3"
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Conversations (one row per session).
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    model      TEXT DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Messages (append-only, one row per message, ordered by seq).
CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    seq             INTEGER NOT NULL,
    payload         TEXT NOT NULL,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_cid ON messages(conversation_id, seq);

-- Summary cache (at most one row per conversation).
CREATE TABLE IF NOT EXISTS summary_cache (
    conversation_id TEXT PRIMARY KEY,
    text            TEXT NOT NULL,
    covers_up_to    INTEGER NOT NULL,
    updated_at      TEXT NOT NULL
);
`

// Store persists conversations in a local SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	cron   *cron.Cron
}

// OpenStore opens (or creates) the chatwin database at the given path. WAL
// mode is enabled for concurrent read performance.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "./data/chatwin.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Close stops the retention job (if running) and closes the database.
func (s *Store) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.db.Close()
}

// SaveConversation upserts the conversation row.
func (s *Store) SaveConversation(id, model string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, model, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET model = excluded.model, updated_at = excluded.updated_at`,
		id, model, now, now,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// AppendMessage appends one message to a conversation at the given
// sequence number. Messages are stored as JSON so every field (parts, tool
// calls, names) round-trips without loss.
func (s *Store) AppendMessage(conversationID string, seq int, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO messages (conversation_id, seq, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		conversationID, seq, string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// LoadMessages reads a conversation's full history in order.
func (s *Store) LoadMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var m Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// SaveSummaryCache persists the conversation's summary cache. A nil cache
// deletes the stored row (explicit invalidation).
func (s *Store) SaveSummaryCache(conversationID string, cache *SummaryCache) error {
	if cache == nil {
		if _, err := s.db.Exec(`DELETE FROM summary_cache WHERE conversation_id = ?`, conversationID); err != nil {
			return fmt.Errorf("invalidate summary cache: %w", err)
		}
		return nil
	}
	if cache.CoversUpTo < 0 {
		return fmt.Errorf("summary cache covers_up_to must be non-negative, got %d", cache.CoversUpTo)
	}
	_, err := s.db.Exec(`
		INSERT INTO summary_cache (conversation_id, text, covers_up_to, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			text = excluded.text,
			covers_up_to = excluded.covers_up_to,
			updated_at = excluded.updated_at`,
		conversationID, cache.Text, cache.CoversUpTo, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save summary cache: %w", err)
	}
	return nil
}

// LoadSummaryCache reads the conversation's summary cache, or nil when none
// is stored.
func (s *Store) LoadSummaryCache(conversationID string) (*SummaryCache, error) {
	var cache SummaryCache
	err := s.db.QueryRow(`
		SELECT text, covers_up_to FROM summary_cache
		WHERE conversation_id = ?`, conversationID).Scan(&cache.Text, &cache.CoversUpTo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load summary cache: %w", err)
	}
	return &cache, nil
}

// ConversationInfo is one row of ListConversations.
type ConversationInfo struct {
	ID        string
	Model     string
	Messages  int
	UpdatedAt time.Time
}

// ListConversations returns stored conversations, most recently updated
// first.
func (s *Store) ListConversations() ([]ConversationInfo, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.model, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationInfo
	for rows.Next() {
		var info ConversationInfo
		var updatedAt string
		if err := rows.Scan(&info.ID, &info.Model, &updatedAt, &info.Messages); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		info.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

// PurgeConversation deletes a conversation, its messages and its cache.
func (s *Store) PurgeConversation(conversationID string) error {
	for _, stmt := range []string{
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM summary_cache WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := s.db.Exec(stmt, conversationID); err != nil {
			return fmt.Errorf("purge conversation: %w", err)
		}
	}
	return nil
}

// PruneOlderThan deletes conversations not updated within the retention
// window. Returns the number of conversations removed.
func (s *Store) PruneOlderThan(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)

	rows, err := s.db.Query(`SELECT id FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale conversations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale conversation: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.PurgeConversation(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// StartRetentionJob schedules a recurring prune of conversations older than
// retention, using a cron expression (e.g. "@daily"). No-op when schedule
// is empty or retention is zero.
func (s *Store) StartRetentionJob(schedule string, retention time.Duration) error {
	if schedule == "" || retention <= 0 {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := s.PruneOlderThan(retention)
		if err != nil {
			s.logger.Error("retention prune failed", "err", err)
			return
		}
		if n > 0 {
			s.logger.Info("pruned stale conversations", "count", n, "retention", retention)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention job %q: %w", schedule, err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("retention job started", "schedule", schedule, "retention", retention)
	return nil
}
