// session.go implements per-conversation session state. Each conversation
// owns its full, never-truncated message history plus the current summary
// cache; the optimizer only ever sees read-only projections of it.
package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one conversation's state. The history only grows; shortening
// happens in the projection built per request, never here.
type Session struct {
	// ID is the conversation's unique identifier.
	ID string

	// Model overrides the default model for this conversation, if set.
	Model string

	// CreatedAt is the session creation timestamp.
	CreatedAt time.Time

	// LastActiveAt is the timestamp of the last activity.
	LastActiveAt time.Time

	history []Message
	cache   *SummaryCache
	mu      sync.RWMutex
}

// Append adds messages to the session history.
func (s *Session) Append(messages ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, messages...)
	s.LastActiveAt = time.Now()
}

// History returns a copy of the full message history.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Cache returns the current summary cache, or nil.
func (s *Session) Cache() *SummaryCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// SetCache replaces the summary cache wholesale (nil invalidates).
func (s *Session) SetCache(cache *SummaryCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = cache
}

// SessionStore manages active sessions, creating and retrieving them by ID.
type SessionStore struct {
	sessions map[string]*Session
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewSessionStore creates an empty session store.
func NewSessionStore(logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// New creates a session with a fresh ID and registers it.
func (ss *SessionStore) New() *Session {
	session := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}

	ss.mu.Lock()
	ss.sessions[session.ID] = session
	ss.mu.Unlock()

	ss.logger.Info("new session created", "session", session.ID)
	return session
}

// GetOrCreate returns the existing session for id, creating it if needed.
func (ss *SessionStore) GetOrCreate(id string) *Session {
	ss.mu.RLock()
	if session, exists := ss.sessions[id]; exists {
		ss.mu.RUnlock()
		return session
	}
	ss.mu.RUnlock()

	ss.mu.Lock()
	defer ss.mu.Unlock()

	// Double-check after acquiring the write lock.
	if session, exists := ss.sessions[id]; exists {
		return session
	}

	session := &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}
	ss.sessions[id] = session
	ss.logger.Info("new session created", "session", id)
	return session
}

// Get returns the session for id, or nil if it does not exist.
func (ss *SessionStore) Get(id string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[id]
}

// Count returns the number of active sessions.
func (ss *SessionStore) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}
