// Session memory for the cortex server.
//
// A ChatSession keeps the exchanges of one conversation in the form the Brain
// consumes as history. The MemoryStore owns the sessions and removes the ones
// that stayed idle longer than the configured maximum age.

package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cortex/brain"
)

// SessionExchange is one stored turn of a session.
type SessionExchange struct {
	ExchangeID string    `json:"exchangeId"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatSession is a conversation with its history.
type ChatSession struct {
	ID        string
	Exchanges []SessionExchange
	Created   time.Time
	Updated   time.Time
	mutex     sync.RWMutex
}

// SessionSummary is the listing form of a session.
type SessionSummary struct {
	ID            string    `json:"id"`
	ExchangeCount int       `json:"exchangeCount"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
}

// MemoryStore manages chat sessions and expires idle ones.
type MemoryStore struct {
	sessions        map[string]*ChatSession
	mutex           sync.RWMutex
	maxAge          time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	done            chan struct{}
	closeOnce       sync.Once
	logger          *logrus.Entry
}

// NewMemoryStore creates a store and starts its cleanup loop. Close stops it.
func NewMemoryStore(maxAge, cleanupInterval time.Duration, logger *logrus.Entry) *MemoryStore {
	store := &MemoryStore{
		sessions:        make(map[string]*ChatSession),
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		done:            make(chan struct{}),
		logger:          logger,
	}

	if cleanupInterval > 0 {
		go store.cleanupLoop()
	}

	return store
}

// Close stops the cleanup loop.
func (m *MemoryStore) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// GetOrCreateSession returns the session with sessionID, creating it when it
// does not exist. An empty sessionID always creates a new session.
func (m *MemoryStore) GetOrCreateSession(sessionID string) *ChatSession {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if sessionID == "" {
		sessionID = "session_" + uuid.NewString()
	}

	now := m.now()
	session, exists := m.sessions[sessionID]
	if !exists {
		session = &ChatSession{
			ID:        sessionID,
			Exchanges: make([]SessionExchange, 0),
			Created:   now,
			Updated:   now,
		}
		m.sessions[sessionID] = session
		m.logger.WithField("sessionID", sessionID).Info("Created new chat session")
	} else {
		session.touch(now)
	}

	return session
}

// GetSession returns an existing session.
func (m *MemoryStore) GetSession(sessionID string) (*ChatSession, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	session, exists := m.sessions[sessionID]
	if exists {
		session.touch(m.now())
	}
	return session, exists
}

// DeleteSession removes a session and reports whether it existed.
func (m *MemoryStore) DeleteSession(sessionID string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
		m.logger.WithField("sessionID", sessionID).Info("Session deleted")
	}
	return exists
}

// GetAllSessions returns a summary of every session.
func (m *MemoryStore) GetAllSessions() []SessionSummary {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	summaries := make([]SessionSummary, 0, len(m.sessions))
	for _, session := range m.sessions {
		summaries = append(summaries, session.Summary())
	}
	return summaries
}

// GetSessionStats returns session and exchange counts.
func (m *MemoryStore) GetSessionStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	totalExchanges := 0
	for _, session := range m.sessions {
		session.mutex.RLock()
		totalExchanges += len(session.Exchanges)
		session.mutex.RUnlock()
	}

	return map[string]interface{}{
		"totalSessions":  len(m.sessions),
		"totalExchanges": totalExchanges,
	}
}

// removeExpired drops the sessions idle for longer than maxAge.
func (m *MemoryStore) removeExpired() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	expired := 0
	for id, session := range m.sessions {
		session.mutex.RLock()
		idle := now.Sub(session.Updated)
		session.mutex.RUnlock()
		if idle > m.maxAge {
			delete(m.sessions, id)
			expired++
		}
	}

	if expired > 0 {
		m.logger.WithFields(logrus.Fields{
			"expiredSessions":   expired,
			"remainingSessions": len(m.sessions),
		}).Info("Cleaned up expired chat sessions")
	}
	return expired
}

func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.done:
			return
		}
	}
}

func (s *ChatSession) touch(now time.Time) {
	s.mutex.Lock()
	s.Updated = now
	s.mutex.Unlock()
}

// AddExchange appends a completed turn.
func (s *ChatSession) AddExchange(exchangeID, query, answer string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	s.Exchanges = append(s.Exchanges, SessionExchange{
		ExchangeID: exchangeID,
		Query:      query,
		Answer:     answer,
		Timestamp:  now,
	})
	s.Updated = now
}

// History returns the last limit exchanges as Brain history, oldest first.
func (s *ChatSession) History(limit int) []brain.Exchange {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	recent := s.Exchanges
	if limit >= 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}

	history := make([]brain.Exchange, len(recent))
	for i, ex := range recent {
		query := ex.Query
		history[i] = brain.Exchange{Query: &query, Answer: ex.Answer}
	}
	return history
}

// ClearExchanges forgets the history and returns how many exchanges it held.
func (s *ChatSession) ClearExchanges() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := len(s.Exchanges)
	s.Exchanges = make([]SessionExchange, 0)
	s.Updated = time.Now()
	return count
}

// Summary returns the listing form of the session.
func (s *ChatSession) Summary() SessionSummary {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return SessionSummary{
		ID:            s.ID,
		ExchangeCount: len(s.Exchanges),
		Created:       s.Created,
		Updated:       s.Updated,
	}
}

// SessionView is a copy of a session safe to serialize.
type SessionView struct {
	ID        string            `json:"id"`
	Exchanges []SessionExchange `json:"exchanges"`
	Created   time.Time         `json:"created"`
	Updated   time.Time         `json:"updated"`
}

// Snapshot copies the session.
func (s *ChatSession) Snapshot() SessionView {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return SessionView{
		ID:        s.ID,
		Exchanges: append([]SessionExchange(nil), s.Exchanges...),
		Created:   s.Created,
		Updated:   s.Updated,
	}
}
