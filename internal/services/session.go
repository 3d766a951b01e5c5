// Package services – session manager
//
// The correction engine keeps per-conversation state in memory; this file
// owns that cache. Each conversation maps to one session holding the engine
// state behind its own mutex, so two conversations never contend and all
// events for one conversation are serialized.
package services

import (
	"sync"
	"time"

	"github.com/tbourn/go-tandem-backend/internal/engine"
)

// session is the live engine state for one conversation.
type session struct {
	mu       sync.Mutex
	state    *engine.State
	lastUsed time.Time
}

// SessionManager caches engine sessions by conversation ID and evicts the
// ones idle longer than TTL. Evicted sessions are rebuilt from the persisted
// transcript on next access; per-turn correction state does not survive
// eviction, which matches a learner returning after a long pause.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session

	rules engine.Rules
	ttl   time.Duration
}

// NewSessionManager builds a manager creating sessions under the given
// rules. ttl <= 0 disables idle eviction.
func NewSessionManager(rules engine.Rules, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*session),
		rules:    rules,
		ttl:      ttl,
	}
}

// get returns the session for a conversation, creating it if absent. The
// second return reports whether the session was newly created and needs its
// transcript rehydrated.
func (m *SessionManager) get(conversationID string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[conversationID]; ok {
		s.lastUsed = time.Now()
		return s, false
	}
	s := &session{state: engine.NewState(m.rules), lastUsed: time.Now()}
	m.sessions[conversationID] = s
	return s, true
}

// Drop removes a conversation's session outright.
func (m *SessionManager) Drop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, conversationID)
}

// Sweep evicts sessions idle past the TTL and returns how many were removed.
// Intended to run on a ticker from main.
func (m *SessionManager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.lastUsed) > m.ttl {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
