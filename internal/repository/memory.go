package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ai-tutor/internal/domain"
)

const defaultSweepEvery = time.Minute

type memorySession struct {
	entries  []domain.ConversationEntry
	lastSeen time.Time
}

// Memory keeps conversations in process memory. Sessions idle for longer than
// the TTL are dropped on a later write.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]*memorySession
	ttl       time.Duration
	sweepGap  time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewMemory creates an in-memory store. A non-positive ttl keeps sessions for
// the life of the process.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		sweepGap: defaultSweepEvery,
		now:      time.Now,
	}
}

// Load returns a copy of the session's entries; unknown sessions are empty.
func (m *Memory) Load(_ context.Context, sessionID string) (domain.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Conversation{}, errors.New("repository: session id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	conv := domain.Conversation{ID: sessionID}
	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s, m.now()) {
		return conv, nil
	}
	s.lastSeen = m.now()
	conv.Entries = append([]domain.ConversationEntry(nil), s.entries...)
	return conv, nil
}

// Append adds one entry to the end of the session.
func (m *Memory) Append(_ context.Context, sessionID string, entry domain.ConversationEntry) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("repository: session id must not be empty")
	}
	if entry.ID == "" {
		return errors.New("repository: entry id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweepLocked(now)

	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s, now) {
		s = &memorySession{}
		m.sessions[sessionID] = s
	}
	s.entries = append(s.entries, entry)
	s.lastSeen = now
	return nil
}

// Len reports the number of live sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Memory) expired(s *memorySession, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.lastSeen) > m.ttl
}

func (m *Memory) sweepLocked(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastSweep) < m.sweepGap {
		return
	}
	m.lastSweep = now
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
		}
	}
}
