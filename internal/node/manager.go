// Package node bounds the number of interactive sessions the relay serves at
// once. Each session occupies a numbered slot; freed slots are reused lowest
// first.
package node

import (
	"sort"
	"sync"
	"time"
)

// Manager tracks active sessions and enforces the max-sessions limit.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[int]*Session
	maxSessions int
}

// NewManager creates a new session manager. maxSessions <= 0 means
// unlimited.
func NewManager(maxSessions int) *Manager {
	return &Manager{
		sessions:    make(map[int]*Session),
		maxSessions: maxSessions,
	}
}

// Acquire allocates the lowest free slot for a session if capacity allows.
// Returns the session and true, or nil and false if full.
func (m *Manager) Acquire(userID, transport, remote string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, false
	}

	id := 1
	for {
		if _, taken := m.sessions[id]; !taken {
			break
		}
		id++
	}
	s := &Session{
		ID:          id,
		UserID:      userID,
		Transport:   transport,
		Remote:      remote,
		ConnectedAt: time.Now(),
	}
	m.sessions[id] = s
	return s, true
}

// Release frees a slot.
func (m *Manager) Release(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Get returns a session by slot, or nil if not found.
func (m *Manager) Get(id int) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns a snapshot of all active sessions ordered by slot.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
