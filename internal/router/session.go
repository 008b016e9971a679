package router

import (
	"sync"
	"time"
)

// Mode is what an admin's next plain message means.
type Mode int

const (
	ModeNone Mode = iota
	ModeReply
	ModeBroadcastCompose
	ModeBroadcastConfirm
)

// Session is the conversational state of one admin.
type Session struct {
	Mode Mode
	// UserID and Ref identify the thread for ModeReply.
	UserID string
	Ref    string
	// Draft is the broadcast text awaiting confirmation.
	Draft     string
	ExpiresAt time.Time
}

// Sessions maps admin ids to their pending state. Entries expire after ttl.
type Sessions struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]Session
}

// NewSessions creates a session table.
func NewSessions(ttl time.Duration, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{ttl: ttl, now: now, entries: make(map[string]Session)}
}

// BeginReply puts admin into reply mode for the thread of userID.
func (s *Sessions) BeginReply(adminID, userID, ref string) {
	s.put(adminID, Session{Mode: ModeReply, UserID: userID, Ref: ref})
}

// BeginBroadcast starts a broadcast draft for admin.
func (s *Sessions) BeginBroadcast(adminID string) {
	s.put(adminID, Session{Mode: ModeBroadcastCompose})
}

// SetDraft stores the broadcast text and moves the session to confirmation.
func (s *Sessions) SetDraft(adminID, text string) {
	s.put(adminID, Session{Mode: ModeBroadcastConfirm, Draft: text})
}

func (s *Sessions) put(adminID string, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ExpiresAt = s.now().Add(s.ttl)
	s.entries[adminID] = sess
}

// Get returns the live session of admin. Expired sessions are dropped.
func (s *Sessions) Get(adminID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(adminID)
}

// Take returns the live session of admin and removes it.
func (s *Sessions) Take(adminID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(adminID)
	delete(s.entries, adminID)
	return sess, ok
}

func (s *Sessions) live(adminID string) (Session, bool) {
	sess, ok := s.entries[adminID]
	if !ok {
		return Session{}, false
	}
	if s.ttl > 0 && !s.now().Before(sess.ExpiresAt) {
		delete(s.entries, adminID)
		return Session{}, false
	}
	return sess, true
}

// Clear removes any session of admin and reports whether one existed.
func (s *Sessions) Clear(adminID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[adminID]
	delete(s.entries, adminID)
	return ok
}

// Sweep drops expired sessions.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, sess := range s.entries {
		if s.ttl > 0 && !now.Before(sess.ExpiresAt) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}
