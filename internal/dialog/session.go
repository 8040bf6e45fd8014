package dialog

import (
	"sync"

	"github.com/m3rciful/cbtbot/internal/content"
)

// Context is the typed data a session carries for its current flow.
// Exactly one variant is live at a time.
type Context interface {
	isContext()
}

// Idle carries nothing.
type Idle struct{}

// Browsing remembers the course or project being viewed.
type Browsing struct {
	Course  string
	Project string
}

// Registering collects the registration form.
type Registering struct {
	Purpose string
	// Subject names the course or project the registration is for, if any.
	Subject string
	Name    string
	Phone   string
	City    string
	Email   string
}

// Composing holds the broadcast being composed.
type Composing struct {
	Buffer *content.Buffer
}

// ConfiguringWebinar holds the join URL until the time is entered.
type ConfiguringWebinar struct {
	URL string
}

func (Idle) isContext()               {}
func (Browsing) isContext()           {}
func (Registering) isContext()        {}
func (Composing) isContext()          {}
func (ConfiguringWebinar) isContext() {}

// Session is the conversation of one recipient.
type Session struct {
	RecipientID int64
	State       State
	Ctx         Context
}

// Sessions stores at most one session per recipient.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

// NewSessions returns an empty session store.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[int64]Session)}
}

// Get returns the session of id, or an idle one if none exists.
func (m *Sessions) Get(id int64) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	return Session{RecipientID: id, State: StateIdle, Ctx: Idle{}}
}

// Put replaces the session of s.RecipientID.
func (m *Sessions) Put(s Session) {
	if s.Ctx == nil {
		s.Ctx = Idle{}
	}
	m.mu.Lock()
	m.sessions[s.RecipientID] = s
	m.mu.Unlock()
}

// Clear drops the session of id.
func (m *Sessions) Clear(id int64) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
