package application

import (
	"sync"

	"github.com/nutritheory/merchant-bot/internal/conversation/domain"
)

// SessionStore keys one session per identity. Acquire hands out the
// session with its per-session lock held, so turns for one identity run
// strictly one at a time while different identities proceed in parallel.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry

	// lastMember survives session resets: it lets the out-of-band cancel
	// command find "my last order" after the ordering dialogue finished.
	lastMember map[string]string
}

type sessionEntry struct {
	mu      sync.Mutex
	session *domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:   make(map[string]*sessionEntry),
		lastMember: make(map[string]string),
	}
}

// Acquire returns the identity's session, creating it in the initial state
// on first contact, plus a release func the caller must invoke when the
// turn is done.
func (st *SessionStore) Acquire(identity string) (*domain.Session, func()) {
	st.mu.Lock()
	e, ok := st.sessions[identity]
	if !ok {
		s := &domain.Session{Identity: identity}
		s.Reset()
		e = &sessionEntry{session: s}
		st.sessions[identity] = e
	}
	st.mu.Unlock()

	e.mu.Lock()
	return e.session, e.mu.Unlock
}

// RememberMember binds an identity to the member id it last logged in as.
func (st *SessionStore) RememberMember(identity, memberID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastMember[identity] = memberID
}

// LastMember returns the member id an identity last logged in as, if any.
func (st *SessionStore) LastMember(identity string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	id, ok := st.lastMember[identity]
	return id, ok
}
