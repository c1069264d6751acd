// Package console relays game server output to interactive console
// sessions and routes their commands back to the process.
package console

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout expires sessions idle for longer than this.
const DefaultSessionTimeout = 30 * time.Minute

// Conn is the transport of one console session.
type Conn interface {
	SendMessage(msgType string, payload interface{}) error
	Close() error
}

// Session is one attached console client.
type Session struct {
	Handle    string
	Principal string
	Conn      Conn
	CreatedAt time.Time

	lastActive atomic.Int64
	filter     atomic.Pointer[OutputFilter]

	ctx    context.Context
	cancel context.CancelFunc
}

// LastActive returns the time of the session's most recent inbound activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// SetFilter restricts the lines relayed to this session. Nil relays
// everything.
func (s *Session) SetFilter(filter *OutputFilter) {
	s.filter.Store(filter)
}

// Filter returns the active output filter, if any.
func (s *Session) Filter() *OutputFilter {
	return s.filter.Load()
}

// Context is cancelled once the session is removed.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// SessionStore tracks the attached console sessions.
type SessionStore struct {
	timeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store expiring sessions after timeout.
func NewSessionStore(timeout time.Duration) *SessionStore {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionStore{
		timeout:  timeout,
		sessions: make(map[string]*Session),
	}
}

// AddSession registers conn under a new handle.
func (st *SessionStore) AddSession(principal string, conn Conn) *Session {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		Handle:    uuid.New().String(),
		Principal: principal,
		Conn:      conn,
		CreatedAt: now,
		ctx:       ctx,
		cancel:    cancel,
	}
	session.touch(now)

	st.mu.Lock()
	st.sessions[session.Handle] = session
	count := len(st.sessions)
	st.mu.Unlock()

	log.Printf("[Console] Session %s attached for %s (%d active)", session.Handle, principal, count)
	return session
}

// RemoveSession forgets handle and cancels its relay. The connection is left
// to its owner.
func (st *SessionStore) RemoveSession(handle string) bool {
	st.mu.Lock()
	session, ok := st.sessions[handle]
	delete(st.sessions, handle)
	st.mu.Unlock()

	if !ok {
		return false
	}
	session.cancel()
	log.Printf("[Console] Session %s detached", handle)
	return true
}

// Touch marks handle as active now.
func (st *SessionStore) Touch(handle string) bool {
	session, ok := st.Get(handle)
	if !ok {
		return false
	}
	session.touch(time.Now())
	return true
}

// Get returns the session registered under handle.
func (st *SessionStore) Get(handle string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	session, ok := st.sessions[handle]
	return session, ok
}

// Sessions returns the sessions of principal, or every session when
// principal is empty.
func (st *SessionStore) Sessions(principal string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sessions := make([]*Session, 0, len(st.sessions))
	for _, session := range st.sessions {
		if principal == "" || session.Principal == principal {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// Count returns the number of attached sessions.
func (st *SessionStore) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// EvictExpiredSessions removes sessions idle past the timeout at now and
// closes their connections. Connections are closed after the lock is
// released.
func (st *SessionStore) EvictExpiredSessions(now time.Time) int {
	cutoff := now.Add(-st.timeout)

	st.mu.Lock()
	var expired []*Session
	for handle, session := range st.sessions {
		if session.LastActive().Before(cutoff) {
			expired = append(expired, session)
			delete(st.sessions, handle)
		}
	}
	st.mu.Unlock()

	for _, session := range expired {
		session.cancel()
		if err := session.Conn.Close(); err != nil {
			log.Printf("[Console] Failed to close expired session %s: %v", session.Handle, err)
		}
	}
	if len(expired) > 0 {
		log.Printf("[Console] Evicted %d expired sessions", len(expired))
	}
	return len(expired)
}
