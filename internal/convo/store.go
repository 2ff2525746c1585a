// ABOUTME: In-memory registry of active per-user dialog sessions.
// ABOUTME: Pure bookkeeping - flow semantics live in the flow package.

package convo

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyInConversation indicates the user has an active session and the
// caller did not cancel it first.
var ErrAlreadyInConversation = errors.New("already in a conversation")

// ErrNoConversation indicates no active session exists for the user.
var ErrNoConversation = errors.New("no active conversation")

// FlowKind names a guided multi-step dialog.
type FlowKind string

// Known flows.
const (
	FlowCreateExpense FlowKind = "create-expense"
	FlowCreateIncome  FlowKind = "create-income"
	FlowCreateProject FlowKind = "create-project"
	FlowCloseProject  FlowKind = "close-project"
	FlowOpenProject   FlowKind = "open-project"
	FlowProjectSelect FlowKind = "project-selection"
)

// Session holds the in-progress state of one user's flow. It is mutated only
// through the Store by the user's own session worker; other components get
// read-only lookups.
type Session struct {
	UserID    string
	Flow      FlowKind
	Step      int
	Fields    map[string]any
	CreatedAt time.Time
}

// Store tracks at most one Session per user. Sessions expire after ttl,
// enforced lazily on lookup.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates an empty store. ttl <= 0 disables expiry.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the user's active session, if any. An expired session is
// removed and reported as absent.
func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if s.ttl > 0 && s.now().Sub(sess.CreatedAt) > s.ttl {
		s.mu.Lock()
		// Re-check under the write lock; the worker may have replaced it.
		if cur, still := s.sessions[userID]; still && cur == sess {
			delete(s.sessions, userID)
		}
		s.mu.Unlock()
		return nil, false
	}
	return sess, true
}

// Start begins a new session for the user. Fails with
// ErrAlreadyInConversation if one is active; callers must End first.
func (s *Store) Start(userID string, flow FlowKind, initial map[string]any) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		if s.ttl <= 0 || s.now().Sub(sess.CreatedAt) <= s.ttl {
			return nil, ErrAlreadyInConversation
		}
		// Expired sessions do not block a fresh start.
	}
	return s.startLocked(userID, flow, initial), nil
}

// Replace begins a new session, discarding any prior one. This is the
// cancellation path; all other callers go through Start.
func (s *Store) Replace(userID string, flow FlowKind, initial map[string]any) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(userID, flow, initial)
}

func (s *Store) startLocked(userID string, flow FlowKind, initial map[string]any) *Session {
	fields := make(map[string]any, len(initial))
	for k, v := range initial {
		fields[k] = v
	}
	sess := &Session{
		UserID:    userID,
		Flow:      flow,
		Step:      0,
		Fields:    fields,
		CreatedAt: s.now(),
	}
	s.sessions[userID] = sess
	return sess
}

// Advance records a successful step: merges the validated fields and moves
// the session to stepIndex.
func (s *Store) Advance(userID string, stepIndex int, merged map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return ErrNoConversation
	}
	for k, v := range merged {
		sess.Fields[k] = v
	}
	sess.Step = stepIndex
	return nil
}

// End removes the user's session. Ending an absent session is a no-op.
func (s *Store) End(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len returns the number of active sessions, counting expired ones that have
// not been looked up yet.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
