// ABOUTME: Owns one messaging session per user and its worker goroutine.
// ABOUTME: All lookups go through one concurrency-safe table keyed by user id.

package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pennyworth/pennyworth/internal/router"
	"github.com/pennyworth/pennyworth/internal/transport"
)

// ErrSessionNotFound indicates no session exists for the user.
var ErrSessionNotFound = errors.New("session not found")

// Status of a bot session.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusActive     Status = "active"
	StatusRestarting Status = "restarting"
	StatusInactive   Status = "inactive"
)

// EventHandler consumes one inbound event and produces the reply text.
// Implemented by router.Router.
type EventHandler interface {
	Route(ctx context.Context, userID string, ev router.Event) string
}

// SessionStat is one row of the statistics query.
type SessionStat struct {
	UserID       string    `json:"user_id"`
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"last_activity"`
}

// Registry creates, restarts, and tears down per-user sessions. Each session
// runs an independent worker that exclusively owns its transport handle and
// is the only writer to that user's conversation state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	dialer   transport.Dialer
	handler  EventHandler
	recovery RecoveryConfig
	grace    time.Duration
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(dialer transport.Dialer, handler EventHandler, recovery RecoveryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*session),
		dialer:   dialer,
		handler:  handler,
		recovery: recovery,
		grace:    10 * time.Second,
		logger:   logger.With("component", "bot"),
	}
}

// Start creates a session for the user and launches its worker. An existing
// session for the same user is torn down first, so exactly one live
// transport handle per user exists afterward.
func (r *Registry) Start(userID string) error {
	r.mu.Lock()
	old := r.sessions[userID]
	r.mu.Unlock()
	if old != nil {
		r.stopSession(userID, old)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		userID: userID,
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusStarting,
	}

	r.mu.Lock()
	if cur := r.sessions[userID]; cur != nil {
		// Lost a race with a concurrent Start; tear down the newcomer.
		r.mu.Unlock()
		cancel()
		return r.Start(userID)
	}
	r.sessions[userID] = s
	r.mu.Unlock()

	go r.runWorker(ctx, s)

	r.logger.Info("session started", "user_id", userID)
	return nil
}

// Stop tears down the user's session, releasing its transport handle before
// the table entry is removed.
func (r *Registry) Stop(userID string) error {
	r.mu.Lock()
	s := r.sessions[userID]
	r.mu.Unlock()
	if s == nil {
		return ErrSessionNotFound
	}
	r.stopSession(userID, s)
	r.logger.Info("session stopped", "user_id", userID)
	return nil
}

// Restart tears the session down and starts a fresh one with a new transport
// handle. This is also the external re-activation path for inactive sessions.
func (r *Registry) Restart(userID string) error {
	r.mu.Lock()
	_, exists := r.sessions[userID]
	r.mu.Unlock()
	if !exists {
		return ErrSessionNotFound
	}
	return r.Start(userID)
}

// stopSession cancels the worker, waits for it to release its handle, and
// removes the entry if it still maps to this session.
func (r *Registry) stopSession(userID string, s *session) {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(r.grace):
		r.logger.Warn("worker did not stop within grace period", "user_id", userID)
	}

	r.mu.Lock()
	if cur := r.sessions[userID]; cur == s {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
}

// Stats returns the active-session count and per-session status.
func (r *Registry) Stats() (active int, stats []SessionStat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats = make([]SessionStat, 0, len(r.sessions))
	for _, s := range r.sessions {
		st := s.stat()
		if st.Status == StatusActive {
			active++
		}
		stats = append(stats, st)
	}
	return active, stats
}

// Shutdown cancels all session workers and waits up to the grace period for
// them to finish their in-flight events.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.cancel()
	}

	deadline := time.After(r.grace)
	for _, s := range all {
		select {
		case <-s.done:
		case <-deadline:
			r.logger.Warn("shutdown grace period expired with workers outstanding")
			return
		case <-ctx.Done():
			return
		}
	}
	r.logger.Info("all session workers stopped")
}
