// ABOUTME: The per-user session worker - the only goroutine touching this user's state.
// ABOUTME: Receives events in arrival order, routes them, and survives transport failures.

package bot

import (
	"context"
	"sync"
	"time"

	"github.com/pennyworth/pennyworth/internal/router"
	"github.com/pennyworth/pennyworth/internal/transport"
)

// session is one user's live bot session. The worker goroutine owns the
// transport handle; the registry only cancels and observes.
type session struct {
	userID string
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
}

func (s *session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) stat() SessionStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStat{UserID: s.userID, Status: s.status, LastActivity: s.lastActivity}
}

// runWorker dials, pumps events, and applies the restart policy until the
// session is cancelled or its failure budget is exhausted.
func (r *Registry) runWorker(ctx context.Context, s *session) {
	defer close(s.done)

	rec := NewRecoveryManager(r.recovery)
	first := true

	for {
		if first {
			s.setStatus(StatusStarting)
			first = false
		} else {
			s.setStatus(StatusRestarting)
		}

		tr, err := r.dialer.Dial(ctx, s.userID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("dial failed", "user_id", s.userID, "error", err)
			if !r.backoffOrDemote(ctx, s, rec) {
				return
			}
			continue
		}

		s.setStatus(StatusActive)
		err = r.pump(ctx, s, tr, rec)

		// Release the handle before any restart so churn never leaks
		// connections.
		tr.Close()

		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("transport error, restarting session", "user_id", s.userID, "error", err)
		if !r.backoffOrDemote(ctx, s, rec) {
			return
		}
	}
}

// pump processes inbound events strictly in arrival order until the
// transport fails or the session is cancelled.
func (r *Registry) pump(ctx context.Context, s *session, tr transport.Transport, rec *RecoveryManager) error {
	for {
		in, err := tr.Receive(ctx)
		if err != nil {
			return err
		}
		rec.Reset()
		s.touch()

		reply := r.handler.Route(ctx, s.userID, toEvent(in))
		if reply == "" {
			continue
		}
		if err := tr.Send(ctx, reply); err != nil {
			return err
		}
	}
}

// backoffOrDemote applies the restart policy after a failure. Returns false
// when the worker must exit (demoted or cancelled).
func (r *Registry) backoffOrDemote(ctx context.Context, s *session, rec *RecoveryManager) bool {
	delay, exhausted := rec.RecordFailure()
	if exhausted {
		s.setStatus(StatusInactive)
		r.logger.Error("restart budget exhausted, session demoted to inactive",
			"user_id", s.userID)
		return false
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func toEvent(in *transport.Inbound) router.Event {
	if in.IsPhoto() {
		return router.Event{Photo: &router.Photo{
			Data:     in.PhotoData,
			MimeType: in.PhotoMime,
			Grouped:  in.Grouped,
		}}
	}
	return router.Event{Text: in.Text}
}
