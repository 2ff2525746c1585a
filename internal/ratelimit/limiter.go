// ABOUTME: Sliding-window rate limiter keyed by (user, action class).
// ABOUTME: Check-and-record with lazy pruning; no background sweeps.

package ratelimit

import (
	"sync"
	"time"
)

// Action identifies a class of user activity with its own window.
type Action string

// Action classes gated by the router.
const (
	ActionText  Action = "text"
	ActionPhoto Action = "photo"
)

// Limiter tracks recent event timestamps per (user, action) key. Expired
// timestamps are pruned on the next check for that same key, so memory is
// bounded by the set of recently active users.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether the event fits in the trailing window. If it does,
// the event is recorded; if not, state is left untouched. Never errors.
func (l *Limiter) Allow(userID string, action Action, limit int, window time.Duration) bool {
	if limit <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := userID + ":" + string(action)
	now := l.now()
	cutoff := now.Add(-window)

	recent := l.windows[key]
	// Drop expired timestamps; they are ordered oldest-first.
	for len(recent) > 0 && !recent[0].After(cutoff) {
		recent = recent[1:]
	}

	if len(recent) >= limit {
		l.windows[key] = recent
		return false
	}

	l.windows[key] = append(recent, now)
	return true
}

// Active returns the number of tracked (user, action) windows. Intended for
// tests and stats.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
