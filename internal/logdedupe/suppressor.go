// ABOUTME: Bounds error-log volume by suppressing repeated error signatures.
// ABOUTME: One misbehaving client cannot drown diagnostics for everyone else.

package logdedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at      time.Time
	element *list.Element
}

// Suppressor tracks recently logged (user, signature) pairs. A pair seen
// again within the window is suppressed. Size-limited with oldest-first
// eviction; expired pairs are dropped when next touched, not by a background
// sweep.
type Suppressor struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	window  time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a suppressor. Pairs repeat-logged within window are dropped;
// at most maxSize pairs are tracked.
func New(window time.Duration, maxSize int) *Suppressor {
	return &Suppressor{
		seen:    make(map[string]*entry),
		order:   list.New(),
		window:  window,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Suppress records the signature and reports whether it was already seen
// within the window. The first occurrence returns false (log it); repeats
// inside the window return true (drop it).
func (s *Suppressor) Suppress(userID, signature string) bool {
	key := userID + "|" + signature

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.seen[key]; ok {
		if now.Sub(e.at) < s.window {
			return true
		}
		// Window elapsed: log again and restart the window.
		e.at = now
		s.order.MoveToBack(e.element)
		return false
	}

	if len(s.seen) >= s.maxSize {
		s.evictOldest()
	}
	elem := s.order.PushBack(key)
	s.seen[key] = &entry{at: now, element: elem}
	return false
}

// evictOldest drops the least recently recorded pair. Must hold mu.
func (s *Suppressor) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.seen, key)
}
