// ABOUTME: Tests for the sliding-window rate limiter.
// ABOUTME: Validates the rate bound, window expiry, per-user isolation, and pruning.

package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedClock lets tests advance time deterministically.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter() (*Limiter, *fixedClock) {
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New()
	l.now = clock.Now
	return l, clock
}

func TestLimiter_AllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("user-1", ActionText, 5, time.Minute), "call %d should be allowed", i)
	}
	assert.False(t, l.Allow("user-1", ActionText, 5, time.Minute), "sixth call should be rejected")
}

func TestLimiter_RejectionDoesNotConsume(t *testing.T) {
	l, clock := newTestLimiter()

	assert.True(t, l.Allow("user-1", ActionText, 1, time.Minute))
	// Rejected calls must not extend the window.
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("user-1", ActionText, 1, time.Minute))
	}

	clock.Advance(61 * time.Second)
	assert.True(t, l.Allow("user-1", ActionText, 1, time.Minute), "window should clear after expiry")
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter()

	assert.True(t, l.Allow("user-1", ActionText, 2, time.Minute))
	clock.Advance(40 * time.Second)
	assert.True(t, l.Allow("user-1", ActionText, 2, time.Minute))
	assert.False(t, l.Allow("user-1", ActionText, 2, time.Minute))

	// First timestamp expires, second is still inside the window.
	clock.Advance(30 * time.Second)
	assert.True(t, l.Allow("user-1", ActionText, 2, time.Minute))
	assert.False(t, l.Allow("user-1", ActionText, 2, time.Minute))
}

func TestLimiter_UsersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	assert.True(t, l.Allow("user-1", ActionText, 1, time.Minute))
	assert.False(t, l.Allow("user-1", ActionText, 1, time.Minute))
	assert.True(t, l.Allow("user-2", ActionText, 1, time.Minute), "other users must not be affected")
}

func TestLimiter_ActionClassesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	assert.True(t, l.Allow("user-1", ActionPhoto, 1, time.Minute))
	assert.False(t, l.Allow("user-1", ActionPhoto, 1, time.Minute))
	assert.True(t, l.Allow("user-1", ActionText, 1, time.Minute), "text window is separate from photo window")
}

func TestLimiter_ZeroLimitAlwaysRejects(t *testing.T) {
	l, _ := newTestLimiter()
	assert.False(t, l.Allow("user-1", ActionText, 0, time.Minute))
}

func TestLimiter_RateBoundProperty(t *testing.T) {
	// In any trailing window the number of allowed events never exceeds
	// the limit, regardless of call pattern.
	l, clock := newTestLimiter()

	const limit = 3
	window := time.Minute
	var allowedAt []time.Time

	for i := 0; i < 200; i++ {
		if l.Allow("user-1", ActionText, limit, window) {
			allowedAt = append(allowedAt, clock.Now())
		}
		clock.Advance(7 * time.Second)
	}

	for _, end := range allowedAt {
		start := end.Add(-window)
		count := 0
		for _, ts := range allowedAt {
			if ts.After(start) && !ts.After(end) {
				count++
			}
		}
		assert.LessOrEqual(t, count, limit, "trailing window ending at %v holds %d allowed events", end, count)
	}
}

func TestLimiter_ConcurrentUsers(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	for u := 0; u < 20; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", u)
			allowed := 0
			for i := 0; i < 50; i++ {
				if l.Allow(user, ActionText, 10, time.Minute) {
					allowed++
				}
			}
			assert.Equal(t, 10, allowed, "each user gets exactly its own budget")
		}(u)
	}
	wg.Wait()
}

func TestLimiter_PrunesStaleKeys(t *testing.T) {
	l, clock := newTestLimiter()

	assert.True(t, l.Allow("user-1", ActionText, 1, time.Minute))
	assert.Equal(t, 1, l.Active())

	clock.Advance(2 * time.Minute)
	// Next access for the same key prunes expired timestamps before checking.
	assert.True(t, l.Allow("user-1", ActionText, 1, time.Minute))
	assert.Equal(t, 1, l.Active())
}
