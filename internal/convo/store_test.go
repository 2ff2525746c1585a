// ABOUTME: Tests for the conversation session store.
// ABOUTME: Validates start/advance/end bookkeeping, exclusivity, and lazy expiry.

package convo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetAbsent(t *testing.T) {
	s := NewStore(0)
	_, ok := s.Get("user-1")
	assert.False(t, ok)
}

func TestStore_StartAndGet(t *testing.T) {
	s := NewStore(0)

	sess, err := s.Start("user-1", FlowCreateExpense, map[string]any{"projects": 0})
	require.NoError(t, err)
	assert.Equal(t, FlowCreateExpense, sess.Flow)
	assert.Equal(t, 0, sess.Step)
	assert.Equal(t, 0, sess.Fields["projects"])

	got, ok := s.Get("user-1")
	require.True(t, ok)
	assert.Same(t, sess, got)
}

func TestStore_StartRejectsSecondConversation(t *testing.T) {
	s := NewStore(0)

	_, err := s.Start("user-1", FlowCreateExpense, nil)
	require.NoError(t, err)

	_, err = s.Start("user-1", FlowCreateIncome, nil)
	assert.ErrorIs(t, err, ErrAlreadyInConversation)

	// Other users are unaffected.
	_, err = s.Start("user-2", FlowCreateIncome, nil)
	assert.NoError(t, err)
}

func TestStore_ReplaceOverwrites(t *testing.T) {
	s := NewStore(0)

	_, err := s.Start("user-1", FlowCreateExpense, nil)
	require.NoError(t, err)

	sess := s.Replace("user-1", FlowProjectSelect, map[string]any{"seeded": true})
	assert.Equal(t, FlowProjectSelect, sess.Flow)

	got, ok := s.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, FlowProjectSelect, got.Flow)
	assert.Equal(t, true, got.Fields["seeded"])
}

func TestStore_AdvanceMergesFields(t *testing.T) {
	s := NewStore(0)

	_, err := s.Start("user-1", FlowCreateExpense, nil)
	require.NoError(t, err)

	require.NoError(t, s.Advance("user-1", 1, map[string]any{"date": "2025-01-15"}))
	require.NoError(t, s.Advance("user-1", 2, map[string]any{"store": "Walmart"}))

	sess, ok := s.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, 2, sess.Step)
	assert.Equal(t, "2025-01-15", sess.Fields["date"])
	assert.Equal(t, "Walmart", sess.Fields["store"])
}

func TestStore_AdvanceWithoutSession(t *testing.T) {
	s := NewStore(0)
	err := s.Advance("user-1", 1, nil)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestStore_End(t *testing.T) {
	s := NewStore(0)

	_, err := s.Start("user-1", FlowCreateExpense, nil)
	require.NoError(t, err)

	s.End("user-1")
	_, ok := s.Get("user-1")
	assert.False(t, ok)

	// Ending twice is harmless.
	s.End("user-1")
}

func TestStore_LazyExpiry(t *testing.T) {
	s := NewStore(10 * time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	_, err := s.Start("user-1", FlowCreateExpense, nil)
	require.NoError(t, err)

	now = base.Add(5 * time.Minute)
	_, ok := s.Get("user-1")
	assert.True(t, ok, "session inside ttl stays active")

	now = base.Add(11 * time.Minute)
	_, ok = s.Get("user-1")
	assert.False(t, ok, "expired session is removed on lookup")
	assert.Equal(t, 0, s.Len())
}

func TestStore_ExpiredSessionDoesNotBlockStart(t *testing.T) {
	s := NewStore(10 * time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	_, err := s.Start("user-1", FlowCreateExpense, nil)
	require.NoError(t, err)

	now = base.Add(11 * time.Minute)
	sess, err := s.Start("user-1", FlowCreateIncome, nil)
	require.NoError(t, err)
	assert.Equal(t, FlowCreateIncome, sess.Flow)
}
