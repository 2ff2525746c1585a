// ABOUTME: Restart policy for failed transport sessions.
// ABOUTME: Bounded exponential backoff; repeated failures demote the session to inactive.

package bot

import (
	"time"
)

// RecoveryConfig bounds the restart behavior of a session worker.
type RecoveryConfig struct {
	// InitialBackoff is the delay before the first restart attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the doubling delay.
	MaxBackoff time.Duration
	// MaxFailures consecutive failures within FailureWindow demote the
	// session to inactive.
	MaxFailures   int
	FailureWindow time.Duration
}

// DefaultRecoveryConfig returns the production restart policy.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		MaxFailures:    5,
		FailureWindow:  10 * time.Minute,
	}
}

// RecoveryManager tracks one session's transport failures and decides
// between restart-with-backoff and demotion. It is owned by a single worker
// goroutine and needs no locking.
type RecoveryManager struct {
	cfg      RecoveryConfig
	backoff  time.Duration
	failures []time.Time
	now      func() time.Time
}

// NewRecoveryManager creates a manager with the given policy.
func NewRecoveryManager(cfg RecoveryConfig) *RecoveryManager {
	return &RecoveryManager{cfg: cfg, now: time.Now}
}

// RecordFailure notes a transport failure and returns the delay before the
// next restart attempt, or exhausted=true when the failure budget for the
// rolling window is spent and the session must be demoted.
func (r *RecoveryManager) RecordFailure() (delay time.Duration, exhausted bool) {
	now := r.now()
	cutoff := now.Add(-r.cfg.FailureWindow)

	kept := r.failures[:0]
	for _, t := range r.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.failures = append(kept, now)

	if len(r.failures) >= r.cfg.MaxFailures {
		return 0, true
	}

	if r.backoff == 0 {
		r.backoff = r.cfg.InitialBackoff
	} else {
		r.backoff *= 2
		if r.backoff > r.cfg.MaxBackoff {
			r.backoff = r.cfg.MaxBackoff
		}
	}
	return r.backoff, false
}

// Reset clears the failure history after a healthy receive.
func (r *RecoveryManager) Reset() {
	r.backoff = 0
	r.failures = r.failures[:0]
}
