// Package flow implements the multi-step conversation state machine.
//
// # Overview
//
// Each flow is a declarative table of steps. A step names the field it
// collects, how to prompt for it, how to validate a reply, and optionally
// whether it applies to this session at all. The engine walks the table:
// invalid input re-prompts without advancing, valid input stores the field
// and moves to the next applicable step, and the final step commits.
//
// # Cancellation
//
// The /cancel token is checked before validation at every step, so a user
// can always abandon a conversation regardless of what the current step
// expects.
//
// # Commit semantics
//
// A commit is attempted at most once per conversation. The session ends
// when the commit is attempted, whether or not it succeeds; a failed
// commit asks the user to re-issue the command rather than retrying
// silently.
package flow
