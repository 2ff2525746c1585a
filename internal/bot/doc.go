// Package bot manages per-user messaging sessions and their recovery.
//
// Each user gets one worker goroutine that exclusively owns a transport
// handle. Events for a user are processed strictly in arrival order. When
// the transport fails, the worker reconnects with bounded exponential
// backoff; when failures pile up within a rolling window, the session is
// demoted to inactive and stays down until an operator restarts it.
package bot
