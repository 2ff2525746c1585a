// ABOUTME: Transport contract for per-user messaging sessions.
// ABOUTME: A handle is owned by exactly one session worker, never shared.

package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Receive and Send after the handle is closed.
var ErrClosed = errors.New("transport closed")

// Inbound is one event received from the user's chat channel. Photo events
// carry image bytes; everything else is text.
type Inbound struct {
	Text      string
	PhotoData []byte
	PhotoMime string
	// Grouped marks a photo that arrived as part of an album.
	Grouped bool
}

// IsPhoto reports whether the event carries an image.
func (in *Inbound) IsPhoto() bool {
	return len(in.PhotoData) > 0
}

// Transport is a live messaging connection for a single user. Receive blocks
// until an event arrives, the context is cancelled, or the connection fails;
// a failed Receive means the handle is dead and must be replaced via Dial.
type Transport interface {
	Receive(ctx context.Context) (*Inbound, error)
	Send(ctx context.Context, text string) error
	Close() error
}

// Dialer creates a fresh transport handle for a user. The session registry
// calls it on start and on every restart.
type Dialer interface {
	Dial(ctx context.Context, userID string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, userID string) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, userID string) (Transport, error) {
	return f(ctx, userID)
}
