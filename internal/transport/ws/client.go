// ABOUTME: Websocket implementation of the transport contract.
// ABOUTME: One connection per user against the chat relay, JSON frames both ways.

package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pennyworth/pennyworth/internal/transport"
)

const (
	writeTimeout   = 10 * time.Second
	handshakeLimit = 15 * time.Second
	maxFrameBytes  = 8 << 20 // receipts photos cap out well below 8 MiB
)

// frame is the wire format exchanged with the chat relay.
type frame struct {
	Type    string `json:"type"` // "text" | "photo" | "reply"
	Text    string `json:"text,omitempty"`
	Data    []byte `json:"data,omitempty"`
	Mime    string `json:"mime,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

// Dialer connects per-user websocket sessions to the relay at BaseURL.
// The user id is carried in the path: <base>/session/<userID>.
type Dialer struct {
	BaseURL string
	Token   string
	logger  *slog.Logger
}

// NewDialer creates a dialer for the given relay.
func NewDialer(baseURL, token string, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{BaseURL: baseURL, Token: token, logger: logger.With("component", "ws")}
}

// Dial opens a fresh connection for the user and starts its read pump.
func (d *Dialer) Dial(ctx context.Context, userID string) (transport.Transport, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}
	u = u.JoinPath("session", userID)

	dctx, cancel := context.WithTimeout(ctx, handshakeLimit)
	defer cancel()

	header := make(map[string][]string)
	if d.Token != "" {
		header["Authorization"] = []string{"Bearer " + d.Token}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dialing relay for %s: %w", userID, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	c := &Conn{
		conn:    conn,
		inbound: make(chan *transport.Inbound, 16),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
		logger:  d.logger.With("user_id", userID),
	}
	go c.readPump()
	return c, nil
}

// Conn is one live websocket session. Safe for one receiver and one sender;
// writes are serialized internally as gorilla requires a single writer.
type Conn struct {
	conn    *websocket.Conn
	inbound chan *transport.Inbound
	errc    chan error
	done    chan struct{}
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
	logger  *slog.Logger
}

// readPump reads frames until the connection dies and feeds Receive.
func (c *Conn) readPump() {
	defer close(c.inbound)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case c.errc <- err:
			default:
			}
			return
		}

		in := &transport.Inbound{}
		switch f.Type {
		case "photo":
			in.PhotoData = f.Data
			in.PhotoMime = f.Mime
			in.Grouped = f.GroupID != ""
		case "text":
			in.Text = f.Text
		default:
			c.logger.Debug("ignoring unknown frame type", "type", f.Type)
			continue
		}

		select {
		case c.inbound <- in:
		case <-c.done:
			return
		}
	}
}

// Receive returns the next inbound event.
func (c *Conn) Receive(ctx context.Context) (*transport.Inbound, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case in, ok := <-c.inbound:
		if !ok {
			select {
			case err := <-c.errc:
				return nil, fmt.Errorf("connection lost: %w", err)
			default:
				return nil, transport.ErrClosed
			}
		}
		return in, nil
	}
}

// Send writes a reply frame.
func (c *Conn) Send(_ context.Context, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return transport.ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(frame{Type: "reply", Text: text})
}

// Close releases the connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.conn.Close()
}

func (c *Conn) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}
