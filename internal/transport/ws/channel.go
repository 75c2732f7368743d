package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// conn is the subset of *websocket.Conn a channel writes to.
type conn interface {
	SetWriteDeadline(t time.Time) error
	Close() error
}

// channel is one live WebSocket connection registered for a user's activity stream.
type channel struct {
	id string

	mu      sync.Mutex
	conn    conn
	encoder *json.Encoder
	closed  bool
}

func newChannel(c *websocket.Conn) *channel {
	return &channel{
		id:      uuid.NewString(),
		conn:    c,
		encoder: json.NewEncoder(c),
	}
}

// ID implements registry.Channel.
func (c *channel) ID() string { return c.id }

// Send implements registry.Channel by wrapping payload in an activity-update frame.
// A deadline on ctx bounds the socket write.
func (c *channel) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(ctx, wsFrame{Type: frameActivityUpdate, Payload: payload})
}

func (c *channel) write(ctx context.Context, frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errChannelClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.encoder.Encode(frame)
}

// Close implements registry.Channel.
func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
