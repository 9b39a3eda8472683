package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/eventbroker/pkg/connections"
	"github.com/vango-dev/eventbroker/pkg/protocol"
)

// client is a WebSocket connection. Writes are serialized so each Send is
// exactly one frame on the wire.
type client struct {
	id   string
	key  string
	path string
	mode protocol.Mode
	conn *websocket.Conn

	writeTimeout time.Duration
	writeMu      sync.Mutex

	ready     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	logger *slog.Logger
}

var _ connections.Client = (*client)(nil)

func newClient(conn *websocket.Conn, path string, mode protocol.Mode, writeTimeout time.Duration, logger *slog.Logger) *client {
	c := &client{
		id:           uuid.NewString(),
		key:          protocol.RoutingKey(path),
		path:         path,
		mode:         mode,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
	c.logger = logger.With("conn_id", c.id, "path", path, "mode", mode)
	return c
}

// Key returns the routing key derived from the connection path.
func (c *client) Key() string { return c.key }

// Ready reports whether the client has sent a message.
func (c *client) Ready() bool { return c.ready.Load() }

// Open reports whether the transport is usable.
func (c *client) Open() bool { return !c.closed.Load() }

// markReady latches readiness. It reports whether this call set it.
func (c *client) markReady() bool {
	return c.ready.CompareAndSwap(false, true)
}

// Send writes one frame. The write deadline is the earlier of ctx's
// deadline and the write timeout.
func (c *client) Send(ctx context.Context, frame protocol.Frame) error {
	if c.closed.Load() {
		return connections.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	messageType := websocket.TextMessage
	if frame.Encoding == protocol.EncodingBinary {
		messageType = websocket.BinaryMessage
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(messageType, frame.Payload); err != nil {
		c.markClosed()
		return fmt.Errorf("write %s frame: %w", frame.Encoding, err)
	}
	return nil
}

// ping sends a heartbeat ping.
func (c *client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *client) markClosed() {
	c.closed.Store(true)
}

// Close sends a close frame and closes the connection. Safe to call more
// than once.
func (c *client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}
