package broker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	berrors "github.com/vango-dev/eventbroker/internal/errors"
	"github.com/vango-dev/eventbroker/pkg/callbacks"
	"github.com/vango-dev/eventbroker/pkg/protocol"
	"github.com/vango-dev/eventbroker/pkg/workerpool"
)

func (b *Broker) handleFunction(w http.ResponseWriter, r *http.Request) {
	b.serveConn(w, r, protocol.ModeFunction, chi.URLParam(r, "name"))
}

func (b *Broker) handleEvent(w http.ResponseWriter, r *http.Request) {
	b.serveConn(w, r, protocol.ModeEvent, "")
}

// serveConn upgrades the request and runs the connection until it closes.
func (b *Broker) serveConn(w http.ResponseWriter, r *http.Request, mode protocol.Mode, function string) {
	b.mu.Lock()
	if b.closing.Load() {
		b.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	b.conns.Add(1)
	b.mu.Unlock()
	defer b.conns.Done()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return
	}
	conn.SetReadLimit(protocol.MaxMessageSize)

	c := newClient(conn, r.URL.Path, mode, b.config.WriteTimeout, b.logger)
	c.logger.Info("connected")
	b.metrics.ConnectionOpened(string(mode))

	// ctx ends when the transport fails or the broker shuts down.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	frames := make(chan protocol.Frame)
	var readErr error
	go func() {
		defer close(frames)
		readErr = b.readLoop(ctx, c, frames)
		cancel()
	}()
	go b.pingLoop(ctx, c)

	if mode == protocol.ModeEvent {
		b.clients.Register(c)
	}

	userID := b.serveLoop(ctx, c, frames, function)

	cancel()
	c.Close()
	for range frames {
		// drain so the reader can exit
	}
	if readErr != nil && websocket.IsUnexpectedCloseError(readErr,
		websocket.CloseGoingAway,
		websocket.CloseNormalClosure,
		websocket.CloseNoStatusReceived) {
		c.logger.Warn("connection closed abnormally", "error", readErr)
	}

	// A newer connection on the same key keeps the callbacks.
	if mode == protocol.ModeEvent && b.clients.Remove(c.key, c) {
		if n := b.callbacks.RemoveByKeyFragment(c.path, userID); n > 0 {
			c.logger.Info("removed callbacks for closed connection", "user_id", userID, "count", n)
		}
	}
	b.metrics.ConnectionClosed(string(mode))
	c.logger.Info("disconnected")
}

// readLoop forwards inbound data frames until the transport fails.
func (b *Broker) readLoop(ctx context.Context, c *client, frames chan<- protocol.Frame) error {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.markClosed()
			return err
		}

		enc := protocol.EncodingText
		if messageType == websocket.BinaryMessage {
			enc = protocol.EncodingBinary
		}
		select {
		case frames <- protocol.Frame{Encoding: enc, Payload: data}:
		case <-ctx.Done():
			return nil
		}
	}
}

// pingLoop sends heartbeat pings until ctx is done.
func (b *Broker) pingLoop(ctx context.Context, c *client) {
	ticker := b.clock.NewTicker(b.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.ping(); err != nil {
				c.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

// serveLoop handles frames in arrival order. It returns the last user id
// seen on the connection.
func (b *Broker) serveLoop(ctx context.Context, c *client, frames <-chan protocol.Frame, function string) string {
	userID := callbacks.DefaultUserID

	var limiter *rate.Limiter
	if b.config.RateLimit > 0 {
		limiter = rate.NewLimiter(b.config.RateLimit, b.config.RateBurst)
	}

	timeout := b.config.ReceiveTimeout
	timer := b.clock.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-b.done:
			return userID

		case <-timer.Chan():
			c.logger.Debug("receive timeout")
			if !c.Open() {
				c.logger.Warn("closing connection after receive timeout")
				return userID
			}
			timer.Reset(timeout)
			continue

		case frame, ok := <-frames:
			if !ok {
				return userID
			}
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
			timer.Reset(timeout)

			b.metrics.MessageReceived(string(c.mode))
			if limiter != nil && !limiter.Allow() {
				be := berrors.New(berrors.CodeRateLimited)
				b.metrics.Error(string(be.Category))
				c.logger.Warn("dropping message over rate limit")
				continue
			}

			if c.mode == protocol.ModeFunction {
				b.handleFunctionFrame(ctx, c, function, frame)
			} else if uid := b.handleEventFrame(ctx, c, frame); uid != "" {
				userID = uid
			}
		}
	}
}

// decode decodes a frame, warning when decoding is slow.
func (b *Broker) decode(c *client, frame protocol.Frame) (protocol.Message, error) {
	start := time.Now()
	msg, err := protocol.Decode(frame)
	duration := time.Since(start)
	if duration > b.config.SlowDecode {
		c.logger.Warn("slow message decode", "duration", duration, "bytes", len(frame.Payload))
	}
	return msg, err
}

// handleFunctionFrame runs one RPC call and replies on the same connection.
func (b *Broker) handleFunctionFrame(ctx context.Context, c *client, name string, frame protocol.Frame) {
	msg, err := b.decode(c, frame)
	if err != nil {
		be := berrors.New(berrors.CodeMalformedMessage).Wrap(err)
		b.reply(ctx, c, be.Event(""), protocol.EncodingText)
		b.logError(c, be)
		return
	}

	h, ok := b.functions.Resolve(name)
	if !ok {
		be := berrors.New(berrors.CodeUnknownFunction).WithDetailf("function %q is not registered", name)
		b.logError(c, be)
		b.reply(ctx, c, be.Event(msg.ID()), msg.Encoding())
		return
	}

	req := b.newRequest(protocol.ModeFunction, name, c.path, msg.UserID(), msg)
	task, err := b.pool.Submit("function:"+name, func(taskCtx context.Context) (any, error) {
		return h(taskCtx, req)
	})
	if err == nil {
		_, err = task.Wait(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			if task != nil && task.Cancel() {
				c.logger.Debug("cancelled call for closed connection", "function", name)
			}
			return
		}
		be := classifyTaskError(err)
		b.logError(c, be, "function", name)
		b.reply(ctx, c, be.Event(msg.ID()), msg.Encoding())
		return
	}

	result, _ := task.Result()
	out, err := protocol.Encode(result, msg.Encoding())
	if err != nil {
		be := berrors.New(berrors.CodeHandlerFailed).WithDetail("response is not encodable").Wrap(err)
		b.logError(c, be, "function", name)
		b.reply(ctx, c, be.Event(msg.ID()), msg.Encoding())
		return
	}
	if err := c.Send(ctx, out); err != nil {
		b.logError(c, berrors.New(berrors.CodeWriteFailed).Wrap(err), "function", name)
		return
	}
	c.logger.Debug("sent function response", "function", name, "encoding", out.Encoding)
}

// handleEventFrame dispatches one event to its callback. It returns the
// user id of the message, or "" when the message was not dispatched.
func (b *Broker) handleEventFrame(ctx context.Context, c *client, frame protocol.Frame) string {
	msg, err := b.decode(c, frame)
	if err != nil {
		b.logError(c, berrors.New(berrors.CodeMalformedMessage).Wrap(err))
		return ""
	}

	id := msg.ID()
	if id == "" {
		b.logError(c, berrors.New(berrors.CodeMissingID))
		return ""
	}
	if c.markReady() {
		c.logger.Debug("client ready", "key", c.key)
	}

	if b.tokens != nil && !b.tokens.ValidToken(ctx, msg.AccessToken()) {
		be := berrors.New(berrors.CodeNotAuthenticated).WithDetailf("event %q", id)
		b.logError(c, be)
		b.SendData(be.Event(id))
		return ""
	}

	userID := callbacks.NormalizeUser(msg.UserID())
	req := b.newRequest(protocol.ModeEvent, id, c.path, userID, msg)
	task, ok := b.callbacks.Dispatch(ctx, userID, id, req)
	if !ok {
		be := berrors.New(berrors.CodeUnknownCallback).WithDetailf("user %q event %q", userID, id)
		b.logError(c, be)
		return userID
	}
	if task == nil || task.Status() == workerpool.StatusRejected {
		b.logError(c, berrors.New(berrors.CodeQueueFull), "event_id", id)
	}
	return userID
}

// reply sends an error or result message on c.
func (b *Broker) reply(ctx context.Context, c *client, msg protocol.Message, enc protocol.Encoding) {
	frame, err := protocol.Encode(msg, enc)
	if err != nil {
		c.logger.Error("encode reply", "error", err)
		return
	}
	if err := c.Send(ctx, frame); err != nil {
		c.logger.Debug("send reply", "error", err)
	}
}

func (b *Broker) logError(c *client, be *berrors.BrokerError, attrs ...any) {
	b.metrics.Error(string(be.Category))
	args := append(be.LogAttrs(), attrs...)
	switch be.Category {
	case berrors.CategoryRouting, berrors.CategoryApplication, berrors.CategoryTimeout:
		c.logger.Error(be.Message, args...)
	default:
		c.logger.Warn(be.Message, args...)
	}
}

// classifyTaskError maps a pool outcome onto a broker error.
func classifyTaskError(err error) *berrors.BrokerError {
	switch {
	case errors.Is(err, workerpool.ErrTaskTimeout):
		return berrors.New(berrors.CodeHandlerTimeout).Wrap(err)
	case errors.Is(err, workerpool.ErrPanic):
		return berrors.New(berrors.CodeHandlerPanic).Wrap(err)
	case errors.Is(err, workerpool.ErrQueueFull), errors.Is(err, workerpool.ErrClosed):
		return berrors.New(berrors.CodeQueueFull).Wrap(err)
	default:
		return berrors.FromError(err, berrors.CodeHandlerFailed)
	}
}
