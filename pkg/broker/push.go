package broker

import (
	"context"
	"errors"

	berrors "github.com/vango-dev/eventbroker/internal/errors"
	"github.com/vango-dev/eventbroker/pkg/connections"
	"github.com/vango-dev/eventbroker/pkg/protocol"
	"github.com/vango-dev/eventbroker/pkg/workerpool"
)

// Push outcomes recorded in metrics.
const (
	pushSent     = "sent"
	pushRejected = "rejected"
	pushFailed   = "failed"
)

// SendData pushes msg to the connection whose routing key is msg's id. The
// send runs on the worker pool; the caller never blocks on the network.
// Failures are logged and reported on the returned task, never raised.
func (b *Broker) SendData(msg protocol.Message) *workerpool.Task {
	msg = msg.Clone()
	task, err := b.pool.Submit("send_data", func(ctx context.Context) (any, error) {
		return nil, b.deliver(ctx, msg)
	})
	if err != nil {
		b.metrics.Push(pushRejected)
		b.logger.Warn("push not scheduled", "id", msg.ID(), "error", err)
	}
	return task
}

// deliver encodes msg, waits for its target to be ready and sends it.
func (b *Broker) deliver(ctx context.Context, msg protocol.Message) error {
	id := msg.ID()
	if id == "" {
		return b.pushError(berrors.New(berrors.CodeMissingID), "")
	}
	key := protocol.RoutingKey(protocol.PrefixWS + id)

	frame, err := protocol.Encode(msg, msg.Encoding())
	if err != nil {
		return b.pushError(berrors.New(berrors.CodeMalformedMessage).Wrap(err), key)
	}

	c, err := b.clients.LookupReady(ctx, key, b.config.PushWait)
	if err != nil {
		return b.pushError(lookupError(err), key)
	}
	if err := c.Send(ctx, frame); err != nil {
		return b.pushError(berrors.New(berrors.CodeWriteFailed).Wrap(err), key)
	}

	b.metrics.Push(pushSent)
	b.logger.Info("sent", "key", key, "encoding", frame.Encoding)
	return nil
}

func (b *Broker) pushError(be *berrors.BrokerError, key string) error {
	b.metrics.Push(pushFailed)
	b.metrics.Error(string(be.Category))
	b.logger.Warn(be.Message, append([]any{"key", key}, be.LogAttrs()...)...)
	return be
}

func lookupError(err error) *berrors.BrokerError {
	switch {
	case errors.Is(err, connections.ErrNotFound):
		return berrors.New(berrors.CodeNoClient)
	case errors.Is(err, connections.ErrClosed):
		return berrors.New(berrors.CodeClientClosed)
	case errors.Is(err, connections.ErrNotReady):
		return berrors.New(berrors.CodeClientNotReady)
	default:
		return berrors.New(berrors.CodeNoClient).Wrap(err)
	}
}

// ExecuteFunctionAndSendResult runs fn on the worker pool and pushes its
// result with SendData. The result must be a Message carrying an id.
func (b *Broker) ExecuteFunctionAndSendResult(name string, fn workerpool.Func) *workerpool.Task {
	if fn == nil {
		return nil
	}
	task, err := b.pool.Submit("execute:"+name, func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			b.logger.Error("error in calling callback", "function", name, "error", err)
			return nil, err
		}
		msg, ok := protocol.AsMessage(v)
		if !ok {
			b.logger.Warn("result is not a message, nothing to send", "function", name)
			return v, nil
		}
		b.SendData(msg)
		return msg, nil
	})
	if err != nil {
		b.logger.Warn("function not scheduled", "function", name, "error", err)
	}
	return task
}
