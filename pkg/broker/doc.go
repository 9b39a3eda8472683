// Package broker is the WebSocket event broker.
//
// A Broker owns a worker pool, a connection registry, a callback table, a
// function registry and a credential store. Connections are classified by
// path:
//
//	/ws/functions/<name>, /wss/functions/<name>   RPC bound to one function
//	/ws/<key>, /wss/<key>                         events and pushes for <key>
//
// On an RPC connection every inbound message is passed to the function on
// the worker pool and its result is written back, as MessagePack when the
// message sets "binary" and as JSON otherwise. On an event connection the
// first message marks the connection ready; each message is dispatched to
// the callback registered for its user and id. Pushes go through SendData,
// which waits a bounded time for the target connection to become ready.
//
// Usage:
//
//	b := broker.New(broker.DefaultConfig(), broker.WithLogger(logger))
//	b.RegisterFunction("echo", func(ctx context.Context, req *protocol.Request) (any, error) {
//	    return req.Message, nil
//	})
//	b.RegisterCallback("", "page/button", onClick)
//	go b.ListenAndServe()
//	defer b.Shutdown(context.Background())
//
//	b.SendData(protocol.Message{"id": "page/chart", "data": points})
package broker
