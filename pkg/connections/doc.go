// Package connections tracks live client connections by routing key.
//
// A client becomes ready after it sends its first message. Pushes wait for
// readiness with LookupReady, which polls for a bounded time so a push can
// race the client's handshake without failing outright.
package connections
