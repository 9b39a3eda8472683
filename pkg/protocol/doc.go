// Package protocol defines the wire messages exchanged between the event
// broker and browser widgets.
//
// Every inbound and outbound message is a single structured object. Text
// frames carry JSON; binary frames carry MessagePack. A client selects the
// binary encoding for a reply by setting "binary": true on its request.
//
// # Fields
//
//   - id: routing key used to correlate pushes with a widget connection
//   - binary: request a MessagePack encoded reply
//   - accessToken: token checked against the broker's token validator
//   - sessionId, userId: identifiers used to look up stored state
//
// # Errors
//
// Errors are delivered as ordinary events:
//
//	{"id": "grid_1", "event": "message",
//	 "data": {"message": "not authenticated", "type": "error", "code": "B004"}}
package protocol
