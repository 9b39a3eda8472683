// Package errors provides the broker's structured error taxonomy.
//
// Every failure the broker reports to a client or to its logs belongs to a
// category:
//   - transport: the connection closed or a write failed
//   - timeout: a receive, push wait, or handler deadline was exceeded
//   - application: a user handler returned an error or panicked
//   - authorization: a message lacked a valid access token
//   - routing: no function or callback is registered for the target
//   - protocol: a frame could not be decoded
//   - capacity: the worker pool or rate limiter refused the work
//
// # Error Codes
//
// Each error has a code (e.g. "B004") that maps to a short message. Codes
// travel to clients inside error events:
//
//	err := errors.New("B004")
//	msg := err.Event("grid_1")
//	// {"id":"grid_1","event":"message",
//	//  "data":{"message":"not authenticated","type":"error","code":"B004"}}
package errors
