package protocol

import "context"

// Well-known message fields.
const (
	FieldID          = "id"
	FieldBinary      = "binary"
	FieldAccessToken = "accessToken"
	FieldSessionID   = "sessionId"
	FieldUserID      = "userId"
	FieldEvent       = "event"
	FieldData        = "data"
)

// Message is a decoded wire object.
type Message map[string]any

// String returns the string value stored under key, or "" when the key is
// missing or holds a non-string value.
func (m Message) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// ID returns the routing key of the message.
func (m Message) ID() string { return m.String(FieldID) }

// AccessToken returns the access token carried by the message.
func (m Message) AccessToken() string { return m.String(FieldAccessToken) }

// SessionID returns the session identifier carried by the message.
func (m Message) SessionID() string { return m.String(FieldSessionID) }

// UserID returns the user identifier carried by the message.
func (m Message) UserID() string { return m.String(FieldUserID) }

// Binary reports whether the sender asked for a MessagePack reply.
func (m Message) Binary() bool {
	if m == nil {
		return false
	}
	b, _ := m[FieldBinary].(bool)
	return b
}

// Encoding returns the reply encoding requested by the message.
func (m Message) Encoding() Encoding {
	if m.Binary() {
		return EncodingBinary
	}
	return EncodingText
}

// Clone returns a shallow copy of the message.
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AsMessage converts a handler result into a Message when it has the shape
// of one.
func AsMessage(v any) (Message, bool) {
	switch m := v.(type) {
	case Message:
		return m, m != nil
	case map[string]any:
		return Message(m), m != nil
	default:
		return nil, false
	}
}

// Mode is the kind of connection a request arrived on.
type Mode string

const (
	// ModeFunction is an RPC connection bound to one named function.
	ModeFunction Mode = "function"

	// ModeEvent is a push/callback connection keyed by routing key.
	ModeEvent Mode = "event"
)

// Request is what a function or callback handler receives.
type Request struct {
	// Mode is the connection kind.
	Mode Mode

	// Target is the function name (ModeFunction) or event id (ModeEvent).
	Target string

	// Message is the decoded inbound message.
	Message Message

	// Path is the connection path the message arrived on.
	Path string

	// UserID is the resolved user identity (never empty on the callback path).
	UserID string

	// SessionID is the session identifier from the message, if any.
	SessionID string

	// Session is a copy of the stored session state, or nil.
	Session map[string]any

	// User is a copy of the stored user state, or nil.
	User map[string]any
}

// Handler runs user code for a function call or a callback. The returned
// value is sent back to the caller on the function path; on the callback
// path a Message result carrying an id is pushed to that id.
//
// ctx is cancelled when the worker pool gives up on the call. Handlers that
// ignore ctx keep running in the background after cancellation.
type Handler func(ctx context.Context, req *Request) (any, error)
