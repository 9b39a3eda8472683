package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxMessageSize is the largest inbound frame accepted from a client.
const MaxMessageSize = 1 << 20

// Encoding identifies how a frame payload is serialized.
type Encoding uint8

const (
	EncodingText   Encoding = iota // JSON in a text frame
	EncodingBinary                 // MessagePack in a binary frame
)

// String returns the string representation of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingText:
		return "text"
	case EncodingBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame errors.
var (
	ErrEmptyFrame    = errors.New("protocol: empty frame")
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrNotAnObject   = errors.New("protocol: message is not an object")
)

// Frame is one encoded message as it travels on the socket.
type Frame struct {
	Encoding Encoding
	Payload  []byte
}

// Encode serializes v with the given encoding.
func Encode(v any, enc Encoding) (Frame, error) {
	var (
		payload []byte
		err     error
	)
	switch enc {
	case EncodingBinary:
		payload, err = msgpack.Marshal(v)
	default:
		enc = EncodingText
		payload, err = json.Marshal(v)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("protocol: encode %s: %w", enc, err)
	}
	return Frame{Encoding: enc, Payload: payload}, nil
}

// Decode parses a frame into a Message. The payload must hold an object.
func Decode(f Frame) (Message, error) {
	if len(f.Payload) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(f.Payload) > MaxMessageSize {
		return nil, ErrFrameTooLarge
	}

	var raw any
	switch f.Encoding {
	case EncodingBinary:
		if err := msgpack.Unmarshal(f.Payload, &raw); err != nil {
			return nil, fmt.Errorf("protocol: decode binary: %w", err)
		}
	default:
		if err := json.Unmarshal(f.Payload, &raw); err != nil {
			return nil, fmt.Errorf("protocol: decode text: %w", err)
		}
	}

	m, ok := raw.(map[string]any)
	if !ok || m == nil {
		return nil, ErrNotAnObject
	}
	return Message(m), nil
}
