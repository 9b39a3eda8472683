package protocol

// ErrorType is the value of data.type in an error event.
const ErrorType = "error"

// EventMessage is the event name used for error events.
const EventMessage = "message"

// ErrorEvent builds the error event pushed to a widget.
func ErrorEvent(id, code, text string) Message {
	data := map[string]any{
		"message": text,
		"type":    ErrorType,
	}
	if code != "" {
		data["code"] = code
	}
	return Message{
		FieldID:    id,
		FieldEvent: EventMessage,
		FieldData:  data,
	}
}

// IsErrorEvent reports whether m has the shape produced by ErrorEvent.
func IsErrorEvent(m Message) bool {
	if m.String(FieldEvent) != EventMessage {
		return false
	}
	data, ok := m[FieldData].(map[string]any)
	if !ok {
		return false
	}
	t, _ := data["type"].(string)
	return t == ErrorType
}
