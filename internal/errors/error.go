package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/vango-dev/eventbroker/pkg/protocol"
)

// Category represents the kind of failure.
type Category string

const (
	CategoryTransport     Category = "transport"
	CategoryTimeout       Category = "timeout"
	CategoryApplication   Category = "application"
	CategoryAuthorization Category = "authorization"
	CategoryRouting       Category = "routing"
	CategoryProtocol      Category = "protocol"
	CategoryCapacity      Category = "capacity"
)

// BrokerError is a structured error with a code and category.
type BrokerError struct {
	// Code is a unique error identifier (e.g., "B001").
	Code string

	// Category is the failure kind.
	Category Category

	// Message is a short description safe to send to clients.
	Message string

	// Detail is a longer explanation kept in logs.
	Detail string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *BrokerError) Unwrap() error {
	return e.Wrapped
}

// Is matches another BrokerError with the same code.
func (e *BrokerError) Is(target error) bool {
	t, ok := target.(*BrokerError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithDetail adds a detailed explanation to the error.
func (e *BrokerError) WithDetail(d string) *BrokerError {
	e.Detail = d
	return e
}

// WithDetailf adds a formatted detail to the error.
func (e *BrokerError) WithDetailf(format string, args ...any) *BrokerError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *BrokerError) Wrap(err error) *BrokerError {
	e.Wrapped = err
	return e
}

// Event renders the error as the error event sent to the widget with id.
// Detail and wrapped errors stay server side.
func (e *BrokerError) Event(id string) protocol.Message {
	return protocol.ErrorEvent(id, e.Code, e.Message)
}

// LogAttrs returns slog key/value pairs describing the error.
func (e *BrokerError) LogAttrs() []any {
	attrs := []any{"code", e.Code, "category", string(e.Category)}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	if e.Wrapped != nil {
		attrs = append(attrs, "error", e.Wrapped)
	}
	return attrs
}

// New creates a BrokerError from a registered error code.
func New(code string) *BrokerError {
	template, ok := GetTemplate(code)
	if !ok {
		return &BrokerError{
			Code:    code,
			Message: "unknown error",
		}
	}
	return &BrokerError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
	}
}

// Newf creates a BrokerError with a formatted message and no code.
func Newf(category Category, format string, args ...any) *BrokerError {
	return &BrokerError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError returns err as a BrokerError, wrapping it under code when it is
// not one already.
func FromError(err error, code string) *BrokerError {
	if err == nil {
		return nil
	}
	var be *BrokerError
	if stderrors.As(err, &be) {
		return be
	}
	return New(code).Wrap(err)
}

// CategoryOf returns the category of err, or "" when err carries none.
func CategoryOf(err error) Category {
	var be *BrokerError
	if stderrors.As(err, &be) {
		return be.Category
	}
	return ""
}
