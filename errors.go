package siox

import (
	"errors"
	"fmt"

	"github.com/ramory-l/siox/schema"
)

// Configuration errors. They are returned while events are routed and
// namespaces are installed, never while messages are dispatched.
var (
	ErrUnbound            = errors.New("siox: event is not bound to a group")
	ErrUnnamed            = errors.New("siox: event has no name")
	ErrAlreadyBound       = errors.New("siox: event is bound to another group")
	ErrNamespaceMismatch  = errors.New("siox: event belongs to another namespace")
	ErrGroupSealed        = errors.New("siox: group is already attached to a namespace")
	ErrDuplicateEvent     = errors.New("siox: duplicate event name")
	ErrConflictingAck     = errors.New("siox: conflicting acknowledgement configuration")
	ErrInvalidOption      = errors.New("siox: option does not apply to this event")
	ErrNotContainer       = errors.New("siox: route expects a struct or pointer to struct")
	ErrCasingMismatch     = errors.New("siox: group and namespace use different wire casing")
	ErrNamespaceExists    = errors.New("siox: namespace already installed")
	ErrNoIdentitySource   = errors.New("siox: protected namespace needs an identity source")
	ErrUnknownNamespace   = errors.New("siox: unknown namespace")
	ErrNoTarget           = errors.New("siox: emission has no room, broadcast or sender")
	ErrServerClosed       = errors.New("siox: server closed")
	ErrConnectionRefused  = errors.New("siox: connection refused")
	ErrUnsupportedPayload = errors.New("siox: unsupported payload")
)

// EventError is the signal a handler returns to abort its exchange. The
// dispatcher turns it into an acknowledgement envelope; Critical also
// disconnects the socket once the envelope is sent.
type EventError struct {
	Code     int
	Message  string
	Data     any
	Critical bool
}

func (e *EventError) Error() string {
	return fmt.Sprintf("siox: event aborted with %d: %s", e.Code, e.Message)
}

// WithData attaches a payload to the failure envelope.
func (e *EventError) WithData(data any) *EventError {
	e.Data = data
	return e
}

// Abort builds a non-critical signal.
func Abort(code int, message string) *EventError {
	return &EventError{Code: code, Message: message}
}

// AbortCritical builds a signal that also disconnects the socket.
func AbortCritical(code int, message string) *EventError {
	return &EventError{Code: code, Message: message, Critical: true}
}

// validationFailed converts a payload validation error into the 400 signal.
func validationFailed(err *schema.ValidationError) *EventError {
	return &EventError{Code: 400, Message: "Validation failed", Data: err.Detail()}
}

// ConnectError refuses a namespace connection. Message is sent to the client
// in the CONNECT_ERROR packet.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "siox: connect refused: " + e.Message
}

func (e *ConnectError) Unwrap() error { return ErrConnectionRefused }
