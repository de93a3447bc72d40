package flux

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig matches any *ConfigError.
	ErrInvalidConfig = errors.New("flux: invalid configuration")

	// ErrConnectTimeout is returned by Start when the server does not acknowledge the connection in time.
	ErrConnectTimeout = errors.New("flux: timed out waiting for Connected")

	// ErrNotConnected is returned by SendAudio when the session is not open.
	ErrNotConnected = errors.New("flux: session is not connected")

	// ErrConnectInProgress is returned by Start while another connect attempt is outstanding.
	ErrConnectInProgress = errors.New("flux: connect already in progress")

	// ErrConnectionClosed is returned by Start when the socket closes before the handshake completes.
	ErrConnectionClosed = errors.New("flux: connection closed during handshake")

	// ErrSocket matches any *SocketError.
	ErrSocket = errors.New("flux: socket error")

	// ErrProtocol matches any *ProtocolError.
	ErrProtocol = errors.New("flux: protocol error")

	// ErrFatalServer matches any *FatalServerError.
	ErrFatalServer = errors.New("flux: fatal server error")
)

// ConfigError reports an invalid configuration field. Start fails with it before dialing.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("flux: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("flux: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// SocketError wraps a failure to open, read, write or close the WebSocket.
type SocketError struct {
	Op    string // dial, read, write, close
	Cause error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("flux: %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SocketError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for SocketError.
func (e *SocketError) Is(target error) bool {
	return target == ErrSocket
}

// ProtocolError describes an inbound frame that could not be decoded.
// It is always recoverable: the frame is skipped.
type ProtocolError struct {
	Raw   []byte
	Cause error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("flux: malformed message: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for ProtocolError.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// FatalServerError carries the message of a server "Error" frame. The connection is torn down.
type FatalServerError struct {
	Message string
}

func (e *FatalServerError) Error() string {
	return "flux: fatal error: " + e.Message
}

// Is implements error matching for FatalServerError.
func (e *FatalServerError) Is(target error) bool {
	return target == ErrFatalServer
}

// CallbackError records a panic raised inside a caller-supplied handler.
// It is logged and never propagated.
type CallbackError struct {
	Callback string
	Value    any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("flux: %s callback panicked: %v", e.Callback, e.Value)
}

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

// NewSocketError creates a new socket error.
func NewSocketError(op string, cause error) *SocketError {
	return &SocketError{Op: op, Cause: cause}
}
