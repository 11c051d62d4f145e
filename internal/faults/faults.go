// Package faults defines the error taxonomy shared by the server and client.
//
// Every failure that crosses a package boundary is one of five kinds:
// protocol violations, authentication failures, file operation failures,
// peer closure, and internal errors. Handlers map backend failures onto
// these before they reach the session state machine.
package faults

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed is returned when the peer half-closes the connection.
// It is terminal: the session must transition to Disconnecting.
var ErrConnectionClosed = errors.New("connection closed by peer")

// ProtocolError reports a malformed frame, a bad length, a command that is
// illegal in the current state, or a user-id mismatch.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Protocol creates a ProtocolError wrapping err (err may be nil).
func Protocol(message string, err error) error {
	return &ProtocolError{Message: message, Err: err}
}

// Protocolf creates a ProtocolError with a formatted message.
func Protocolf(format string, args ...any) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// IsProtocol checks if an error is a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// AuthenticationError reports a credential failure, a duplicate account,
// or exceeding the failed-login limit.
type AuthenticationError struct {
	Message string
	// Lockout is set when the failed-login limit has been reached and the
	// connection must be closed after the response is sent.
	Lockout bool
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error: %s", e.Message)
}

// Auth creates an AuthenticationError.
func Auth(message string) error {
	return &AuthenticationError{Message: message}
}

// AuthLockout creates an AuthenticationError that closes the connection.
func AuthLockout(message string) error {
	return &AuthenticationError{Message: message, Lockout: true}
}

// IsAuth checks if an error is an AuthenticationError.
func IsAuth(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// FileOperationError reports a missing file, an ownership violation, or a
// storage failure. FileID identifies the offending file when known.
type FileOperationError struct {
	FileID  string
	Message string
	Err     error
}

func (e *FileOperationError) Error() string {
	if e.FileID != "" {
		return fmt.Sprintf("file operation error (%s): %s", e.FileID, e.Message)
	}
	return fmt.Sprintf("file operation error: %s", e.Message)
}

func (e *FileOperationError) Unwrap() error { return e.Err }

// FileOp creates a FileOperationError.
func FileOp(fileID, message string, err error) error {
	return &FileOperationError{FileID: fileID, Message: message, Err: err}
}

// IsFileOp checks if an error is a FileOperationError.
func IsFileOp(err error) bool {
	var fe *FileOperationError
	return errors.As(err, &fe)
}

// InternalError wraps an uncaught backend failure. The wrapped error is
// logged; only the generic message is sent to the client.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an InternalError.
func Internal(err error) error {
	return &InternalError{Err: err}
}

// IsInternal checks if an error is an InternalError.
func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

// ClientMessage returns the message safe to put in a response packet.
// Internal errors collapse to a generic message so details never leak.
func ClientMessage(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Message
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.Message
	}
	var fe *FileOperationError
	if errors.As(err, &fe) {
		return fe.Message
	}
	if errors.Is(err, ErrConnectionClosed) {
		return "connection closed"
	}
	return "internal server error"
}
