package ipc

import (
	"errors"
	"fmt"
)

// ProtocolErrorKind classifies protocol violations.
type ProtocolErrorKind int

const (
	// ProtocolUnknownSerializer is a serializer id with no registration (strict mode).
	ProtocolUnknownSerializer ProtocolErrorKind = iota
	// ProtocolMalformed is a record whose bytes do not decode.
	ProtocolMalformed
	// ProtocolHandshakeRequired is a non-handshake message received first on a connection.
	ProtocolHandshakeRequired
	// ProtocolUnexpectedMessage is a known message the receiver must not see in its current mode.
	ProtocolUnexpectedMessage
	// ProtocolUnknownOutcome is a result carrying an unrecognized test state.
	ProtocolUnknownOutcome
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case ProtocolUnknownSerializer:
		return "unknown_serializer"
	case ProtocolMalformed:
		return "malformed"
	case ProtocolHandshakeRequired:
		return "handshake_required"
	case ProtocolUnexpectedMessage:
		return "unexpected_message"
	case ProtocolUnknownOutcome:
		return "unknown_outcome"
	default:
		return "unknown"
	}
}

// ProtocolError represents a violation of the pipe protocol.
// Protocol errors are always fatal to the controller.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Msg  string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error (%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("protocol error (%s): %s", e.Kind, e.Msg)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErr(kind ProtocolErrorKind, msg string, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Msg: msg, Err: err}
}

func malformed(format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: ProtocolMalformed, Msg: fmt.Sprintf(format, args...)}
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsProtocolErrorKind returns true if err is or wraps a ProtocolError of the given kind.
func IsProtocolErrorKind(err error, kind ProtocolErrorKind) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// NewHandshakeRequiredError returns the error for a connection whose
// first message was not a handshake.
func NewHandshakeRequiredError(got Message) *ProtocolError {
	return protocolErr(ProtocolHandshakeRequired,
		fmt.Sprintf("first message must be a handshake, got serializer %d", got.SerializerID()), nil)
}

// NewUnexpectedMessageError returns the error for a message not valid in the current mode.
func NewUnexpectedMessageError(got Message, mode string) *ProtocolError {
	return protocolErr(ProtocolUnexpectedMessage,
		fmt.Sprintf("serializer %d is not valid during %s", got.SerializerID(), mode), nil)
}
