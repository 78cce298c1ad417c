package transport

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes transport failures.
type ErrorCode string

const (
	// ErrCodeAuthenticationFailure indicates an envelope whose credential did
	// not match the shared secret. The envelope is discarded.
	ErrCodeAuthenticationFailure ErrorCode = "AUTHENTICATION_FAILURE"

	// ErrCodeHandlerFailure indicates a handler returned an error or panicked.
	ErrCodeHandlerFailure ErrorCode = "HANDLER_FAILURE"

	// ErrCodeTransportFailure indicates a dial, write or socket failure.
	ErrCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"

	// ErrCodeQueueFull indicates the outbound queue was at capacity.
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL"
)

// Error is a transport failure with a category code.
//
// The server and client never return these across the process boundary;
// they are logged where handled and exposed so callers and tests can
// classify them.
type Error struct {
	Code    ErrorCode
	Message string

	// Kind is the envelope kind involved, if any.
	Kind string

	// Peer is the remote address involved, if any.
	Peer string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Kind != "" {
		msg += fmt.Sprintf(" (kind=%s)", e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsAuthenticationFailure returns true if err is an authentication failure.
func IsAuthenticationFailure(err error) bool { return hasCode(err, ErrCodeAuthenticationFailure) }

// IsHandlerFailure returns true if err is a handler failure.
func IsHandlerFailure(err error) bool { return hasCode(err, ErrCodeHandlerFailure) }

// IsTransportFailure returns true if err is a transport failure.
func IsTransportFailure(err error) bool { return hasCode(err, ErrCodeTransportFailure) }

// IsQueueFull returns true if err is a queue-full rejection.
func IsQueueFull(err error) bool { return hasCode(err, ErrCodeQueueFull) }
