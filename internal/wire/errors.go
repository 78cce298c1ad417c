package wire

import (
	"errors"
	"fmt"
)

// FrameErrorCode categorizes frame decoding failures.
type FrameErrorCode string

const (
	// ErrCodeMalformedFrame indicates a bad length prefix or an undecodable body.
	ErrCodeMalformedFrame FrameErrorCode = "MALFORMED_FRAME"
)

// FrameError reports a frame that could not be turned into an Envelope.
//
// A FrameError returned by ReadFrame leaves the stream aligned on the next
// frame boundary, so the caller may keep reading.
type FrameError struct {
	Code    FrameErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying decode error, if any.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsMalformed returns true if err is (or wraps) a MalformedFrame error.
func IsMalformed(err error) bool {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.Code == ErrCodeMalformedFrame
	}
	return false
}

func malformed(message string, err error) *FrameError {
	return &FrameError{Code: ErrCodeMalformedFrame, Message: message, Err: err}
}
