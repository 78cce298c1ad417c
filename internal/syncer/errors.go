package syncer

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes sync failures.
type ErrorCode string

const (
	// ErrCodeRemoteRejected indicates the remote answered with anything other
	// than acceptance of the full batch.
	ErrCodeRemoteRejected ErrorCode = "REMOTE_REJECTED"
)

// RemoteError reports a rejected batch. The batch stays unsynced and is
// offered again on the next pass.
type RemoteError struct {
	Code ErrorCode

	// Status is the HTTP status code, or 0 if no response was received.
	Status int

	// DataType is the record class of the rejected batch.
	DataType string

	Err error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s batch: status %d: %v", e.Code, e.DataType, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s batch: status %d", e.Code, e.DataType, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s batch: %v", e.Code, e.DataType, e.Err)
	default:
		return fmt.Sprintf("%s: %s batch", e.Code, e.DataType)
	}
}

// Unwrap returns the transport error, if any.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRemoteRejected returns true if err is (or wraps) a RemoteError.
// Uses errors.As to handle wrapped errors.
func IsRemoteRejected(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRemoteRejected
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
