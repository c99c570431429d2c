package engine

import (
	"errors"
	"fmt"
)

// ReplayError reports a local failure that aborted a drain pass.
//
// The underlying cause is always reachable through Unwrap, so
// model.IsStorage still matches a store failure wrapped here.
type ReplayError struct {
	// Code identifies the step that failed.
	Code ReplayErrorCode

	// RequestID is the pending request being handled, or 0 when the
	// failure happened before any request was picked.
	RequestID int64

	Err error
}

// ReplayErrorCode categorizes replay errors.
type ReplayErrorCode string

const (
	// ErrCodeLoadQueue indicates the queue could not be read.
	ErrCodeLoadQueue ReplayErrorCode = "LOAD_QUEUE"

	// ErrCodeRemove indicates an acknowledged request could not be removed.
	ErrCodeRemove ReplayErrorCode = "REMOVE"

	// ErrCodeReject indicates the rejection policy could not be applied.
	ErrCodeReject ReplayErrorCode = "REJECT"
)

func (e *ReplayError) Error() string {
	if e.RequestID != 0 {
		return fmt.Sprintf("%s: request %d: %v", e.Code, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// IsReplayError returns true if err is or wraps a ReplayError.
func IsReplayError(err error) bool {
	var re *ReplayError
	return errors.As(err, &re)
}

// ErrUnknownPolicy is returned by ParseRejectionPolicy.
var ErrUnknownPolicy = errors.New("unknown rejection policy")
