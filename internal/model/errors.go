package model

import (
	"errors"
	"fmt"
)

// ConnectivityError reports that the network transport itself was
// unreachable. It is non-fatal: callers fall back to the offline queue.
type ConnectivityError struct {
	// Op is the operation that failed (e.g. "POST https://api/tasks").
	Op string

	// Err is the underlying transport error.
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StorageError reports a local persistence failure. It is fatal to the
// operation that raised it and must reach the caller.
type StorageError struct {
	Op        string
	Partition string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Partition != "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Partition, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ServerRejectionError is a valid, non-2xx HTTP response received while
// replaying a queued request.
type ServerRejectionError struct {
	RequestID int64
	Method    string
	URL       string
	Status    int
	Body      string
}

func (e *ServerRejectionError) Error() string {
	return fmt.Sprintf("server rejected request %d (%s %s): status %d", e.RequestID, e.Method, e.URL, e.Status)
}

// ProtocolError is a malformed inbound realtime message. It affects only
// that message.
type ProtocolError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsConnectivity returns true if err is or wraps a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsStorage returns true if err is or wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsProtocol returns true if err is or wraps a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// AsServerRejection extracts a ServerRejectionError from err.
func AsServerRejection(err error) (*ServerRejectionError, bool) {
	var re *ServerRejectionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
