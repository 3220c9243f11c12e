package network

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrInvalidEndpoint means the outbound URL could not be built.
	ErrInvalidEndpoint = errors.New("network: invalid endpoint")
	// ErrOffline is returned when a request could not be issued because
	// connectivity was lost and the caller stopped waiting.
	ErrOffline = errors.New("network: offline")
	// ErrMalformedResponse covers non-2xx statuses and bodies that are
	// neither an envelope nor bare JSON.
	ErrMalformedResponse = errors.New("network: malformed response")
)

// TransportError wraps a failure of the physical call.
type TransportError struct {
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return "network: transport timeout: " + e.Err.Error()
	}
	return "network: transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError classifies err as timeout or not.
func NewTransportError(err error) *TransportError {
	return &TransportError{Err: err, Timeout: isTimeoutCause(err)}
}

// IsTimeout reports whether err is a timeout-class failure. Only these are
// retried.
func IsTimeout(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Timeout
	}
	return isTimeoutCause(err)
}

func isTimeoutCause(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
