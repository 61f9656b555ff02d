package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/capwire/capwire/wire"
)

// ErrNotConnected reports a call on a session whose push stream is gone
// (never connected, disconnected, or torn down by a transport failure).
var ErrNotConnected = errors.New("session not connected")

// TransportError wraps connection-level failures. It is fatal to the
// session: pending waiters are released and subsequent calls fail fast.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// RPCError is a failure response surfaced to the caller. It is scoped to the
// one call that produced it; the session keeps serving.
type RPCError struct {
	Code    wire.ErrorCode
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("rpc error %d", e.Code)
}

// TimeoutError reports a single call that outlived its waiting budget. The
// waiter is removed from the registry; a late reply is discarded.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Method, e.Timeout)
}
