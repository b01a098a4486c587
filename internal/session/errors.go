package session

import "fmt"

// ConnectionLostError reports a transport close the session did not ask
// for and whose close code is outside the normal set.
type ConnectionLostError struct {
	Code   int
	Reason string
}

func (e *ConnectionLostError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection lost (code %d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("connection lost (code %d)", e.Code)
}

// TransportError wraps a socket-level failure or a service-side error
// frame. It ends or taints the session but is never retried.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
