package transport

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is wrapped by NetworkError when the breaker rejects a call
// without touching the network.
var ErrCircuitOpen = errors.New("circuit breaker open")

// NetworkError indicates the request never produced a usable HTTP response:
// connection failure, timeout, cancellation or a truncated body.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error [%s %s]: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates the backend answered, but not with a 2xx status
// and a JSON object carrying a string "response" field.
type ProtocolError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 && (e.StatusCode < 200 || e.StatusCode > 299) {
		return fmt.Sprintf("protocol error: unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}
