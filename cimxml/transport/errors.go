package transport

import (
	"errors"
	"fmt"
)

// ErrAuthentication is returned when the server keeps responding 401
// after the bounded re-authentication retries. Use errors.Is to check.
var ErrAuthentication = errors.New("transport: authentication failed (401 Unauthorized)")

// ConnectionError reports a socket-level failure: DNS, dial, TLS
// handshake, reset, or a broken response stream. The server did not
// reject the operation; the network or process failed.
type ConnectionError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connection to %s failed: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that the request deadline elapsed before response
// headers were read.
type TimeoutError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: request to %s timed out: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError reports a protocol-level fault: the server answered with an
// HTTP status other than 200, so no CIM-XML payload was decoded.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transport: HTTP %s", e.Status)
	}
	return fmt.Sprintf("transport: HTTP %s: %s", e.Status, e.Body)
}
