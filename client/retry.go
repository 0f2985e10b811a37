package client

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"github.com/smnsjas/go-wbem/cimxml/transport"
)

// RetryPolicy controls transparent retry of read-only intrinsic
// operations on transient transport failures. A nil policy disables
// retry. Write operations and pull-sequence operations are never
// retried; a pull retry would replay a consumed enumeration context.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialDelay is the delay before the first retry (default 100ms).
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff (default 5s).
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor (default 2.0).
	Multiplier float64
}

// retryableMethods are the idempotent intrinsic reads. Everything else,
// in particular the Open/Pull/Close sequence and the write operations,
// goes over the wire exactly once.
var retryableMethods = map[string]bool{
	"GetInstance":            true,
	"EnumerateInstances":     true,
	"EnumerateInstanceNames": true,
	"Associators":            true,
	"AssociatorNames":        true,
	"References":             true,
	"ReferenceNames":         true,
	"GetClass":               true,
	"EnumerateClassNames":    true,
}

// isTransientError reports whether an error is a transient
// network/transport issue worth retrying. CIM faults and HTTP-level
// errors are server verdicts, not transient.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var timeout *transport.TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var conn *transport.ConnectionError
	if errors.As(err, &conn) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Fallback: string matching for stdlib network errors.
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "broken pipe")
}

// retryBackoff computes exponential backoff with cap for the given
// attempt, starting at 1.
func retryBackoff(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	delay := policy.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if attempt <= 1 {
		return delay
	}

	multiplier := policy.Multiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}

	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	// float64 avoids overflow before capping.
	backoff := float64(delay) * math.Pow(multiplier, float64(attempt-1))
	if backoff > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(backoff)
}

// sleepBackoff waits out the backoff, honoring cancellation.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
