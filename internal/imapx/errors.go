package imapx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ConnectionTimeoutError indicates a connection could not be established or
// went silent within the socket timeout. Retryable with backoff; the caller
// decides whether to retry.
type ConnectionTimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("imap: %s timed out after %s: %v", e.Op, e.Timeout, e.Err)
}

func (e *ConnectionTimeoutError) Unwrap() error { return e.Err }

// ProtocolError indicates the server rejected or garbled a command. Aborts
// the current pass only; the pass is retried on its next scheduled run.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("imap: %s protocol error: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a retryable connection timeout.
func IsTimeout(err error) bool {
	var cte *ConnectionTimeoutError
	return errors.As(err, &cte)
}

// convertError maps transport-level failures onto the typed taxonomy so the
// sync layer can choose between backoff-retry and pass-abort.
func convertError(op string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectionTimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectionTimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	return &ProtocolError{Op: op, Err: err}
}
