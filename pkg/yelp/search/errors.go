package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// TransientError is a failure worth retrying: 429, 5xx, or a transport
// timeout. The fetcher never retries itself; the pipeline does.
type TransientError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search: transient: %v", e.Err)
	}
	return fmt.Sprintf("search: transient status %d: %s", e.StatusCode, e.Body)
}

func (e *TransientError) Unwrap() error { return e.Err }

// HardError is fatal for the work unit: any other non-2xx status, a body
// that does not decode or a transport failure that is not transient.
// StatusCode is zero when no response arrived.
type HardError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *HardError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("search: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("search: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("search: status %d: %s", e.StatusCode, e.Body)
}

func (e *HardError) Unwrap() error { return e.Err }

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func statusError(code int, body string) error {
	if code == http.StatusTooManyRequests || code >= 500 {
		return &TransientError{StatusCode: code, Body: body}
	}
	return &HardError{StatusCode: code, Body: body}
}

// transportError classifies a failed round trip. Timeouts, resets, refused
// connections and DNS failures are transient; cancellation passes through
// unchanged and anything else is a HardError without a status.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransientError{Err: err}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return &TransientError{Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &TransientError{Err: err}
	}
	return &HardError{Err: err}
}
