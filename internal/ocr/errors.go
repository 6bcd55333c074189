package ocr

import (
	"errors"
	"fmt"
	"time"
)

// ErrProviderDegraded is returned without calling the provider when
// its circuit breaker is open.
var ErrProviderDegraded = errors.New("ocr provider degraded")

// TransientError means the call failed in a way that may succeed
// later (throttling, timeouts, upstream 5xx). The document should be
// queued for retry.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient ocr failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient ocr failure: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError means retrying the same bytes will not help (rejected
// payload, auth failure, unprocessable document).
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal ocr failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal ocr failure: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// CallError is the transport-level failure a backend reports, with
// enough detail for the gateway's retry decision. StatusCode 0 means
// the request never got an HTTP response.
type CallError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider call failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider call failed: %v", e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
