package qb

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates the failure classes surfaced by this package.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfig means required setup (company id, token, environment) is
	// missing or invalid. Fatal to construction, never retried.
	KindConfig
	// KindTransport is a connection, DNS, or timeout failure. Retryable by
	// the caller with backoff.
	KindTransport
	// KindAuth means the access token was rejected even after one refresh
	// attempt, or the refresh itself was rejected. New user consent is
	// required, so it is never retried automatically.
	KindAuth
	// KindThrottle means a local budget was exhausted or the remote
	// answered 429. The documented remedy is a cooldown (~60s) before
	// retrying.
	KindThrottle
	// KindValidation is a malformed operation caught before anything was
	// sent over the wire.
	KindValidation
	// KindBadRequest means the remote accepted the call but rejected the
	// business content; Fault carries the structured remote error.
	KindBadRequest
	// KindBatchLimit means a batch was asked to hold more operations than
	// its ceiling allows. Fails at construction, not at send.
	KindBatchLimit
	// KindBatch is a protocol-level correlation mismatch in a batch
	// response: a remote or transport anomaly, not a business fault.
	KindBatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindThrottle:
		return "throttle"
	case KindValidation:
		return "validation"
	case KindBadRequest:
		return "bad_request"
	case KindBatchLimit:
		return "batch_limit"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// Error is the uniform failure value returned by every operation in this
// package. Kind lets callers branch programmatically: sleep-and-retry on
// KindThrottle, re-authorize on KindAuth, fix the input on KindValidation.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Fault      *Fault
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("qb: %s: %s", e.Kind, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind carried by err, or KindUnknown if err was
// not produced by this package.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}
