package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest: the gateway rejected the request structure (HTTP 400). Never retried.
	ErrMalformedRequest = errors.New("gateway rejected request as malformed")
	// ErrAuth: the gateway rejected the credential (HTTP 401). Never retried.
	ErrAuth = errors.New("gateway rejected credential")
	// ErrServer: the gateway failed with a 5xx; retryable.
	ErrServer = errors.New("gateway server error")
	// ErrTimeout: no status line was received before the deadline; retryable.
	ErrTimeout = errors.New("gateway timeout")
	// ErrTransport: any other transport failure or unrecognised response.
	ErrTransport = errors.New("gateway transport failure")
	// ErrClassification: a result entry, or the result list as a whole, was malformed.
	ErrClassification = errors.New("malformed gateway result")
	// ErrAbandoned: the push will not be retried (budget exhausted or no-retry hint).
	ErrAbandoned = errors.New("push abandoned")
	// ErrRetryScheduled: the attempt failed transiently and a resubmission is pending.
	ErrRetryScheduled = errors.New("retry scheduled")
	// ErrStopped: the dispatcher no longer accepts work.
	ErrStopped = errors.New("dispatcher stopped")
)

// GatewayError is the tagged outcome of a failed attempt.
type GatewayError struct {
	Kind       error
	StatusCode int
	Hint       RetryHint
	Err        error
}

// NewGatewayError builds a GatewayError of the given kind.
func NewGatewayError(kind error, status int, hint RetryHint, cause error) *GatewayError {
	return &GatewayError{Kind: kind, StatusCode: status, Hint: hint, Err: cause}
}

func (e *GatewayError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the failure feeds the backoff path.
func (e *GatewayError) Retryable() bool {
	return errors.Is(e.Kind, ErrServer) || errors.Is(e.Kind, ErrTimeout)
}

// AsGatewayError extracts a *GatewayError from err. Errors that are not tagged
// are treated as transport failures so nothing untyped crosses the attempt boundary.
func AsGatewayError(err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return NewGatewayError(ErrTransport, 0, NoRetry, err)
}

// ErrSubscriptionGone is returned by a WebGateway when the push service reports
// the subscription as expired (404/410).
var ErrSubscriptionGone = errors.New("web push subscription gone")
