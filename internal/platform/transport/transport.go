// Package transport maps raw HTTP outcomes of a gateway attempt onto the
// tagged dispatch error kinds.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// Policy controls the hint used when the gateway sends no Retry-After.
type Policy struct {
	// DefaultRetryAfter is used for 5xx responses without a header and for
	// timeouts. Zero means such failures are not retried.
	DefaultRetryAfter time.Duration
	// Now is the clock for HTTP-date Retry-After values.
	Now func() time.Time
}

// DefaultHint is the hint applied when the gateway declared none.
func (p Policy) DefaultHint() dispatch.RetryHint {
	if p.DefaultRetryAfter <= 0 {
		return dispatch.NoRetry
	}
	return dispatch.RetryAfter(p.DefaultRetryAfter)
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// FromStatus classifies a non-success status line. Callers decide what counts
// as success before calling it.
func (p Policy) FromStatus(status int, header http.Header) *dispatch.GatewayError {
	switch {
	case status == http.StatusBadRequest:
		return dispatch.NewGatewayError(dispatch.ErrMalformedRequest, status, dispatch.NoRetry, nil)
	case status == http.StatusUnauthorized:
		return dispatch.NewGatewayError(dispatch.ErrAuth, status, dispatch.NoRetry, nil)
	case status >= 500 && status <= 599:
		hint := p.DefaultHint()
		if d, ok := ParseRetryAfter(header.Get("Retry-After"), p.now()); ok {
			hint = dispatch.RetryAfter(d)
		}
		return dispatch.NewGatewayError(dispatch.ErrServer, status, hint, nil)
	default:
		return dispatch.NewGatewayError(dispatch.ErrTransport, status, dispatch.NoRetry,
			fmt.Errorf("unexpected status %d", status))
	}
}

// FromError classifies a failure raised before any status line arrived.
func (p Policy) FromError(err error) *dispatch.GatewayError {
	var gwErr *dispatch.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if IsTimeout(err) {
		return dispatch.NewGatewayError(dispatch.ErrTimeout, 0, p.DefaultHint(), err)
	}
	return dispatch.NewGatewayError(dispatch.ErrTransport, 0, dispatch.NoRetry, err)
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// MaxRetryAfter caps any server-declared wait.
const MaxRetryAfter = 24 * time.Hour

// ParseRetryAfter reads a Retry-After value in delta-seconds or HTTP-date form.
// Values beyond MaxRetryAfter are clamped to it.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err == nil || errors.Is(err, strconv.ErrRange) {
		if secs < 0 {
			return 0, false
		}
		if secs > int64(MaxRetryAfter/time.Second) {
			return MaxRetryAfter, true
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return min(d, MaxRetryAfter).Round(time.Second), true
}
