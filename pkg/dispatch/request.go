package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when a PushRequest fails validation.
	ErrInvalidRequest = errors.New("invalid push request")
	// ErrUnknownDispatcher: no running dispatcher has the requested name.
	ErrUnknownDispatcher = errors.New("unknown dispatcher")
)

// PushRequest is the wire form of a submission arriving over HTTP or Pub/Sub.
// Exactly one of Recipients or Subscription is set.
type PushRequest struct {
	Dispatcher    string        `json:"dispatcher"`
	Recipients    []string      `json:"recipients,omitempty"`
	Subscription  *Subscription `json:"subscription,omitempty"`
	Message       Message       `json:"message"`
	AttemptBudget *int          `json:"attempt_budget,omitempty"`
}

// IsWebPush reports whether the request targets a single web push subscription.
func (r *PushRequest) IsWebPush() bool {
	return r.Subscription != nil
}

func (r *PushRequest) Validate() error {
	if r.Dispatcher == "" {
		return fmt.Errorf("%w: dispatcher is required", ErrInvalidRequest)
	}
	switch {
	case r.Subscription != nil && len(r.Recipients) > 0:
		return fmt.Errorf("%w: recipients and subscription are mutually exclusive", ErrInvalidRequest)
	case r.Subscription != nil:
		if r.Subscription.Endpoint == "" {
			return fmt.Errorf("%w: subscription endpoint is required", ErrInvalidRequest)
		}
	case len(r.Recipients) == 0:
		return fmt.Errorf("%w: recipients are required", ErrInvalidRequest)
	}
	if r.AttemptBudget != nil && *r.AttemptBudget < 0 {
		return fmt.Errorf("%w: attempt_budget must not be negative", ErrInvalidRequest)
	}
	return nil
}
