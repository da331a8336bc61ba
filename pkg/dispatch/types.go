// Package dispatch contains the public domain model and collaborator
// contracts of the push dispatch engine.
package dispatch

import (
	"fmt"
	"time"
)

// Message is the caller's payload. Its fields are merged with the recipient
// set into the gateway request body; the engine never inspects them.
type Message map[string]any

// Subscription is a single web-push destination.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Response is one decoded gateway reply.
type Response struct {
	MulticastID  int64   `json:"multicast_id"`
	Success      int     `json:"success"`
	Failure      int     `json:"failure"`
	CanonicalIDs int     `json:"canonical_ids"`
	Results      []Entry `json:"results"`
}

// Entry is the gateway's outcome for one recipient. Any of the three fields
// may be absent.
type Entry struct {
	MessageID      string `json:"message_id,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ResultKind is the classification of one Entry.
type ResultKind int

const (
	// KindDelivered: message id present, nothing else.
	KindDelivered ResultKind = iota
	// KindIdentifierChanged: delivered, but the gateway issued a replacement id.
	KindIdentifierChanged
	// KindError: the gateway reported an error code for the recipient.
	KindError
	// KindMalformed: the entry matched no known shape.
	KindMalformed
)

func (k ResultKind) String() string {
	switch k {
	case KindDelivered:
		return "delivered"
	case KindIdentifierChanged:
		return "identifier_changed"
	case KindError:
		return "error"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// MarshalText lets results be rendered by encoding/json and slog by name.
func (k ResultKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Result is the per-recipient outcome handed back to callers.
type Result struct {
	Recipient   string     `json:"recipient"`
	Kind        ResultKind `json:"kind"`
	MessageID   string     `json:"message_id,omitempty"`
	CanonicalID string     `json:"canonical_id,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Err         error      `json:"-"`
}

// RetryHint is the gateway-declared wait before a resubmission is safe.
type RetryHint struct {
	Retry bool
	After time.Duration
}

// NoRetry means the push must not be resubmitted.
var NoRetry = RetryHint{}

// RetryAfter builds a hint that allows resubmission after d.
func RetryAfter(d time.Duration) RetryHint {
	if d < 0 {
		d = 0
	}
	return RetryHint{Retry: true, After: d}
}

func (h RetryHint) String() string {
	if !h.Retry {
		return "no-retry"
	}
	return "retry-after:" + h.After.String()
}
