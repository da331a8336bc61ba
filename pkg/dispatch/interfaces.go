package dispatch

import "context"

// Gateway defines the contract for a component that submits one batch to a
// push gateway (e.g. the legacy HTTP endpoint, FCM v1, APNs).
type Gateway interface {
	// Send performs exactly one attempt. Results in the returned Response are
	// positionally aligned with recipients. Failures are *GatewayError values.
	Send(ctx context.Context, credential string, recipients []string, msg Message) (*Response, error)
}

// WebGateway delivers to a single web-push subscription. A nil error means the
// push service accepted the message; there is no per-recipient body.
type WebGateway interface {
	SendWebPush(ctx context.Context, sub Subscription, msg Message) error
}

// ErrorSink receives every result that was not a plain delivery so the host
// can update or delete the identifiers it owns.
type ErrorSink interface {
	// ReportError is called with the gateway error code, or CodeIdentifierChanged
	// / CodeMalformedEntry for the engine's own classifications.
	ReportError(ctx context.Context, code string, result Result) error
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(ctx context.Context, code string, result Result) error

func (f ErrorSinkFunc) ReportError(ctx context.Context, code string, result Result) error {
	return f(ctx, code, result)
}

// PushRouter resolves a PushRequest to the dispatcher it names and submits it.
type PushRouter interface {
	Route(ctx context.Context, req *PushRequest) error
	RouteSync(ctx context.Context, req *PushRequest) ([]Result, error)
}
