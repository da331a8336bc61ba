// Package fcm adapts the Firebase Admin SDK (FCM HTTP v1) to the batch
// gateway contract.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-dispatcher/internal/platform/transport"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Gateway struct {
	client MessagingClient
	policy transport.Policy
	logger *slog.Logger
}

// NewGateway wraps a messaging client. The client is already bound to its
// service-account credential, so the per-call credential is not used.
func NewGateway(client MessagingClient, policy transport.Policy, logger *slog.Logger) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("messaging client cannot be nil")
	}
	return &Gateway{
		client: client,
		policy: policy,
		logger: logger.With("component", "FCMGateway"),
	}, nil
}

func (g *Gateway) Send(ctx context.Context, _ string, recipients []string, msg dispatch.Message) (*dispatch.Response, error) {
	br, err := g.client.SendEachForMulticast(ctx, buildMulticast(recipients, msg))
	if err != nil {
		g.logger.Warn("FCM batch failed", "err", err)
		return nil, g.classifyBatchError(err)
	}

	resp := &dispatch.Response{
		Success: br.SuccessCount,
		Failure: br.FailureCount,
		Results: make([]dispatch.Entry, 0, len(br.Responses)),
	}
	for _, r := range br.Responses {
		if r.Success {
			resp.Results = append(resp.Results, dispatch.Entry{MessageID: r.MessageID})
			continue
		}
		resp.Results = append(resp.Results, dispatch.Entry{Error: errorCode(r.Error)})
	}
	return resp, nil
}

func (g *Gateway) classifyBatchError(err error) error {
	if httpResp := errorutils.HTTPResponse(err); httpResp != nil {
		return g.policy.FromStatus(httpResp.StatusCode, httpResp.Header)
	}
	switch {
	case errorutils.IsInvalidArgument(err):
		return dispatch.NewGatewayError(dispatch.ErrMalformedRequest, 0, dispatch.NoRetry, err)
	case errorutils.IsUnauthenticated(err):
		return dispatch.NewGatewayError(dispatch.ErrAuth, 0, dispatch.NoRetry, err)
	default:
		return g.policy.FromError(err)
	}
}

// errorCode maps SDK per-token errors onto the gateway's error code vocabulary.
func errorCode(err error) string {
	switch {
	case err == nil:
		return dispatch.CodeInternalServerError
	case messaging.IsRegistrationTokenNotRegistered(err):
		return dispatch.CodeNotRegistered
	case messaging.IsInvalidArgument(err):
		return dispatch.CodeInvalidRegistration
	case messaging.IsSenderIDMismatch(err):
		return dispatch.CodeMismatchSenderID
	case messaging.IsQuotaExceeded(err):
		return dispatch.CodeDeviceMessageRateExceeded
	case messaging.IsThirdPartyAuthError(err):
		return dispatch.CodeInvalidApnsCredential
	case messaging.IsUnavailable(err):
		return dispatch.CodeUnavailable
	default:
		return dispatch.CodeInternalServerError
	}
}

// buildMulticast lifts the "notification" and "data" fields of the message
// into the SDK's typed message.
func buildMulticast(recipients []string, msg dispatch.Message) *messaging.MulticastMessage {
	mm := &messaging.MulticastMessage{
		Tokens: recipients,
		Data:   stringMap(msg["data"]),
	}
	if n := stringMap(msg["notification"]); len(n) > 0 {
		mm.Notification = &messaging.Notification{
			Title:    n["title"],
			Body:     n["body"],
			ImageURL: n["image"],
		}
	}
	return mm
}

func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
				continue
			}
			out[k] = fmt.Sprint(val)
		}
		return out
	default:
		return nil
	}
}
