// Package apns provides a batch gateway over the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Gateway struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Development  bool
}

// NewGateway creates a token-authenticated APNs gateway. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Development {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return newGateway(client, cfg.BundleID, logger), nil
}

func newGateway(client APNSClient, topic string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSGateway"),
	}
}

// Send pushes to each token in order. APNs has no multicast endpoint, so the
// per-token responses are assembled into one positional Response.
func (g *Gateway) Send(ctx context.Context, _ string, recipients []string, msg dispatch.Message) (*dispatch.Response, error) {
	p := buildPayload(msg)
	resp := &dispatch.Response{Results: make([]dispatch.Entry, 0, len(recipients))}

	for _, deviceToken := range recipients {
		if err := ctx.Err(); err != nil {
			return nil, dispatch.NewGatewayError(dispatch.ErrTransport, 0, dispatch.NoRetry, err)
		}

		res, err := g.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       g.topic,
			Payload:     p,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, dispatch.NewGatewayError(dispatch.ErrTransport, 0, dispatch.NoRetry, ctxErr)
			}
			g.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			resp.Failure++
			resp.Results = append(resp.Results, dispatch.Entry{Error: dispatch.CodeUnavailable})
			continue
		}

		if res.Sent() {
			resp.Success++
			resp.Results = append(resp.Results, dispatch.Entry{MessageID: res.ApnsID})
			continue
		}

		if res.StatusCode == http.StatusForbidden && isProviderTokenReason(res.Reason) {
			return nil, dispatch.NewGatewayError(dispatch.ErrAuth, res.StatusCode, dispatch.NoRetry,
				fmt.Errorf("apns: %s", res.Reason))
		}

		resp.Failure++
		resp.Results = append(resp.Results, dispatch.Entry{Error: reasonCode(res)})
	}
	return resp, nil
}

func isProviderTokenReason(reason string) bool {
	switch reason {
	case apns2.ReasonInvalidProviderToken, apns2.ReasonExpiredProviderToken, apns2.ReasonMissingProviderToken:
		return true
	}
	return false
}

// reasonCode maps APNs rejection reasons to the gateway error code vocabulary.
func reasonCode(res *apns2.Response) string {
	switch res.Reason {
	case apns2.ReasonUnregistered:
		return dispatch.CodeNotRegistered
	case apns2.ReasonBadDeviceToken, apns2.ReasonDeviceTokenNotForTopic:
		return dispatch.CodeInvalidRegistration
	case apns2.ReasonPayloadTooLarge:
		return dispatch.CodeMessageTooBig
	case apns2.ReasonTooManyRequests:
		return dispatch.CodeDeviceMessageRateExceeded
	}
	if res.StatusCode >= 500 {
		return dispatch.CodeUnavailable
	}
	if res.Reason != "" {
		return res.Reason
	}
	return dispatch.CodeInternalServerError
}

func buildPayload(msg dispatch.Message) *payload.Payload {
	builder := payload.NewPayload()
	if n, ok := msg["notification"].(map[string]any); ok {
		if title, ok := n["title"].(string); ok {
			builder.AlertTitle(title)
		}
		if body, ok := n["body"].(string); ok {
			builder.AlertBody(body)
		}
		if sound, ok := n["sound"].(string); ok {
			builder.Sound(sound)
		}
	}
	if data, ok := msg["data"].(map[string]any); ok {
		for k, v := range data {
			builder.Custom(k, v)
		}
	}
	return builder
}
