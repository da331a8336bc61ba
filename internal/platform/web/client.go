// Package web delivers to a single web-push subscription using VAPID.
package web

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-dispatcher/internal/platform/transport"
	"github.com/tinywideclouds/go-push-dispatcher/pushdispatcher/config"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

type Client struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	httpClient *http.Client
	policy     transport.Policy
	logger     *slog.Logger
}

func NewClient(cfg config.VapidConfig, httpClient *http.Client, policy transport.Policy, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	ttl := cfg.TTLSeconds
	if ttl <= 0 {
		ttl = 60
	}
	return &Client{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        ttl,
		httpClient: httpClient,
		policy:     policy,
		logger:     logger.With("component", "WebPushClient"),
	}
}

// SendWebPush encrypts msg for the subscription and posts it to the push
// service. A 404/410 returns dispatch.ErrSubscriptionGone.
func (c *Client) SendWebPush(ctx context.Context, sub dispatch.Subscription, msg dispatch.Message) error {
	if err := validateSubscription(sub); err != nil {
		return dispatch.NewGatewayError(dispatch.ErrMalformedRequest, 0, dispatch.NoRetry, err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return dispatch.NewGatewayError(dispatch.ErrMalformedRequest, 0, dispatch.NoRetry,
			fmt.Errorf("failed to marshal payload: %w", err))
	}

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		Subscriber:      c.subscriber,
		VAPIDPublicKey:  c.publicKey,
		VAPIDPrivateKey: c.privateKey,
		TTL:             c.ttl,
		HTTPClient:      c.httpClient,
	})
	if err != nil {
		c.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return c.policy.FromError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusNotFound, http.StatusGone:
		c.logger.Info("WebPush subscription expired", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return dispatch.ErrSubscriptionGone
	default:
		c.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return c.policy.FromStatus(resp.StatusCode, resp.Header)
	}
}

// validateSubscription rejects key material the encryption step cannot use.
func validateSubscription(sub dispatch.Subscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription endpoint is empty")
	}
	p256dh, err := decodeKey(sub.P256dh)
	if err != nil {
		return fmt.Errorf("invalid p256dh key: %w", err)
	}
	if _, err := ecdh.P256().NewPublicKey(p256dh); err != nil {
		return fmt.Errorf("invalid p256dh key: %w", err)
	}
	auth, err := decodeKey(sub.Auth)
	if err != nil {
		return fmt.Errorf("invalid auth secret: %w", err)
	}
	if len(auth) != 16 {
		return fmt.Errorf("invalid auth secret: want 16 bytes, got %d", len(auth))
	}
	return nil
}

// decodeKey accepts the base64 variants browsers and libraries emit.
func decodeKey(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
