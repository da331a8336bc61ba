// Package gcm provides the client for the legacy HTTP push gateway
// (registration_ids batches authorised with a server key).
package gcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-push-dispatcher/internal/platform/transport"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// DefaultEndpoint is the legacy send endpoint.
const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// HTTPDoer is the subset of *http.Client we use.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	endpoint   string
	httpClient HTTPDoer
	policy     transport.Policy
	logger     *slog.Logger
}

// NewClient creates a gateway client. The credential is supplied per call so
// one client can serve every dispatcher.
func NewClient(endpoint string, httpClient HTTPDoer, policy transport.Policy, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		policy:     policy,
		logger:     logger.With("component", "GCMClient"),
	}
}

// Send posts one batch. The body is the caller's message with
// registration_ids set to the recipients.
func (c *Client) Send(ctx context.Context, credential string, recipients []string, msg dispatch.Message) (*dispatch.Response, error) {
	body, err := buildBody(recipients, msg)
	if err != nil {
		return nil, dispatch.NewGatewayError(dispatch.ErrMalformedRequest, 0, dispatch.NoRetry, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, dispatch.NewGatewayError(dispatch.ErrTransport, 0, dispatch.NoRetry, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Gateway request failed", "err", err)
		return nil, c.policy.FromError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn("Gateway rejected batch", "status", resp.StatusCode, "retry_after", resp.Header.Get("Retry-After"))
		return nil, c.policy.FromStatus(resp.StatusCode, resp.Header)
	}

	var decoded dispatch.Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, dispatch.NewGatewayError(dispatch.ErrTransport, resp.StatusCode, dispatch.NoRetry,
			fmt.Errorf("failed to decode gateway response: %w", err))
	}
	return &decoded, nil
}

func buildBody(recipients []string, msg dispatch.Message) ([]byte, error) {
	fields := make(map[string]any, len(msg)+1)
	for k, v := range msg {
		fields[k] = v
	}
	fields["registration_ids"] = recipients

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway body: %w", err)
	}
	return body, nil
}
