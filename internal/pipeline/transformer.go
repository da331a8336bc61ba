// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// PushRequestTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload into a dispatch.PushRequest.
func PushRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.PushRequest, bool, error) {
	var req dispatch.PushRequest

	// Undecodable or invalid payloads are skipped so the StreamingService
	// handles the Nack/DLQ logic.
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}
	if err := req.Validate(); err != nil {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, err)
	}

	return &req, false, nil
}
