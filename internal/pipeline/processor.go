package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// NewProcessor hands each push request to the router. Requests that can never
// succeed are acked and dropped; everything else is returned for redelivery.
func NewProcessor(
	router dispatch.PushRouter,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.PushRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.PushRequest) error {
		procLogger := logger.With(
			"dispatcher", request.Dispatcher,
			"pubsub_msg_id", original.ID,
			"web_push", request.IsWebPush(),
		)

		err := router.Route(ctx, request)
		switch {
		case err == nil:
			procLogger.Debug("Push request accepted")
			return nil
		case errors.Is(err, dispatch.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			procLogger.Warn("Push request not accepted; leaving for redelivery", "err", err)
			return err
		default:
			procLogger.Error("Dropping push request", "err", err)
			return nil
		}
	}
}
