package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-dispatcher/internal/storage/feedback"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

const (
	defaultFeedbackLimit = 100
	maxFeedbackLimit     = 1000
)

// FeedbackReader drains recorded feedback for a dispatcher.
type FeedbackReader interface {
	Pop(ctx context.Context, dispatcher string, limit int) ([]feedback.TokenFeedback, error)
	Len(ctx context.Context, dispatcher string) (int64, error)
}

type PushAPI struct {
	Router   dispatch.PushRouter
	Feedback FeedbackReader
	Logger   *slog.Logger
}

// NewPushAPI creates the handlers. fb may be nil when no feedback store is configured.
func NewPushAPI(router dispatch.PushRouter, fb FeedbackReader, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Router:   router,
		Feedback: fb,
		Logger:   logger,
	}
}

// SubmitBatchRequest is the body of POST /api/v1/push/{dispatcher}.
type SubmitBatchRequest struct {
	Recipients    []string         `json:"recipients"`
	Message       dispatch.Message `json:"message"`
	AttemptBudget *int             `json:"attempt_budget,omitempty"`
}

// SubmitWebPushRequest is the body of POST /api/v1/webpush/{dispatcher}.
type SubmitWebPushRequest struct {
	Subscription  dispatch.Subscription `json:"subscription"`
	Message       dispatch.Message      `json:"message"`
	AttemptBudget *int                  `json:"attempt_budget,omitempty"`
}

type SubmitResponse struct {
	Status  string            `json:"status"`
	Results []dispatch.Result `json:"results,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// FeedbackResponse carries the drained entries. Remaining is the backlog left
// after the drain; it is omitted when the count could not be read.
type FeedbackResponse struct {
	Feedback  []feedback.TokenFeedback `json:"feedback"`
	Remaining *int64                   `json:"remaining,omitempty"`
}

// SubmitBatch handles POST /api/v1/push/{dispatcher}. With ?sync=true the
// first attempt's per-recipient results are returned.
func (api *PushAPI) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var body SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	api.submit(w, r, &dispatch.PushRequest{
		Dispatcher:    r.PathValue("dispatcher"),
		Recipients:    body.Recipients,
		Message:       body.Message,
		AttemptBudget: body.AttemptBudget,
	})
}

// SubmitWebPush handles POST /api/v1/webpush/{dispatcher}.
func (api *PushAPI) SubmitWebPush(w http.ResponseWriter, r *http.Request) {
	var body SubmitWebPushRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}
	api.submit(w, r, &dispatch.PushRequest{
		Dispatcher:    r.PathValue("dispatcher"),
		Subscription:  &body.Subscription,
		Message:       body.Message,
		AttemptBudget: body.AttemptBudget,
	})
}

func (api *PushAPI) submit(w http.ResponseWriter, r *http.Request, req *dispatch.PushRequest) {
	log := api.Logger.With("dispatcher", req.Dispatcher, "web_push", req.IsWebPush())
	ctx := r.Context()

	if r.URL.Query().Get("sync") != "true" {
		if err := api.Router.Route(ctx, req); err != nil {
			api.writeSubmitError(w, log, err)
			return
		}
		response.WriteJSON(w, http.StatusAccepted, SubmitResponse{Status: "accepted"})
		return
	}

	results, err := api.Router.RouteSync(ctx, req)
	if errors.Is(err, dispatch.ErrRetryScheduled) {
		log.Info("Sync push failed transiently; retry scheduled", "err", err)
		response.WriteJSON(w, http.StatusAccepted, SubmitResponse{Status: "retry_scheduled", Error: err.Error()})
		return
	}
	if err != nil {
		api.writeSubmitError(w, log, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, SubmitResponse{Status: "completed", Results: results})
}

func (api *PushAPI) writeSubmitError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest):
		log.Warn("Rejected push request", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrUnknownDispatcher):
		log.Warn("Push for unknown dispatcher", "err", err)
		response.WriteJSONError(w, http.StatusNotFound, "unknown dispatcher")
	case errors.Is(err, dispatch.ErrStopped):
		response.WriteJSONError(w, http.StatusServiceUnavailable, "dispatcher stopped")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.WriteJSONError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		// Gateway rejections (auth, malformed, transport) and abandoned pushes.
		log.Error("Push failed", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, err.Error())
	}
}

// DrainFeedback handles GET /api/v1/feedback/{dispatcher}?limit=N.
func (api *PushAPI) DrainFeedback(w http.ResponseWriter, r *http.Request) {
	dispatcher := r.PathValue("dispatcher")
	if api.Feedback == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "feedback store not configured")
		return
	}

	limit := defaultFeedbackLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		val, err := strconv.Atoi(limitStr)
		if err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter, must be an integer")
			return
		}
		if val > maxFeedbackLimit {
			limit = maxFeedbackLimit
		} else if val > 0 {
			limit = val
		}
	}

	items, err := api.Feedback.Pop(r.Context(), dispatcher, limit)
	if err != nil {
		api.Logger.Error("Failed to drain feedback", "dispatcher", dispatcher, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to retrieve feedback")
		return
	}
	resp := FeedbackResponse{Feedback: items}
	if n, err := api.Feedback.Len(r.Context(), dispatcher); err != nil {
		api.Logger.Warn("Failed to count remaining feedback", "dispatcher", dispatcher, "err", err)
	} else {
		resp.Remaining = &n
	}
	api.Logger.Debug("Drained feedback", "dispatcher", dispatcher, "count", len(items), "remaining", resp.Remaining)
	response.WriteJSON(w, http.StatusOK, resp)
}
