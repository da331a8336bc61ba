package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatcher/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

func TestPushRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
		check                 func(t *testing.T, req *dispatch.PushRequest)
	}{
		{
			name:    "Happy Path - Batch",
			payload: `{"dispatcher":"app","recipients":["a","b"],"message":{"data":{"k":"v"}},"attempt_budget":2}`,
			check: func(t *testing.T, req *dispatch.PushRequest) {
				assert.Equal(t, "app", req.Dispatcher)
				assert.Equal(t, []string{"a", "b"}, req.Recipients)
				require.NotNil(t, req.AttemptBudget)
				assert.Equal(t, 2, *req.AttemptBudget)
				assert.Equal(t, map[string]any{"k": "v"}, req.Message["data"])
			},
		},
		{
			name:    "Happy Path - Web Push",
			payload: `{"dispatcher":"app","subscription":{"endpoint":"https://push.example/1","p256dh":"p","auth":"a"},"message":{}}`,
			check: func(t *testing.T, req *dispatch.PushRequest) {
				require.True(t, req.IsWebPush())
				assert.Equal(t, "https://push.example/1", req.Subscription.Endpoint)
				assert.Nil(t, req.AttemptBudget)
			},
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               `{"dispatcher":`,
			expectError:           true,
			expectedErrorContains: "failed to unmarshal",
		},
		{
			name:                  "Failure - Missing Recipients",
			payload:               `{"dispatcher":"app","message":{}}`,
			expectError:           true,
			expectedErrorContains: "recipients are required",
		},
		{
			name:                  "Failure - Both Targets",
			payload:               `{"dispatcher":"app","recipients":["a"],"subscription":{"endpoint":"e"}}`,
			expectError:           true,
			expectedErrorContains: "mutually exclusive",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}

			req, skip, err := pipeline.PushRequestTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Nil(t, req)
				assert.ErrorContains(t, err, tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			tc.check(t, req)
		})
	}
}
