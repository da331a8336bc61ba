package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatcher/internal/classify"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

func TestClassify_DecisionTable(t *testing.T) {
	testCases := []struct {
		name     string
		entry    dispatch.Entry
		wantKind dispatch.ResultKind
		wantCode string
		wantNew  string
	}{
		{name: "error only", entry: dispatch.Entry{Error: "NotRegistered"}, wantKind: dispatch.KindError, wantCode: "NotRegistered"},
		{name: "message id only", entry: dispatch.Entry{MessageID: "0:1"}, wantKind: dispatch.KindDelivered},
		{name: "message id and replacement", entry: dispatch.Entry{MessageID: "0:1", RegistrationID: "new-token"}, wantKind: dispatch.KindIdentifierChanged, wantNew: "new-token"},
		{name: "empty entry", entry: dispatch.Entry{}, wantKind: dispatch.KindMalformed},
		{name: "replacement only", entry: dispatch.Entry{RegistrationID: "new-token"}, wantKind: dispatch.KindMalformed},
		{name: "error with message id", entry: dispatch.Entry{Error: "Unavailable", MessageID: "0:1"}, wantKind: dispatch.KindMalformed},
		{name: "error with replacement", entry: dispatch.Entry{Error: "Unavailable", RegistrationID: "x"}, wantKind: dispatch.KindMalformed},
		{name: "all three", entry: dispatch.Entry{Error: "Unavailable", MessageID: "0:1", RegistrationID: "x"}, wantKind: dispatch.KindMalformed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := classify.Classify(tc.entry, "token-a")

			assert.Equal(t, "token-a", res.Recipient)
			assert.Equal(t, tc.wantKind, res.Kind)
			assert.Equal(t, tc.wantCode, res.ErrorCode)
			assert.Equal(t, tc.wantNew, res.CanonicalID)
			if tc.wantKind == dispatch.KindMalformed {
				assert.ErrorIs(t, res.Err, dispatch.ErrClassification)
			} else {
				assert.NoError(t, res.Err)
			}
		})
	}
}

func TestClassifyBatch(t *testing.T) {
	recipients := []string{"a", "b", "c"}

	t.Run("Positional Mapping", func(t *testing.T) {
		resp := &dispatch.Response{
			Success: 2, Failure: 1, CanonicalIDs: 1,
			Results: []dispatch.Entry{
				{MessageID: "1"},
				{Error: "InvalidRegistration"},
				{MessageID: "3", RegistrationID: "c2"},
			},
		}

		results, err := classify.ClassifyBatch(resp, recipients)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, dispatch.KindDelivered, results[0].Kind)
		assert.Equal(t, "b", results[1].Recipient)
		assert.Equal(t, "InvalidRegistration", results[1].ErrorCode)
		assert.Equal(t, "c2", results[2].CanonicalID)
	})

	t.Run("Malformed Entry Is Isolated", func(t *testing.T) {
		resp := &dispatch.Response{Results: []dispatch.Entry{{MessageID: "1"}, {}, {MessageID: "3"}}}

		results, err := classify.ClassifyBatch(resp, recipients)
		require.NoError(t, err)
		assert.Equal(t, dispatch.KindDelivered, results[0].Kind)
		assert.Equal(t, dispatch.KindMalformed, results[1].Kind)
		assert.Equal(t, dispatch.KindDelivered, results[2].Kind)
	})

	t.Run("Length Mismatch Fails Closed", func(t *testing.T) {
		resp := &dispatch.Response{Results: []dispatch.Entry{{MessageID: "1"}, {MessageID: "2"}}}

		results, err := classify.ClassifyBatch(resp, recipients)
		require.ErrorIs(t, err, dispatch.ErrClassification)
		assert.Nil(t, results)
	})

	t.Run("Nil Response", func(t *testing.T) {
		_, err := classify.ClassifyBatch(nil, recipients)
		assert.ErrorIs(t, err, dispatch.ErrClassification)
	})
}

func TestCanSkip(t *testing.T) {
	clean := &dispatch.Response{Success: 2}
	dirty := &dispatch.Response{Success: 1, CanonicalIDs: 1}

	assert.True(t, classify.CanSkip(clean, false))
	assert.False(t, classify.CanSkip(clean, true), "callers wanting results always get them")
	assert.False(t, classify.CanSkip(dirty, false))
	assert.False(t, classify.CanSkip(&dispatch.Response{Failure: 1}, false))
}

func TestSinkCode(t *testing.T) {
	assert.Equal(t, "", classify.SinkCode(dispatch.Result{Kind: dispatch.KindDelivered}))
	assert.Equal(t, "NotRegistered", classify.SinkCode(dispatch.Result{Kind: dispatch.KindError, ErrorCode: "NotRegistered"}))
	assert.Equal(t, dispatch.CodeIdentifierChanged, classify.SinkCode(dispatch.Result{Kind: dispatch.KindIdentifierChanged}))
	assert.Equal(t, dispatch.CodeMalformedEntry, classify.SinkCode(dispatch.Result{Kind: dispatch.KindMalformed}))
}
