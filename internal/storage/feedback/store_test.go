package feedback_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatcher/internal/storage/feedback"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// txOnlyClient fails the test if a push bypasses the transaction.
type txOnlyClient struct {
	*redis.Client
	t     *testing.T
	txErr error
	txs   int
}

func (c *txOnlyClient) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	c.t.Errorf("RPush on %s issued outside a transaction", key)
	return c.Client.RPush(ctx, key, values...)
}

func (c *txOnlyClient) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	c.t.Errorf("LTrim on %s issued outside a transaction", key)
	return c.Client.LTrim(ctx, key, start, stop)
}

func (c *txOnlyClient) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	c.txs++
	if c.txErr != nil {
		return nil, c.txErr
	}
	return c.Client.TxPipelined(ctx, fn)
}

func TestRedisFeedbackStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Nil Client Rejected", func(t *testing.T) {
		_, err := feedback.NewRedisFeedbackStore(nil, 0, newTestLogger())
		assert.Error(t, err)
	})

	t.Run("Sink Records And Pop Drains In Order", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		store, err := feedback.NewRedisFeedbackStore(client, 0, newTestLogger())
		require.NoError(t, err)

		sink := store.Sink("app-1")
		require.NoError(t, sink.ReportError(ctx, dispatch.CodeIdentifierChanged, dispatch.Result{
			Recipient: "old", Kind: dispatch.KindIdentifierChanged, CanonicalID: "new",
		}))
		require.NoError(t, sink.ReportError(ctx, dispatch.CodeNotRegistered, dispatch.Result{
			Recipient: "dead", Kind: dispatch.KindError, ErrorCode: dispatch.CodeNotRegistered,
		}))

		assert.True(t, mr.Exists("push:feedback:app-1"))
		n, err := store.Len(ctx, "app-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		items, err := store.Pop(ctx, "app-1", 10)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "old", items[0].Token)
		assert.Equal(t, "new", items[0].Replacement)
		assert.Equal(t, "update", items[0].Action)
		assert.Equal(t, "dead", items[1].Token)
		assert.Equal(t, "delete", items[1].Action)
		assert.NotZero(t, items[1].Timestamp)

		items, err = store.Pop(ctx, "app-1", 10)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("Lists Are Bounded", func(t *testing.T) {
		_, client := setupTestRedis(t)
		store, err := feedback.NewRedisFeedbackStore(client, 2, newTestLogger())
		require.NoError(t, err)

		for _, tok := range []string{"a", "b", "c"} {
			require.NoError(t, store.Push(ctx, feedback.TokenFeedback{Dispatcher: "app-2", Token: tok, Code: "NotRegistered"}))
		}

		items, err := store.Pop(ctx, "app-2", 10)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "b", items[0].Token)
		assert.Equal(t, "c", items[1].Token)
	})

	t.Run("Push And Trim Share One Transaction", func(t *testing.T) {
		_, client := setupTestRedis(t)
		wrapped := &txOnlyClient{Client: client, t: t}
		store, err := feedback.NewRedisFeedbackStore(wrapped, 1, newTestLogger())
		require.NoError(t, err)

		require.NoError(t, store.Push(ctx, feedback.TokenFeedback{Dispatcher: "app-5", Token: "a"}))
		require.NoError(t, store.Push(ctx, feedback.TokenFeedback{Dispatcher: "app-5", Token: "b"}))
		assert.Equal(t, 2, wrapped.txs)

		n, err := store.Len(ctx, "app-5")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("Failed Transaction Is Reported", func(t *testing.T) {
		_, client := setupTestRedis(t)
		wrapped := &txOnlyClient{Client: client, t: t, txErr: errors.New("EXECABORT")}
		store, err := feedback.NewRedisFeedbackStore(wrapped, 1, newTestLogger())
		require.NoError(t, err)

		err = store.Push(ctx, feedback.TokenFeedback{Dispatcher: "app-6", Token: "a"})
		assert.Error(t, err)

		n, err := store.Len(ctx, "app-6")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Poison Entries Are Skipped", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		store, err := feedback.NewRedisFeedbackStore(client, 0, newTestLogger())
		require.NoError(t, err)

		_, err = mr.Push("push:feedback:app-3", "{not json")
		require.NoError(t, err)
		require.NoError(t, store.Push(ctx, feedback.TokenFeedback{Dispatcher: "app-3", Token: "ok"}))

		items, err := store.Pop(ctx, "app-3", 5)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "ok", items[0].Token)
	})

	t.Run("Pop With Zero Limit", func(t *testing.T) {
		_, client := setupTestRedis(t)
		store, _ := feedback.NewRedisFeedbackStore(client, 0, newTestLogger())
		items, err := store.Pop(ctx, "app-4", 0)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}
