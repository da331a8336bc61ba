package pushdispatcher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatcher/pushdispatcher"
)

func TestHost(t *testing.T) {
	ctx := context.Background()
	okGateway := func() *fakeGateway {
		return &fakeGateway{respond: func(_ int, r []string) (*dispatch.Response, error) { return delivered(r), nil }}
	}

	t.Run("Start Get Stop", func(t *testing.T) {
		host := pushdispatcher.NewHost(newTestLogger())

		gwA, gwB := okGateway(), okGateway()
		a, err := host.Start("a", "cred-a", gwA)
		require.NoError(t, err)
		_, err = host.Start("b", "cred-b", gwB)
		require.NoError(t, err)
		t.Cleanup(host.StopAll)

		got, ok := host.Get("a")
		require.True(t, ok)
		assert.Same(t, a, got)
		assert.Equal(t, "a", got.Name())
		assert.Equal(t, []string{"a", "b"}, host.Names())

		b, _ := host.Get("b")
		_, err = b.SubmitSync(ctx, []string{"x"}, testMessage)
		require.NoError(t, err)
		assert.Equal(t, []string{"cred-b"}, gwB.credentials)
		assert.Equal(t, 0, gwA.Calls())

		require.NoError(t, host.Stop("a"))
		_, ok = host.Get("a")
		assert.False(t, ok)
		assert.ErrorIs(t, a.Submit(ctx, []string{"x"}, testMessage), dispatch.ErrStopped)
	})

	t.Run("Duplicate Name Rejected", func(t *testing.T) {
		host := pushdispatcher.NewHost(newTestLogger())
		t.Cleanup(host.StopAll)

		_, err := host.Start("a", "cred", okGateway())
		require.NoError(t, err)
		_, err = host.Start("a", "cred", okGateway())
		assert.ErrorIs(t, err, pushdispatcher.ErrDispatcherExists)
	})

	t.Run("Invalid Dispatcher Not Registered", func(t *testing.T) {
		host := pushdispatcher.NewHost(newTestLogger())
		_, err := host.Start("a", "cred", nil)
		assert.Error(t, err)
		assert.Empty(t, host.Names())
	})

	t.Run("Stop Unknown", func(t *testing.T) {
		host := pushdispatcher.NewHost(newTestLogger())
		assert.ErrorIs(t, host.Stop("nope"), pushdispatcher.ErrUnknownDispatcher)
	})

	t.Run("StopAll", func(t *testing.T) {
		host := pushdispatcher.NewHost(newTestLogger())
		var started []*pushdispatcher.Dispatcher
		for _, name := range []string{"a", "b", "c"} {
			d, err := host.Start(name, "cred", okGateway())
			require.NoError(t, err)
			started = append(started, d)
		}

		host.StopAll()
		assert.Empty(t, host.Names())
		for _, d := range started {
			assert.ErrorIs(t, d.Submit(ctx, []string{"x"}, testMessage), dispatch.ErrStopped)
		}
	})
}

func TestHost_Route(t *testing.T) {
	ctx := context.Background()
	host := pushdispatcher.NewHost(newTestLogger())
	t.Cleanup(host.StopAll)

	gw := &fakeGateway{respond: func(_ int, r []string) (*dispatch.Response, error) { return delivered(r), nil }}
	web := new(mockWebGateway)
	web.On("SendWebPush", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	_, err := host.Start("app", "cred", gw, pushdispatcher.WithWebGateway(web))
	require.NoError(t, err)

	t.Run("Batch Sync", func(t *testing.T) {
		results, err := host.RouteSync(ctx, &dispatch.PushRequest{
			Dispatcher: "app",
			Recipients: []string{"a", "b"},
			Message:    testMessage,
		})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("Web Push Sync", func(t *testing.T) {
		results, err := host.RouteSync(ctx, &dispatch.PushRequest{
			Dispatcher:   "app",
			Subscription: &dispatch.Subscription{Endpoint: "https://push.example/1"},
			Message:      testMessage,
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, dispatch.KindDelivered, results[0].Kind)
	})

	t.Run("Async With Budget", func(t *testing.T) {
		budget := 0
		err := host.Route(ctx, &dispatch.PushRequest{
			Dispatcher:    "app",
			Recipients:    []string{"c"},
			AttemptBudget: &budget,
		})
		require.NoError(t, err)
	})

	t.Run("Unknown Dispatcher", func(t *testing.T) {
		err := host.Route(ctx, &dispatch.PushRequest{Dispatcher: "missing", Recipients: []string{"a"}})
		assert.ErrorIs(t, err, pushdispatcher.ErrUnknownDispatcher)
	})

	t.Run("Invalid Request", func(t *testing.T) {
		_, err := host.RouteSync(ctx, &dispatch.PushRequest{Dispatcher: "app"})
		assert.ErrorIs(t, err, dispatch.ErrInvalidRequest)
	})
}
