package pushdispatcher_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualTimers records backoff requests and fires them only when told to.
type manualTimers struct {
	mu      sync.Mutex
	pending []func()
	delays  []time.Duration
}

func (m *manualTimers) After(d time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, f)
	m.delays = append(m.delays, d)
}

func (m *manualTimers) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}

func (m *manualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *manualTimers) FireNext() bool {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	f := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()

	f()
	return true
}

// fakeGateway answers every Send through respond and tracks overlap.
type fakeGateway struct {
	mu          sync.Mutex
	calls       [][]string
	credentials []string
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
	respond     func(n int, recipients []string) (*dispatch.Response, error)
}

func (g *fakeGateway) Send(ctx context.Context, credential string, recipients []string, _ dispatch.Message) (*dispatch.Response, error) {
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		prev := g.maxInFlight.Load()
		if cur <= prev || g.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	g.mu.Lock()
	g.calls = append(g.calls, recipients)
	g.credentials = append(g.credentials, credential)
	n := len(g.calls)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.respond(n, recipients)
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func delivered(recipients []string) *dispatch.Response {
	resp := &dispatch.Response{MulticastID: 1, Success: len(recipients)}
	for i := range recipients {
		resp.Results = append(resp.Results, dispatch.Entry{MessageID: "m" + recipients[i]})
	}
	return resp
}

type mockWebGateway struct {
	mock.Mock
	count atomic.Int32
}

func (m *mockWebGateway) SendWebPush(ctx context.Context, sub dispatch.Subscription, msg dispatch.Message) error {
	defer m.count.Add(1)
	return m.Called(ctx, sub, msg).Error(0)
}

type sinkCall struct {
	code   string
	result dispatch.Result
}

// recordingSink collects every report on a channel.
type recordingSink struct {
	calls chan sinkCall
}

func newRecordingSink() *recordingSink {
	return &recordingSink{calls: make(chan sinkCall, 32)}
}

func (s *recordingSink) ReportError(_ context.Context, code string, result dispatch.Result) error {
	s.calls <- sinkCall{code: code, result: result}
	return nil
}

type abandoned struct {
	task dispatch.Task
	err  error
}

func abandonRecorder() (chan abandoned, func(dispatch.Task, error)) {
	ch := make(chan abandoned, 8)
	return ch, func(task dispatch.Task, err error) { ch <- abandoned{task: task, err: err} }
}
