package pushdispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

var (
	ErrDispatcherExists  = errors.New("dispatcher already running")
	ErrUnknownDispatcher = dispatch.ErrUnknownDispatcher
)

// Host runs independent dispatchers side by side, keyed by name.
type Host struct {
	mu          sync.RWMutex
	dispatchers map[string]*Dispatcher
	logger      *slog.Logger
}

func NewHost(logger *slog.Logger) *Host {
	return &Host{
		dispatchers: make(map[string]*Dispatcher),
		logger:      logger,
	}
}

// Start creates and registers a dispatcher. The host's logger is used unless
// opts supply another.
func (h *Host) Start(name, credential string, gw dispatch.Gateway, opts ...Option) (*Dispatcher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.dispatchers[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDispatcherExists, name)
	}
	d, err := New(name, credential, gw, append([]Option{WithLogger(h.logger)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to start dispatcher %s: %w", name, err)
	}
	h.dispatchers[name] = d
	return d, nil
}

// Stop stops and forgets the named dispatcher.
func (h *Host) Stop(name string) error {
	h.mu.Lock()
	d, ok := h.dispatchers[name]
	delete(h.dispatchers, name)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDispatcher, name)
	}
	d.Stop()
	return nil
}

func (h *Host) Get(name string) (*Dispatcher, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.dispatchers[name]
	return d, ok
}

// Names returns the running dispatchers in sorted order.
func (h *Host) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.dispatchers))
	for name := range h.dispatchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll stops every dispatcher in parallel and waits for them.
func (h *Host) StopAll() {
	h.mu.Lock()
	running := h.dispatchers
	h.dispatchers = make(map[string]*Dispatcher)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range running {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			d.Stop()
		}(d)
	}
	wg.Wait()
	h.logger.Info("All dispatchers stopped", "count", len(running))
}

// Route submits req asynchronously to the dispatcher it names.
func (h *Host) Route(ctx context.Context, req *dispatch.PushRequest) error {
	d, opts, err := h.resolve(req)
	if err != nil {
		return err
	}
	if req.IsWebPush() {
		return d.WebPushSubmit(ctx, *req.Subscription, req.Message, opts...)
	}
	return d.Submit(ctx, req.Recipients, req.Message, opts...)
}

// RouteSync submits req and waits for the first attempt's results.
func (h *Host) RouteSync(ctx context.Context, req *dispatch.PushRequest) ([]dispatch.Result, error) {
	d, opts, err := h.resolve(req)
	if err != nil {
		return nil, err
	}
	if req.IsWebPush() {
		return d.WebPushSubmitSync(ctx, *req.Subscription, req.Message, opts...)
	}
	return d.SubmitSync(ctx, req.Recipients, req.Message, opts...)
}

func (h *Host) resolve(req *dispatch.PushRequest) (*Dispatcher, []SubmitOption, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	d, ok := h.Get(req.Dispatcher)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownDispatcher, req.Dispatcher)
	}
	var opts []SubmitOption
	if req.AttemptBudget != nil {
		opts = append(opts, WithBudget(*req.AttemptBudget))
	}
	return d, opts, nil
}
