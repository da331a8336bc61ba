package pushdispatcher

import (
	"log/slog"

	"github.com/tinywideclouds/go-push-dispatcher/internal/backoff"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

const (
	defaultAttemptBudget = 5
	defaultQueueSize     = 64
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWebGateway enables WebPushSubmit and WebPushSubmitSync.
func WithWebGateway(gw dispatch.WebGateway) Option {
	return func(d *Dispatcher) { d.web = gw }
}

// WithErrorSink registers a sink that receives every non-delivered result.
func WithErrorSink(sink dispatch.ErrorSink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

// WithAttemptBudget sets the budget used when a submission does not carry its own.
func WithAttemptBudget(n int) Option {
	return func(d *Dispatcher) {
		if n < 0 {
			n = 0
		}
		d.budget = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithAbandonHook is called whenever a push is given up: a terminal gateway
// error, a no-retry hint or an exhausted budget. Callers of Submit are not told.
func WithAbandonHook(hook func(task dispatch.Task, err error)) Option {
	return func(d *Dispatcher) { d.onAbandon = hook }
}

// WithQueueSize sets the capacity of the actor's job queue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithAfterFunc replaces the deferred-execution primitive used for backoff.
func WithAfterFunc(after backoff.AfterFunc) Option {
	return func(d *Dispatcher) { d.after = after }
}

type submitOptions struct {
	budget    int
	hasBudget bool
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

// WithBudget overrides the dispatcher's default attempt budget for one push.
func WithBudget(n int) SubmitOption {
	return func(o *submitOptions) {
		if n < 0 {
			n = 0
		}
		o.budget = n
		o.hasBudget = true
	}
}
