// Package pushdispatcher sends batched pushes for one credential through a
// gateway, classifies per-recipient outcomes and retries server-hinted
// failures within a bounded attempt budget.
package pushdispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-dispatcher/internal/backoff"
	"github.com/tinywideclouds/go-push-dispatcher/internal/classify"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

var (
	ErrNoRecipients = errors.New("recipient set is empty")
	ErrNoEndpoint   = errors.New("subscription endpoint is empty")
	ErrNoWebGateway = errors.New("dispatcher has no web push gateway")
)

type outcome struct {
	results []dispatch.Result
	err     error
}

type job struct {
	task dispatch.Task
	// reply is nil for asynchronous submissions and resubmissions.
	reply chan outcome
}

// Dispatcher owns one credential. All gateway attempts run on a single actor
// goroutine, so attempts for the same credential never overlap.
type Dispatcher struct {
	name       string
	credential string
	gateway    dispatch.Gateway
	web        dispatch.WebGateway
	sink       dispatch.ErrorSink
	budget     int
	queueSize  int
	after      backoff.AfterFunc
	onAbandon  func(dispatch.Task, error)
	scheduler  *backoff.Scheduler
	logger     *slog.Logger

	jobs     chan job
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Dispatcher and starts its actor.
func New(name, credential string, gw dispatch.Gateway, opts ...Option) (*Dispatcher, error) {
	if name == "" {
		return nil, fmt.Errorf("dispatcher name cannot be empty")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}

	d := &Dispatcher{
		name:       name,
		credential: credential,
		gateway:    gw,
		budget:     defaultAttemptBudget,
		queueSize:  defaultQueueSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.logger = d.logger.With("component", "Dispatcher", "dispatcher", name)
	d.scheduler = backoff.NewScheduler(d.after, d.logger)
	d.jobs = make(chan job, d.queueSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.done = make(chan struct{})

	go d.run()
	d.logger.Info("Dispatcher started", "default_budget", d.budget, "web_push", d.web != nil)
	return d, nil
}

// Name returns the name the dispatcher was created with.
func (d *Dispatcher) Name() string {
	return d.name
}

// Submit enqueues a push and returns once it is accepted. Outcomes are
// reported through logs and the error sink, never to the caller.
func (d *Dispatcher) Submit(ctx context.Context, recipients []string, msg dispatch.Message, opts ...SubmitOption) error {
	task, err := d.newTask(recipients, nil, msg, opts)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, job{task: task})
}

// SubmitSync makes one attempt and returns its per-recipient results. A
// transient failure returns an error wrapping dispatch.ErrRetryScheduled while
// the retry continues in the background, or dispatch.ErrAbandoned.
func (d *Dispatcher) SubmitSync(ctx context.Context, recipients []string, msg dispatch.Message, opts ...SubmitOption) ([]dispatch.Result, error) {
	task, err := d.newTask(recipients, nil, msg, opts)
	if err != nil {
		return nil, err
	}
	return d.await(ctx, task)
}

// WebPushSubmit is Submit for a single web push subscription.
func (d *Dispatcher) WebPushSubmit(ctx context.Context, sub dispatch.Subscription, msg dispatch.Message, opts ...SubmitOption) error {
	task, err := d.newTask(nil, &sub, msg, opts)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, job{task: task})
}

// WebPushSubmitSync is SubmitSync for a single web push subscription.
func (d *Dispatcher) WebPushSubmitSync(ctx context.Context, sub dispatch.Subscription, msg dispatch.Message, opts ...SubmitOption) ([]dispatch.Result, error) {
	task, err := d.newTask(nil, &sub, msg, opts)
	if err != nil {
		return nil, err
	}
	return d.await(ctx, task)
}

// Stop terminates the actor. Queued and in-flight work is abandoned, later
// submissions fail with dispatch.ErrStopped and pending retries become no-ops.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		<-d.done
		d.logger.Info("Dispatcher stopped", "dropped_jobs", len(d.jobs))
	})
}

func (d *Dispatcher) newTask(recipients []string, sub *dispatch.Subscription, msg dispatch.Message, opts []SubmitOption) (dispatch.Task, error) {
	if sub != nil {
		if d.web == nil {
			return dispatch.Task{}, ErrNoWebGateway
		}
		if sub.Endpoint == "" {
			return dispatch.Task{}, ErrNoEndpoint
		}
	} else if len(recipients) == 0 {
		return dispatch.Task{}, ErrNoRecipients
	}

	so := submitOptions{}
	for _, opt := range opts {
		opt(&so)
	}
	budget := d.budget
	if so.hasBudget {
		budget = so.budget
	}

	return dispatch.Task{
		PushID:       uuid.NewString(),
		Recipients:   append([]string(nil), recipients...),
		Subscription: sub,
		Message:      msg,
		Attempt:      1,
		Budget:       budget,
	}, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	if d.ctx.Err() != nil {
		return dispatch.ErrStopped
	}
	select {
	case d.jobs <- j:
		return nil
	case <-d.ctx.Done():
		return dispatch.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) await(ctx context.Context, task dispatch.Task) ([]dispatch.Result, error) {
	reply := make(chan outcome, 1)
	if err := d.enqueue(ctx, job{task: task, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out.results, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		select {
		case out := <-reply:
			return out.results, out.err
		default:
			return nil, dispatch.ErrStopped
		}
	}
}

// resubmit is handed to the scheduler; after Stop it does nothing.
func (d *Dispatcher) resubmit(task dispatch.Task) {
	if err := d.enqueue(d.ctx, job{task: task}); err != nil {
		d.logger.Debug("Resubmission dropped", "push_id", task.PushID, "err", err)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case j := <-d.jobs:
			out := d.attempt(j.task, j.reply != nil)
			if j.reply != nil {
				j.reply <- out
			}
		}
	}
}

func (d *Dispatcher) attempt(task dispatch.Task, waiting bool) outcome {
	log := d.logger.With("push_id", task.PushID, "attempt", task.Attempt, "budget", task.Budget)

	var (
		resp       *dispatch.Response
		err        error
		recipients []string
	)
	if task.IsWebPush() {
		recipients = []string{task.Subscription.Endpoint}
		log.Info("Submitting web push", "recipients", recipients, "message", task.Message)
		resp, err = d.sendWebPush(task)
	} else {
		recipients = task.Recipients
		log.Info("Submitting push", "recipients", recipients, "message", task.Message)
		resp, err = d.gateway.Send(d.ctx, d.credential, recipients, task.Message)
	}
	if err != nil {
		return d.fail(log, task, err)
	}

	wantResults := waiting || d.sink != nil
	if classify.CanSkip(resp, wantResults) {
		log.Info("Push delivered", "success", resp.Success)
		return outcome{}
	}

	results, err := classify.ClassifyBatch(resp, recipients)
	if err != nil {
		log.Error("Gateway response rejected", "err", err)
		d.abandon(task, err)
		return outcome{err: err}
	}

	d.report(log, results)
	log.Info("Push completed",
		"success", resp.Success,
		"failure", resp.Failure,
		"canonical_ids", resp.CanonicalIDs,
	)
	return outcome{results: results}
}

// sendWebPush wraps the single-subscription call in the same envelope a batch
// gateway returns so classification and reporting are shared.
func (d *Dispatcher) sendWebPush(task dispatch.Task) (*dispatch.Response, error) {
	err := d.web.SendWebPush(d.ctx, *task.Subscription, task.Message)
	switch {
	case err == nil:
		return &dispatch.Response{
			Success: 1,
			Results: []dispatch.Entry{{MessageID: "web:" + uuid.NewString()}},
		}, nil
	case errors.Is(err, dispatch.ErrSubscriptionGone):
		return &dispatch.Response{
			Failure: 1,
			Results: []dispatch.Entry{{Error: dispatch.CodeNotRegistered}},
		}, nil
	default:
		return nil, err
	}
}

func (d *Dispatcher) fail(log *slog.Logger, task dispatch.Task, err error) outcome {
	if d.ctx.Err() != nil {
		log.Info("Attempt interrupted by stop", "err", err)
		return outcome{err: fmt.Errorf("%w: %w", dispatch.ErrStopped, err)}
	}

	gwErr := dispatch.AsGatewayError(err)
	if !gwErr.Retryable() {
		log.Error("Push failed", "status", gwErr.StatusCode, "err", gwErr)
		d.abandon(task, gwErr)
		return outcome{err: gwErr}
	}

	log.Warn("Push failed transiently", "status", gwErr.StatusCode, "hint", gwErr.Hint, "err", gwErr)
	if d.scheduler.Schedule(gwErr.Hint, task, d.resubmit) == backoff.Scheduled {
		return outcome{err: fmt.Errorf("%w: %w", dispatch.ErrRetryScheduled, gwErr)}
	}
	d.abandon(task, gwErr)
	return outcome{err: fmt.Errorf("%w: %w", dispatch.ErrAbandoned, gwErr)}
}

func (d *Dispatcher) abandon(task dispatch.Task, err error) {
	if d.onAbandon != nil {
		d.onAbandon(task, err)
	}
}

func (d *Dispatcher) report(log *slog.Logger, results []dispatch.Result) {
	for _, r := range results {
		code := classify.SinkCode(r)
		if code == "" {
			continue
		}
		log.Debug("Recipient not delivered", "recipient", r.Recipient, "kind", r.Kind, "code", code)
		if d.sink == nil {
			continue
		}
		if err := d.sink.ReportError(d.ctx, code, r); err != nil {
			log.Warn("Error sink failed", "recipient", r.Recipient, "code", code, "err", err)
		}
	}
}
