// Package backoff schedules server-hinted resubmissions of a push with a
// bounded attempt budget.
package backoff

import (
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// Decision is the outcome of Schedule.
type Decision int

const (
	Abandoned Decision = iota
	Scheduled
)

func (d Decision) String() string {
	if d == Scheduled {
		return "scheduled"
	}
	return "abandoned"
}

// AfterFunc runs f once d has elapsed without blocking the caller.
type AfterFunc func(d time.Duration, f func())

func timerAfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// Scheduler decides whether and when a failed push is resubmitted.
// The wait is always the gateway's hint; the only local bound is the budget.
type Scheduler struct {
	after  AfterFunc
	logger *slog.Logger
}

// NewScheduler creates a Scheduler. A nil after uses time.AfterFunc.
func NewScheduler(after AfterFunc, logger *slog.Logger) *Scheduler {
	if after == nil {
		after = timerAfterFunc
	}
	return &Scheduler{
		after:  after,
		logger: logger.With("component", "BackoffScheduler"),
	}
}

// Schedule hands task.Next() to resubmit after hint.After, or abandons the
// push when the hint forbids a retry or the budget is spent.
func (s *Scheduler) Schedule(hint dispatch.RetryHint, task dispatch.Task, resubmit func(dispatch.Task)) Decision {
	log := s.logger.With("push_id", task.PushID, "attempt", task.Attempt, "budget", task.Budget)

	if !hint.Retry {
		log.Info("Gateway declared no retry; abandoning push")
		return Abandoned
	}
	if task.Budget <= 0 {
		log.Info("Attempt budget exhausted; abandoning push")
		return Abandoned
	}

	next := task.Next()
	log.Info("Resubmission scheduled", "after", hint.After, "next_budget", next.Budget)
	s.after(hint.After, func() { resubmit(next) })
	return Scheduled
}
