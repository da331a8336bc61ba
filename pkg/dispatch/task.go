package dispatch

// Task carries the immutable parameters of one logical push plus its
// attempt counters. A resubmission is a new Task, never a mutation.
type Task struct {
	PushID       string
	Recipients   []string
	Subscription *Subscription
	Message      Message
	Attempt      int
	Budget       int
}

// IsWebPush reports whether the task targets a single subscription.
func (t Task) IsWebPush() bool {
	return t.Subscription != nil
}

// Next is the resubmission of t: one more attempt, one less in the budget.
func (t Task) Next() Task {
	next := t
	next.Attempt++
	next.Budget--
	return next
}
