package model

import "time"

// Operation status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Kind type constants.
const (
	KindDuration = "duration"
	KindDeadline = "deadline"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether no further transitions are possible from status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Kind describes what an operation waits for: either a relative duration or
// an absolute deadline. Exactly one of Duration or Deadline is meaningful,
// selected by Type.
type Kind struct {
	Type     string        `json:"type"`
	Duration time.Duration `json:"duration,omitempty"`
	Deadline time.Time     `json:"deadline,omitzero"`
}

// ForDuration returns a kind that waits for d.
func ForDuration(d time.Duration) Kind {
	return Kind{Type: KindDuration, Duration: d}
}

// UntilDeadline returns a kind that waits until the wall-clock instant t.
func UntilDeadline(t time.Time) Kind {
	return Kind{Type: KindDeadline, Deadline: t}
}

// ExpectedEnd returns the instant the operation should finish when created at
// createdAt. Deadlines in the past clamp to createdAt.
func (k Kind) ExpectedEnd(createdAt time.Time) time.Time {
	switch k.Type {
	case KindDeadline:
		if k.Deadline.Before(createdAt) {
			return createdAt
		}
		return k.Deadline
	default:
		return createdAt.Add(k.Duration)
	}
}

// Span returns how long the kind would wait if started at now.
func (k Kind) Span(now time.Time) time.Duration {
	if k.Type == KindDeadline {
		return k.Deadline.Sub(now)
	}
	return k.Duration
}

// Operation is the state record of one timed wait.
type Operation struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Message       string     `json:"message,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	ExpectedEndAt time.Time  `json:"expected_end_at"`
}

// NewOperation builds a pending operation created at now.
func NewOperation(id string, kind Kind, message string, now time.Time) Operation {
	return Operation{
		ID:            id,
		Kind:          kind,
		Message:       message,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpectedEndAt: kind.ExpectedEnd(now),
	}
}

// Transition moves the operation to status at the given instant. It returns
// false, leaving the operation untouched, if the transition is not allowed.
func (o *Operation) Transition(to string, at time.Time) bool {
	if !ValidTransition(o.Status, to) {
		return false
	}
	o.Status = to
	switch {
	case to == StatusRunning:
		o.StartedAt = &at
	case IsTerminal(to):
		o.EndedAt = &at
	}
	return true
}

// Elapsed returns how long the operation has been (or was) running as of now.
func (o Operation) Elapsed(now time.Time) time.Duration {
	if o.StartedAt == nil {
		return 0
	}
	end := now
	if o.EndedAt != nil {
		end = *o.EndedAt
	}
	if d := end.Sub(*o.StartedAt); d > 0 {
		return d
	}
	return 0
}
