package model

import "time"

// Snapshot is a point-in-time view of an operation with progress computed on
// read. It is a plain value and safe to hand to any goroutine.
type Snapshot struct {
	ID              string     `json:"operation_id"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	ElapsedMS       int64      `json:"elapsed_ms"`
	RemainingMS     int64      `json:"remaining_ms"`
	Message         string     `json:"message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ExpectedEndAt   time.Time  `json:"expected_end_at"`
}

// Snapshot computes the operation's progress as of now.
func (o Operation) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		ID:              o.ID,
		Kind:            o.Kind.Type,
		Status:          o.Status,
		ProgressPercent: o.Progress(now),
		ElapsedMS:       o.Elapsed(now).Milliseconds(),
		RemainingMS:     o.Remaining(now).Milliseconds(),
		Message:         o.Message,
		CreatedAt:       o.CreatedAt,
		StartedAt:       o.StartedAt,
		EndedAt:         o.EndedAt,
		ExpectedEndAt:   o.ExpectedEndAt,
	}
}

// maxUnfinishedProgress is the highest progress an operation that has not
// completed may report. A runner scheduled after creation waits its full
// duration from start, so the clock can pass ExpectedEndAt before completion.
const maxUnfinishedProgress = 99.9

// Progress returns completion in percent, 0 to 100. Pending operations report
// 0, completed ones 100, and cancelled ones stay frozen at the moment they
// ended. Only a completed operation reports 100.
func (o Operation) Progress(now time.Time) float64 {
	switch {
	case o.Status == StatusCompleted:
		return 100
	case o.StartedAt == nil:
		return 0
	}

	at := now
	if o.EndedAt != nil {
		at = *o.EndedAt
	}
	p := CalculateProgress(at.Sub(*o.StartedAt), o.ExpectedEndAt.Sub(*o.StartedAt))
	return min(p, maxUnfinishedProgress)
}

// Remaining returns the time left until the expected end as of now. A running
// operation past its expected end reports a millisecond until the runner
// records completion.
func (o Operation) Remaining(now time.Time) time.Duration {
	at := now
	switch o.Status {
	case StatusCompleted:
		return 0
	case StatusCancelled:
		if o.EndedAt != nil {
			at = *o.EndedAt
		}
	}
	d := o.ExpectedEndAt.Sub(at)
	if o.Status == StatusRunning && d < time.Millisecond {
		return time.Millisecond
	}
	if d > 0 {
		return d
	}
	return 0
}

// CalculateProgress returns elapsed as a percentage of total, clamped to [0, 100].
// A zero or negative total counts as already done.
func CalculateProgress(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 100
	}
	p := float64(elapsed) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
