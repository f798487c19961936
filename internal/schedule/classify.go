package schedule

import (
	"time"

	"caredesk/internal/recurrence"
)

// Status is a task's live urgency bucket.
type Status int

const (
	StatusScheduled Status = iota
	StatusDueSoon
	StatusPendingToday
	StatusOverdue
)

func (s Status) String() string {
	switch s {
	case StatusOverdue:
		return "overdue"
	case StatusPendingToday:
		return "pending_today"
	case StatusDueSoon:
		return "due_soon"
	default:
		return "scheduled"
	}
}

// dueSoonHorizonDays is the date-granular lookahead for document kinds.
const dueSoonHorizonDays = 14

// CompletionCheck reports whether a completion exists on or after the given
// date. The caller binds it to the record store; Classify itself does no I/O.
type CompletionCheck func(onOrAfter time.Time) bool

// Classify derives the task's current status from wall-clock time.
//
// The buckets are priority-ordered (overdue > pending_today > due_soon >
// scheduled): they are evaluated in that order and the first hit wins, with
// scheduled as the default. The function is pure and total.
func Classify(t Task, now time.Time, completed CompletionCheck) Status {
	due, ok := t.Progress.NextDueAt()
	if !ok {
		// No projected occurrence yet; nothing can be due.
		return StatusScheduled
	}
	if completed == nil {
		completed = func(time.Time) bool { return false }
	}

	if t.Kind.DateGranular() {
		return classifyByDate(due, now, completed)
	}
	return classifyByTimestamp(t, due, now)
}

// classifyByDate compares calendar dates only. Document obligations (consent
// renewals, care plans) are due on a date, not at a moment.
func classifyByDate(due, now time.Time, completed CompletionCheck) Status {
	today := recurrence.StartOfDay(now)
	dueDate := recurrence.StartOfDay(due)

	if dueDate.After(today) {
		horizon := today.AddDate(0, 0, dueSoonHorizonDays)
		if !dueDate.After(horizon) && !completed(dueDate) {
			return StatusDueSoon
		}
		// A future date cannot have been completed against yet.
		return StatusScheduled
	}
	if completed(dueDate) {
		return StatusScheduled
	}
	if dueDate.Equal(today) {
		return StatusPendingToday
	}
	return StatusOverdue
}

// classifyByTimestamp compares full timestamps (monitoring/nursing kinds).
func classifyByTimestamp(t Task, due, now time.Time) Status {
	// Already satisfied: the stored due moment has a completion at or after
	// it, so the task reports on its projected next occurrence.
	if done, ok := t.Progress.LastCompletedAt(); ok && !done.Before(due) {
		return StatusScheduled
	}

	startOfToday := recurrence.StartOfDay(now)
	endOfToday := startOfToday.AddDate(0, 0, 1).Add(-time.Nanosecond)

	if due.Before(startOfToday) {
		return StatusOverdue
	}
	if !due.After(endOfToday) {
		return StatusPendingToday
	}
	if !due.After(now.Add(24 * time.Hour)) {
		return StatusDueSoon
	}
	return StatusScheduled
}
