package schedule

import (
	"time"

	"caredesk/internal/recurrence"
)

// Completion is the record-store fact that a task occurrence was recorded,
// keyed by (task, date, time). The engine only ever reads completions.
type Completion struct {
	TaskID string
	Date   time.Time // calendar date of the occurrence
	Clock  recurrence.Clock
}

// Instant is the completion's full timestamp (date + clock).
func (c Completion) Instant() time.Time { return c.Clock.On(c.Date) }
