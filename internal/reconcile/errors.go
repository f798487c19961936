package reconcile

import "errors"

var (
	// ErrScheduleExhausted means the forward search walked its full bound
	// without finding an unfulfilled occurrence. A defensive limit, not an
	// expected operational case.
	ErrScheduleExhausted = errors.New("schedule exhausted: no unfulfilled occurrence within search bound")
)
