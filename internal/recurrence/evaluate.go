package recurrence

import "time"

// Matches reports whether date is an occurrence of the rule.
//
// anchor defines the cycle origin for kinds that need one: the latest actual
// completion (or creation date) for anchored daily task rules, the start date
// for prescription rules. Anchoring on the latest completion is what lets an
// off-cycle completion reset the cadence: completing an every-3-days task on
// day 2 makes the next occurrence day 5, not the rigid day 3/6/9 grid.
//
// Only the calendar dates of date and anchor are considered.
func Matches(r Rule, date, anchor time.Time) bool {
	switch r.Kind {
	case KindHourly:
		// Sub-day cadence: every calendar date is an occurrence date.
		return true

	case KindDaily:
		n := r.interval()
		if n <= 1 {
			return true
		}
		diff := DaysBetween(anchor, date)
		return diff >= 0 && diff%n == 0

	case KindWeekly:
		if len(r.Weekdays) == 0 {
			// Explicit configuration required; legacy rows without weekdays
			// must not fire every day.
			return false
		}
		return r.Weekdays[ISOWeekday(date)]

	case KindMonthly:
		if len(r.MonthDays) == 0 {
			// Unconstrained day set: any date in the month qualifies.
			return true
		}
		return r.MonthDays[date.Day()]

	case KindYearly:
		return date.Month() == anchor.Month() && date.Day() == anchor.Day()

	case KindOddEven:
		switch r.Parity {
		case ParityOdd:
			return date.Day()%2 == 1
		case ParityEven:
			return date.Day()%2 == 0
		default:
			return false
		}

	case KindMonthInterval:
		// No clamping for short months: if the anchor's day-of-month does not
		// exist in the target month, the rule simply never fires that month.
		diff := MonthsBetween(anchor, date)
		if diff < 0 || diff%r.interval() != 0 {
			return false
		}
		return date.Day() == anchor.Day()

	default:
		return false
	}
}
