package recurrence

import (
	"sort"
	"time"
)

// monthSearchLimit bounds the month-by-month scan in nextMonthly. Four years
// of months is enough for any configured day to exist at least once.
const monthSearchLimit = 48

// Next advances from to the rule's following occurrence.
//
// The result carries from's time-of-day; callers resolve the due clock time
// separately via ApplyTimeOfDay.
func Next(r Rule, from time.Time) time.Time {
	switch r.Kind {
	case KindHourly:
		return from.Add(time.Duration(r.interval()) * time.Hour)

	case KindDaily:
		return from.AddDate(0, 0, r.interval())

	case KindWeekly:
		return nextWeekly(r, from)

	case KindMonthly:
		return nextMonthly(r, from)

	case KindYearly:
		return from.AddDate(r.interval(), 0, 0)

	case KindOddEven:
		// The other parity is at most two days out.
		for i := 1; i <= 2; i++ {
			cand := from.AddDate(0, 0, i)
			if Matches(r, cand, from) {
				return cand
			}
		}
		return from.AddDate(0, 0, 2)

	case KindMonthInterval:
		return from.AddDate(0, r.interval(), 0)

	default:
		return from.AddDate(0, 0, 1)
	}
}

func nextWeekly(r Rule, from time.Time) time.Time {
	if len(r.Weekdays) == 0 {
		return from.AddDate(0, 0, r.interval()*7)
	}
	for i := 1; i <= 7; i++ {
		cand := from.AddDate(0, 0, i)
		if r.Weekdays[ISOWeekday(cand)] {
			return cand
		}
	}
	// Unreachable with a non-empty set; keep the interval fallback anyway.
	return from.AddDate(0, 0, r.interval()*7)
}

func nextMonthly(r Rule, from time.Time) time.Time {
	if len(r.MonthDays) == 0 {
		return from.AddDate(0, r.interval(), 0)
	}
	days := make([]int, 0, len(r.MonthDays))
	for d := range r.MonthDays {
		days = append(days, d)
	}
	sort.Ints(days)

	// Later configured day within the current month.
	for _, d := range days {
		if d > from.Day() && d <= daysInMonth(from.Year(), from.Month(), from.Location()) {
			return time.Date(from.Year(), from.Month(), d,
				from.Hour(), from.Minute(), from.Second(), 0, from.Location())
		}
	}

	// Advance by the interval and take the smallest configured day that
	// exists in the landing month. A month without it (day 31 in February)
	// is skipped entirely rather than clamped.
	year, month := from.Year(), from.Month()
	for i := 0; i < monthSearchLimit; i++ {
		month += time.Month(r.interval())
		for month > 12 {
			month -= 12
			year++
		}
		for _, d := range days {
			if d <= daysInMonth(year, month, from.Location()) {
				return time.Date(year, month, d,
					from.Hour(), from.Minute(), from.Second(), 0, from.Location())
			}
		}
	}
	return from.AddDate(0, r.interval(), 0)
}
