package recurrence

import "strings"

// Kind is the normalized shape of a recurrence rule.
type Kind int

const (
	// KindNever is the safe fallback for rules that cannot be interpreted.
	KindNever Kind = iota
	KindHourly
	KindDaily   // anchored N-day cycle (interval 1 = every day)
	KindWeekly  // specific ISO weekdays
	KindMonthly // specific days of month
	KindYearly
	KindOddEven       // day-of-month parity (prescriptions)
	KindMonthInterval // every N months on the anchor's day-of-month (prescriptions)
)

func (k Kind) String() string {
	switch k {
	case KindHourly:
		return "hourly"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	case KindMonthly:
		return "monthly"
	case KindYearly:
		return "yearly"
	case KindOddEven:
		return "odd_even"
	case KindMonthInterval:
		return "month_interval"
	default:
		return "never"
	}
}

// Parity selects which day-of-month parity an odd/even rule fires on.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// Rule is the single internal recurrence representation.
//
// At most one of Weekdays, MonthDays and Parity is meaningful for a given
// Kind; the others are ignored by the evaluator.
type Rule struct {
	Kind     Kind
	Interval int // cycle length in the kind's native unit; <=0 is treated as 1

	Times     []Clock      // ordered preferred times of day, optional
	Weekdays  map[int]bool // ISO weekday numbers, Monday=1 .. Sunday=7
	MonthDays map[int]bool // 1..31
	Parity    Parity
}

func (r Rule) interval() int {
	if r.Interval <= 0 {
		return 1
	}
	return r.Interval
}

// TaskRule normalizes the task-side vocabulary.
//
// Unknown units yield KindNever rather than an error: rules arrive from
// legacy data and a bad row must not take scheduling down.
func TaskRule(unit string, interval int, times []Clock, weekdays []int, monthDays []int) Rule {
	r := Rule{Interval: interval, Times: append([]Clock(nil), times...)}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "hourly":
		r.Kind = KindHourly
	case "daily":
		r.Kind = KindDaily
	case "weekly":
		r.Kind = KindWeekly
		r.Weekdays = weekdaySet(weekdays)
	case "monthly":
		r.Kind = KindMonthly
		r.MonthDays = monthDaySet(monthDays)
	case "yearly":
		r.Kind = KindYearly
	default:
		r.Kind = KindNever
	}
	return r
}

// PrescriptionRule normalizes the prescription-side vocabulary.
//
// Prescription cycles are always anchored at the prescription's start date;
// the caller passes that anchor to Matches.
func PrescriptionRule(frequency string, interval int, weekdays []int, oddEven string) Rule {
	r := Rule{Interval: interval}
	switch strings.ToLower(strings.TrimSpace(frequency)) {
	case "daily":
		r.Kind = KindDaily
		r.Interval = 1
	case "every_x_days":
		r.Kind = KindDaily
	case "weekly_days":
		r.Kind = KindWeekly
		r.Weekdays = weekdaySet(weekdays)
	case "odd_even_days":
		r.Kind = KindOddEven
		switch strings.ToLower(strings.TrimSpace(oddEven)) {
		case "odd":
			r.Parity = ParityOdd
		case "even":
			r.Parity = ParityEven
		default:
			r.Parity = ParityNone
		}
	case "every_x_months":
		r.Kind = KindMonthInterval
	default:
		r.Kind = KindNever
	}
	return r
}

func weekdaySet(days []int) map[int]bool {
	if len(days) == 0 {
		return nil
	}
	set := make(map[int]bool, len(days))
	for _, d := range days {
		if d >= 1 && d <= 7 {
			set[d] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func monthDaySet(days []int) map[int]bool {
	if len(days) == 0 {
		return nil
	}
	set := make(map[int]bool, len(days))
	for _, d := range days {
		if d >= 1 && d <= 31 {
			set[d] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
