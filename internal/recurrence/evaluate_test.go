package recurrence

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMatchesDailyAnchoring(t *testing.T) {
	t.Parallel()
	rule := TaskRule("daily", 3, nil, nil, nil)
	created := date(2025, time.March, 1) // day 0

	for _, tt := range []struct {
		day  int
		want bool
	}{
		{0, true}, {1, false}, {2, false}, {3, true}, {4, false}, {6, true}, {9, true},
	} {
		got := Matches(rule, created.AddDate(0, 0, tt.day), created)
		if got != tt.want {
			t.Fatalf("day %d: Matches = %v, want %v", tt.day, got, tt.want)
		}
	}

	// A completion on day 2 re-anchors the cycle: next match is day 5, not 3 or 6.
	anchor := created.AddDate(0, 0, 2)
	for _, tt := range []struct {
		day  int
		want bool
	}{
		{3, false}, {5, true}, {6, false}, {8, true},
	} {
		got := Matches(rule, created.AddDate(0, 0, tt.day), anchor)
		if got != tt.want {
			t.Fatalf("re-anchored day %d: Matches = %v, want %v", tt.day, got, tt.want)
		}
	}
}

func TestMatchesDailyIntervalOne(t *testing.T) {
	t.Parallel()
	rule := TaskRule("daily", 1, nil, nil, nil)
	anchor := date(2025, time.March, 1)
	for i := 0; i < 5; i++ {
		if !Matches(rule, anchor.AddDate(0, 0, i), anchor) {
			t.Fatalf("daily interval 1 should match every day, failed at +%d", i)
		}
	}
}

func TestMatchesWeekly(t *testing.T) {
	t.Parallel()
	rule := TaskRule("weekly", 1, nil, []int{1, 3, 5}, nil) // Mon/Wed/Fri
	start := date(2025, time.June, 2)                       // a Monday

	// Every date over a 4-week window: exactly Mon/Wed/Fri match.
	for i := 0; i < 28; i++ {
		d := start.AddDate(0, 0, i)
		want := false
		switch d.Weekday() {
		case time.Monday, time.Wednesday, time.Friday:
			want = true
		}
		if got := Matches(rule, d, start); got != want {
			t.Fatalf("%s (%s): Matches = %v, want %v", d.Format("2006-01-02"), d.Weekday(), got, want)
		}
	}
}

func TestMatchesWeeklyEmptySetNeverFires(t *testing.T) {
	t.Parallel()
	rule := TaskRule("weekly", 1, nil, nil, nil)
	start := date(2025, time.June, 2)
	for i := 0; i < 7; i++ {
		if Matches(rule, start.AddDate(0, 0, i), start) {
			t.Fatal("weekly rule without weekdays must never match")
		}
	}
}

func TestMatchesMonthly(t *testing.T) {
	t.Parallel()
	rule := TaskRule("monthly", 1, nil, nil, []int{1, 15})
	anchor := date(2025, time.January, 1)

	tests := []struct {
		d    time.Time
		want bool
	}{
		{date(2025, time.February, 1), true},
		{date(2025, time.February, 15), true},
		{date(2025, time.February, 14), false},
		{date(2025, time.March, 16), false},
	}
	for _, tt := range tests {
		if got := Matches(rule, tt.d, anchor); got != tt.want {
			t.Fatalf("%s: Matches = %v, want %v", tt.d.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestMatchesPrescriptionDialect(t *testing.T) {
	t.Parallel()
	start := date(2025, time.January, 10)

	tests := []struct {
		name string
		rule Rule
		d    time.Time
		want bool
	}{
		{"daily ignores interval", PrescriptionRule("daily", 5, nil, ""), start.AddDate(0, 0, 1), true},
		{"every_x_days on cycle", PrescriptionRule("every_x_days", 3, nil, ""), start.AddDate(0, 0, 6), true},
		{"every_x_days off cycle", PrescriptionRule("every_x_days", 3, nil, ""), start.AddDate(0, 0, 5), false},
		{"every_x_days before start", PrescriptionRule("every_x_days", 3, nil, ""), start.AddDate(0, 0, -3), false},
		{"weekly_days", PrescriptionRule("weekly_days", 1, []int{5}, ""), date(2025, time.January, 17), true}, // a Friday
		{"odd day", PrescriptionRule("odd_even_days", 1, nil, "odd"), date(2025, time.January, 11), true},
		{"even rule on odd day", PrescriptionRule("odd_even_days", 1, nil, "even"), date(2025, time.January, 11), false},
		{"every_x_months same day", PrescriptionRule("every_x_months", 2, nil, ""), date(2025, time.March, 10), true},
		{"every_x_months wrong month", PrescriptionRule("every_x_months", 2, nil, ""), date(2025, time.February, 10), false},
		{"every_x_months wrong day", PrescriptionRule("every_x_months", 2, nil, ""), date(2025, time.March, 11), false},
		{"unknown frequency", PrescriptionRule("fortnightly", 1, nil, ""), start, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.rule, tt.d, start); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesMonthIntervalShortMonthSkips(t *testing.T) {
	t.Parallel()
	// Anchored on the 31st: February has no 31st, so the rule is silent that
	// month instead of clamping to month-end.
	rule := PrescriptionRule("every_x_months", 1, nil, "")
	anchor := date(2025, time.January, 31)

	if Matches(rule, date(2025, time.February, 28), anchor) {
		t.Fatal("short month must not clamp to month-end")
	}
	if !Matches(rule, date(2025, time.March, 31), anchor) {
		t.Fatal("March 31 should match")
	}
}
