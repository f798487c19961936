package recurrence

import (
	"testing"
	"time"
)

func TestNextDaily(t *testing.T) {
	t.Parallel()
	rule := TaskRule("daily", 3, nil, nil, nil)
	from := date(2025, time.March, 1)
	if got, want := Next(rule, from), date(2025, time.March, 4); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextWeekly(t *testing.T) {
	t.Parallel()
	rule := TaskRule("weekly", 1, nil, []int{1, 5}, nil) // Mon/Fri
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"monday to friday", date(2025, time.June, 2), date(2025, time.June, 6)},
		{"friday to monday", date(2025, time.June, 6), date(2025, time.June, 9)},
		{"saturday to monday", date(2025, time.June, 7), date(2025, time.June, 9)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Next(rule, tt.from); !got.Equal(tt.want) {
				t.Fatalf("Next = %v, want %v", got, tt.want)
			}
		})
	}

	// No weekdays configured: fall back to interval weeks.
	bare := TaskRule("weekly", 2, nil, nil, nil)
	if got, want := Next(bare, date(2025, time.June, 2)), date(2025, time.June, 16); !got.Equal(want) {
		t.Fatalf("bare weekly Next = %v, want %v", got, want)
	}
}

func TestNextMonthlyRollover(t *testing.T) {
	t.Parallel()
	rule := TaskRule("monthly", 1, nil, nil, []int{31})

	// Still inside the current month.
	if got, want := Next(rule, date(2025, time.January, 20)), date(2025, time.January, 31); !got.Equal(want) {
		t.Fatalf("from Jan 20: Next = %v, want %v", got, want)
	}
	// February has no 31st; the projection lands on March 31, not Feb 28.
	if got, want := Next(rule, date(2025, time.February, 1)), date(2025, time.March, 31); !got.Equal(want) {
		t.Fatalf("from Feb 1: Next = %v, want %v", got, want)
	}
}

func TestNextMonthlyMultipleDays(t *testing.T) {
	t.Parallel()
	rule := TaskRule("monthly", 1, nil, nil, []int{5, 20})
	if got, want := Next(rule, date(2025, time.April, 5)), date(2025, time.April, 20); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	if got, want := Next(rule, date(2025, time.April, 20)), date(2025, time.May, 5); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextYearlyAndHourly(t *testing.T) {
	t.Parallel()
	yearly := TaskRule("yearly", 1, nil, nil, nil)
	if got, want := Next(yearly, date(2025, time.July, 4)), date(2026, time.July, 4); !got.Equal(want) {
		t.Fatalf("yearly Next = %v, want %v", got, want)
	}

	hourly := TaskRule("hourly", 6, nil, nil, nil)
	from := time.Date(2025, time.July, 4, 8, 0, 0, 0, time.UTC)
	if got, want := Next(hourly, from), from.Add(6*time.Hour); !got.Equal(want) {
		t.Fatalf("hourly Next = %v, want %v", got, want)
	}
}

func TestApplyTimeOfDay(t *testing.T) {
	t.Parallel()
	day := time.Date(2025, time.May, 1, 13, 45, 0, 0, time.UTC)
	def := Clock{Hour: 8}

	withTimes := TaskRule("daily", 1, []Clock{{Hour: 14, Minute: 30}, {Hour: 20}}, nil, nil)
	got := ApplyTimeOfDay(withTimes, day, &def)
	if got.Hour() != 14 || got.Minute() != 30 {
		t.Fatalf("preferred time not applied: %v", got)
	}

	bare := TaskRule("daily", 1, nil, nil, nil)
	got = ApplyTimeOfDay(bare, day, &def)
	if got.Hour() != 8 || got.Minute() != 0 {
		t.Fatalf("default time not applied: %v", got)
	}

	got = ApplyTimeOfDay(bare, day, nil)
	if got.Hour() != 13 || got.Minute() != 45 {
		t.Fatalf("carried time not kept: %v", got)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    Clock
		wantErr bool
	}{
		{raw: "08:00", want: Clock{Hour: 8}},
		{raw: "23:59", want: Clock{Hour: 23, Minute: 59}},
		{raw: "07:30:15", want: Clock{Hour: 7, Minute: 30}}, // seconds dropped
		{raw: "24:00", wantErr: true},
		{raw: "8", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseClock(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseClock(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestDaysBetween(t *testing.T) {
	t.Parallel()
	a := time.Date(2025, time.March, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2025, time.March, 4, 1, 0, 0, 0, time.UTC)
	if got := DaysBetween(a, b); got != 3 {
		t.Fatalf("DaysBetween = %d, want 3", got)
	}
	if got := DaysBetween(b, a); got != -3 {
		t.Fatalf("DaysBetween reversed = %d, want -3", got)
	}
}
