package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"caredesk/internal/recurrence"
	"caredesk/internal/schedule"
	"caredesk/internal/storage"
	logx "caredesk/pkg/logx"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T, task schedule.Task) (storage.Store, *Reconciler) {
	t.Helper()
	store := storage.NewMemory()
	if err := store.PutTask(context.Background(), task); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	r := New(Config{CutoffDate: day(2024, time.January, 1)}, store, logx.Nop())
	r.SetNow(func() time.Time { return time.Date(2025, time.June, 10, 11, 0, 0, 0, time.UTC) })
	return store, r
}

func dailyTask(interval int) schedule.Task {
	return schedule.Task{
		ID:        "t1",
		SubjectID: "r1",
		Kind:      schedule.KindMonitoring,
		Rule:      recurrence.TaskRule("daily", interval, nil, nil, nil),
		Recurring: true,
		CreatedAt: day(2025, time.June, 1),
		Progress:  schedule.Awaiting(time.Date(2025, time.June, 8, 8, 0, 0, 0, time.UTC)),
	}
}

func complete(t *testing.T, store storage.Store, taskID string, d time.Time, c recurrence.Clock) {
	t.Helper()
	if err := store.PutCompletion(context.Background(), schedule.Completion{TaskID: taskID, Date: d, Clock: c}); err != nil {
		t.Fatalf("PutCompletion: %v", err)
	}
}

func TestReconcileResetWhenNoCompletions(t *testing.T) {
	t.Parallel()
	store, r := newFixture(t, dailyTask(1))

	if err := r.Reconcile(context.Background(), "t1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, err := store.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if _, ok := got.Progress.LastCompletedAt(); ok {
		t.Fatal("reset task must have no completion timestamp")
	}
	due, ok := got.Progress.NextDueAt()
	if !ok {
		t.Fatal("reset task must be awaiting an occurrence")
	}
	want := time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC) // today at the monitoring default
	if !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestReconcileCutoffGuard(t *testing.T) {
	t.Parallel()
	task := dailyTask(1)
	before := task.Progress
	store, r := newFixture(t, task)

	// Latest completion dated exactly on the cutoff: reconciliation must be
	// a no-op, migrated history never drives live schedules.
	complete(t, store, "t1", day(2024, time.January, 1), recurrence.Clock{Hour: 9})

	if err := r.Reconcile(context.Background(), "t1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	got, _ := store.GetTask(context.Background(), "t1")
	if got.Progress != before {
		t.Fatalf("task progress changed across cutoff guard: %+v", got.Progress)
	}
}

func TestReconcileAdvancesPastRecordedDays(t *testing.T) {
	t.Parallel()
	store, r := newFixture(t, dailyTask(1))

	// Due pointer sits on June 8; June 8 and 9 are recorded, June 10 is not.
	complete(t, store, "t1", day(2025, time.June, 8), recurrence.Clock{Hour: 8, Minute: 5})
	complete(t, store, "t1", day(2025, time.June, 9), recurrence.Clock{Hour: 8, Minute: 10})

	if err := r.Reconcile(context.Background(), "t1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := store.GetTask(context.Background(), "t1")
	done, ok := got.Progress.LastCompletedAt()
	if !ok {
		t.Fatal("expected a completion timestamp")
	}
	if want := time.Date(2025, time.June, 9, 8, 10, 0, 0, time.UTC); !done.Equal(want) {
		t.Fatalf("lastCompletedAt = %v, want %v", done, want)
	}
	due, _ := got.Progress.NextDueAt()
	if want := time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Fatalf("nextDueAt = %v, want %v", due, want)
	}
}

func TestReconcileSurfacesSkippedOccurrence(t *testing.T) {
	t.Parallel()
	store, r := newFixture(t, dailyTask(1))

	// June 8 and June 10 are recorded but June 9 was skipped. The forward
	// search must land on the gap, not on the day after the latest record.
	complete(t, store, "t1", day(2025, time.June, 8), recurrence.Clock{Hour: 8})
	complete(t, store, "t1", day(2025, time.June, 10), recurrence.Clock{Hour: 8})

	if err := r.Reconcile(context.Background(), "t1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := store.GetTask(context.Background(), "t1")
	due, _ := got.Progress.NextDueAt()
	if want := time.Date(2025, time.June, 9, 8, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Fatalf("nextDueAt = %v, want %v (the skipped day)", due, want)
	}
}

func TestReconcileReanchorsIntervalCycle(t *testing.T) {
	t.Parallel()
	task := dailyTask(3)
	task.CreatedAt = day(2025, time.June, 1)
	task.Progress = schedule.Awaiting(time.Date(2025, time.June, 3, 8, 0, 0, 0, time.UTC))
	store, r := newFixture(t, task)

	// Off-cycle completion on June 3 (day 2 of the creation cycle)
	// re-anchors the cadence: the next occurrence is June 6 (completion +
	// 3), not June 4 (creation grid of June 1/4/7).
	complete(t, store, "t1", day(2025, time.June, 3), recurrence.Clock{Hour: 8})

	if err := r.Reconcile(context.Background(), "t1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := store.GetTask(context.Background(), "t1")
	due, _ := got.Progress.NextDueAt()
	if want := time.Date(2025, time.June, 6, 8, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Fatalf("nextDueAt = %v, want %v", due, want)
	}
}

func TestReconcileScheduleExhausted(t *testing.T) {
	t.Parallel()
	task := dailyTask(1)
	// A weekly rule without weekdays never matches any date.
	task.Rule = recurrence.TaskRule("weekly", 1, nil, nil, nil)
	store, _ := newFixture(t, task)
	complete(t, store, "t1", day(2025, time.June, 8), recurrence.Clock{Hour: 8})

	r := New(Config{CutoffDate: day(2024, time.January, 1), MaxScan: 30}, store, logx.Nop())
	err := r.Reconcile(context.Background(), "t1")
	if !errors.Is(err, ErrScheduleExhausted) {
		t.Fatalf("err = %v, want ErrScheduleExhausted", err)
	}

	// Failed reconciliation leaves the stored state standing.
	got, _ := store.GetTask(context.Background(), "t1")
	if got.Progress != task.Progress {
		t.Fatal("exhausted search must not modify the task")
	}
}

func TestReconcileUnknownTask(t *testing.T) {
	t.Parallel()
	_, r := newFixture(t, dailyTask(1))
	err := r.Reconcile(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want wrapped ErrNotFound", err)
	}
}
