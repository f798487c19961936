package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"caredesk/internal/dispense"
	"caredesk/internal/recurrence"
	"caredesk/internal/schedule"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestTaskRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.GetTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask(missing) = %v, want ErrNotFound", err)
	}

	tk := schedule.Task{
		ID:        "t1",
		SubjectID: "r1",
		Kind:      schedule.KindMonitoring,
		Rule:      recurrence.TaskRule("daily", 1, nil, nil, nil),
		Recurring: true,
		CreatedAt: d(2025, time.June, 1),
		Progress:  schedule.Awaiting(time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)),
	}
	if err := s.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.ID != "t1" || got.SubjectID != "r1" || !got.Recurring {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	next := schedule.Awaiting(time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC))
	if err := s.UpdateTaskSchedule(ctx, "t1", next); err != nil {
		t.Fatalf("UpdateTaskSchedule: %v", err)
	}
	got, _ = s.GetTask(ctx, "t1")
	if due, _ := got.Progress.NextDueAt(); !due.Equal(time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("next due after update = %v", due)
	}
	if got.SubjectID != "r1" {
		t.Fatalf("schedule update must not touch other fields: %+v", got)
	}

	if err := s.UpdateTaskSchedule(ctx, "missing", next); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTaskSchedule(missing) = %v, want ErrNotFound", err)
	}
}

func TestCompletionDedupeAndLatest(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	if _, found, err := s.FindLatestCompletion(ctx, "t1"); err != nil || found {
		t.Fatalf("FindLatestCompletion(empty) = found=%v err=%v", found, err)
	}

	morning := schedule.Completion{TaskID: "t1", Date: d(2025, time.June, 1), Clock: recurrence.Clock{Hour: 8}}
	evening := schedule.Completion{TaskID: "t1", Date: d(2025, time.June, 1), Clock: recurrence.Clock{Hour: 20}}
	for _, c := range []schedule.Completion{morning, evening, morning} { // repeat is a no-op
		if err := s.PutCompletion(ctx, c); err != nil {
			t.Fatalf("PutCompletion: %v", err)
		}
	}

	latest, found, err := s.FindLatestCompletion(ctx, "t1")
	if err != nil || !found {
		t.Fatalf("FindLatestCompletion = found=%v err=%v", found, err)
	}
	if latest.Clock != (recurrence.Clock{Hour: 20}) {
		t.Fatalf("latest = %+v, want the 20:00 record", latest)
	}

	if ok, _ := s.ExistsCompletion(ctx, "t1", d(2025, time.June, 1)); !ok {
		t.Fatal("ExistsCompletion(June 1) = false")
	}
	if ok, _ := s.ExistsCompletion(ctx, "t1", d(2025, time.June, 2)); ok {
		t.Fatal("ExistsCompletion(June 2) = true")
	}

	// Delete the evening record; the morning one becomes latest.
	if err := s.DeleteCompletion(ctx, evening); err != nil {
		t.Fatalf("DeleteCompletion: %v", err)
	}
	latest, found, _ = s.FindLatestCompletion(ctx, "t1")
	if !found || latest.Clock != (recurrence.Clock{Hour: 8}) {
		t.Fatalf("latest after delete = found=%v %+v", found, latest)
	}

	// Deleting a record that is not there is benign.
	if err := s.DeleteCompletion(ctx, evening); err != nil {
		t.Fatalf("DeleteCompletion(again): %v", err)
	}
}

func TestInstanceIdentity(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	mk := func(id string, day time.Time, hour int) dispense.Instance {
		return dispense.Instance{
			ID:             id,
			PrescriptionID: "p1",
			SubjectID:      "r1",
			Date:           day,
			Slot:           recurrence.Clock{Hour: hour},
		}
	}

	batch := []dispense.Instance{
		mk("i1", d(2025, time.June, 1), 8),
		mk("i2", d(2025, time.June, 1), 20),
		mk("i3", d(2025, time.June, 2), 8),
	}
	inserted, err := s.UpsertInstances(ctx, batch)
	if err != nil || inserted != 3 {
		t.Fatalf("UpsertInstances = %d, %v", inserted, err)
	}

	// Same identity, different surrogate ID: skipped, not duplicated.
	inserted, err = s.UpsertInstances(ctx, []dispense.Instance{mk("i9", d(2025, time.June, 1), 8)})
	if err != nil || inserted != 0 {
		t.Fatalf("UpsertInstances(dup) = %d, %v", inserted, err)
	}
	if err := s.InsertInstance(ctx, mk("i9", d(2025, time.June, 1), 8)); !errors.Is(err, dispense.ErrDuplicate) {
		t.Fatalf("InsertInstance(dup) = %v, want ErrDuplicate", err)
	}
	if err := s.InsertInstance(ctx, mk("i4", d(2025, time.June, 2), 20)); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}

	list, err := s.ListInstances(ctx, "p1")
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("got %d instances, want 4", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].Instant().Before(list[i-1].Instant()) {
			t.Fatalf("instances not ordered by instant: %v before %v", list[i].Instant(), list[i-1].Instant())
		}
	}

	// Shrink the window to June 2: both June 1 instances go.
	deleted, err := s.DeleteInstancesOutsideWindow(ctx, "p1", dispense.Window{
		Start: d(2025, time.June, 2),
	})
	if err != nil || deleted != 2 {
		t.Fatalf("DeleteInstancesOutsideWindow = %d, %v", deleted, err)
	}
	list, _ = s.ListInstances(ctx, "p1")
	if len(list) != 2 {
		t.Fatalf("got %d instances after prune, want 2", len(list))
	}
}

func TestListPrescriptionsBySubject(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	for _, p := range []dispense.Prescription{
		{ID: "p1", SubjectID: "r1", Rule: recurrence.PrescriptionRule("daily", 1, nil, ""), StartDate: d(2025, time.June, 1)},
		{ID: "p2", SubjectID: "r2", Rule: recurrence.PrescriptionRule("daily", 1, nil, ""), StartDate: d(2025, time.June, 1)},
		{ID: "p3", SubjectID: "r1", Rule: recurrence.PrescriptionRule("weekly_days", 1, []int{1, 4}, ""), StartDate: d(2025, time.June, 1)},
	} {
		if err := s.PutPrescription(ctx, p); err != nil {
			t.Fatalf("PutPrescription(%s): %v", p.ID, err)
		}
	}

	all, err := s.ListPrescriptions(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListPrescriptions(all) = %d, %v", len(all), err)
	}
	if all[0].ID != "p1" || all[1].ID != "p2" || all[2].ID != "p3" {
		t.Fatalf("not sorted by ID: %+v", all)
	}

	r1, err := s.ListPrescriptions(ctx, "r1")
	if err != nil || len(r1) != 2 {
		t.Fatalf("ListPrescriptions(r1) = %d, %v", len(r1), err)
	}
	for _, p := range r1 {
		if p.SubjectID != "r1" {
			t.Fatalf("subject filter leaked: %+v", p)
		}
	}
}
