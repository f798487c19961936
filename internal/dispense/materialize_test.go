package dispense_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"caredesk/internal/dispense"
	"caredesk/internal/recurrence"
	"caredesk/internal/storage"
	logx "caredesk/pkg/logx"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clockp(h, m int) *recurrence.Clock { return &recurrence.Clock{Hour: h, Minute: m} }

func datep(t time.Time) *time.Time { return &t }

func twoSlotDaily() dispense.Prescription {
	end := day(2025, time.January, 12)
	return dispense.Prescription{
		ID:        "p1",
		SubjectID: "r1",
		Rule:      recurrence.PrescriptionRule("daily", 1, nil, ""),
		StartDate: day(2025, time.January, 10),
		EndDate:   &end,
		Slots:     []recurrence.Clock{{Hour: 8}, {Hour: 20}},
		Status:    dispense.StatusActive,
	}
}

func newMaterializer(store dispense.Store) *dispense.Materializer {
	return dispense.NewMaterializer(dispense.Config{}, store, logx.Nop())
}

func TestGenerateConcreteScenario(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := newMaterializer(store)
	p := twoSlotDaily()

	// Day one: no start time constraint, so both slots materialize.
	rep, err := m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 10))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rep.Created != 2 {
		t.Fatalf("Created = %d, want 2", rep.Created)
	}

	// Past the end date: nothing generated, stragglers pruned.
	stray := dispense.Instance{
		ID: "stray", PrescriptionID: "p1", SubjectID: "r1",
		Date: day(2025, time.January, 13), Slot: recurrence.Clock{Hour: 8},
	}
	if err := store.InsertInstance(context.Background(), stray); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}
	rep, err = m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 13))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rep.Created != 0 {
		t.Fatalf("Created = %d, want 0 past end date", rep.Created)
	}
	if rep.Pruned != 1 {
		t.Fatalf("Pruned = %d, want 1", rep.Pruned)
	}
}

func TestGenerateIdempotent(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := newMaterializer(store)
	p := twoSlotDaily()
	target := day(2025, time.January, 11)

	rep, err := m.Generate(context.Background(), []dispense.Prescription{p}, target)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rep.Created != 2 {
		t.Fatalf("first run Created = %d, want 2", rep.Created)
	}

	rep, err = m.Generate(context.Background(), []dispense.Prescription{p}, target)
	if err != nil {
		t.Fatalf("Generate (rerun): %v", err)
	}
	if rep.Created != 0 {
		t.Fatalf("rerun Created = %d, want 0", rep.Created)
	}
	instances, _ := store.ListInstances(context.Background(), "p1")
	if len(instances) != 2 {
		t.Fatalf("instance count = %d, want 2", len(instances))
	}
}

func TestGenerateWindowShrinkPrunes(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := newMaterializer(store)
	p := twoSlotDaily()

	// Materialize three days, then shrink the window by one day.
	for d := 10; d <= 12; d++ {
		if _, err := m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, d)); err != nil {
			t.Fatalf("Generate day %d: %v", d, err)
		}
	}
	p.EndDate = datep(day(2025, time.January, 11))

	rep, err := m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 11))
	if err != nil {
		t.Fatalf("Generate after shrink: %v", err)
	}
	if rep.Pruned != 2 {
		t.Fatalf("Pruned = %d, want 2 (both Jan 12 slots)", rep.Pruned)
	}
	instances, _ := store.ListInstances(context.Background(), "p1")
	for _, in := range instances {
		if recurrence.DaysBetween(day(2025, time.January, 11), in.Date) > 0 {
			t.Fatalf("instance %s/%s survived outside the window", in.Date.Format("2006-01-02"), in.Slot)
		}
	}
}

func TestGenerateEdgeDayClockTrimming(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := newMaterializer(store)

	p := twoSlotDaily()
	p.StartTime = clockp(12, 0)
	p.EndTime = clockp(12, 0)

	// First day: the 08:00 slot precedes the 12:00 start time.
	rep, _ := m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 10))
	if rep.Created != 1 {
		t.Fatalf("first day Created = %d, want 1 (20:00 only)", rep.Created)
	}
	// Last day: the 20:00 slot is past the 12:00 end time.
	rep, _ = m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 12))
	if rep.Created != 1 {
		t.Fatalf("last day Created = %d, want 1 (08:00 only)", rep.Created)
	}
	// Middle day: both slots.
	rep, _ = m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 11))
	if rep.Created != 2 {
		t.Fatalf("middle day Created = %d, want 2", rep.Created)
	}
}

func TestGenerateSkipsBeforeStartAndNonMatchingDays(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := newMaterializer(store)

	p := twoSlotDaily()
	p.Rule = recurrence.PrescriptionRule("every_x_days", 2, nil, "")
	p.EndDate = nil

	// Before the start date: untouched.
	rep, _ := m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 9))
	if rep.Created != 0 {
		t.Fatalf("before start Created = %d, want 0", rep.Created)
	}
	// Jan 11 is day 1 of an every-2-days cycle anchored at Jan 10.
	rep, _ = m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 11))
	if rep.Created != 0 {
		t.Fatalf("off-cycle Created = %d, want 0", rep.Created)
	}
	rep, _ = m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 12))
	if rep.Created != 2 {
		t.Fatalf("on-cycle Created = %d, want 2", rep.Created)
	}
}

// bulkFailStore forces the bulk upsert path to fail so Generate exercises
// the per-instance fallback.
type bulkFailStore struct {
	storage.Store
	bad recurrence.Clock
}

func (s *bulkFailStore) UpsertInstances(context.Context, []dispense.Instance) (int, error) {
	return 0, errors.New("constraint violation")
}

func (s *bulkFailStore) InsertInstance(ctx context.Context, in dispense.Instance) error {
	if in.Slot == s.bad {
		return errors.New("disk full")
	}
	return s.Store.InsertInstance(ctx, in)
}

func TestGeneratePerInstanceFallback(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	store := &bulkFailStore{Store: mem, bad: recurrence.Clock{Hour: 20}}
	m := newMaterializer(store)
	p := twoSlotDaily()

	rep, err := m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 11))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rep.Created != 1 {
		t.Fatalf("Created = %d, want 1 (08:00 inserted singly)", rep.Created)
	}
	if len(rep.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1 (20:00 rejected)", len(rep.Failures))
	}
	f := rep.Failures[0]
	if f.PrescriptionID != "p1" || f.Slot != (recurrence.Clock{Hour: 20}) {
		t.Fatalf("unexpected failure: %+v", f)
	}

	// A duplicate on the fallback path is a benign skip, not a failure.
	rep, err = m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 11))
	if err != nil {
		t.Fatalf("Generate (rerun): %v", err)
	}
	if rep.Created != 0 {
		t.Fatalf("rerun Created = %d, want 0", rep.Created)
	}
	for _, f := range rep.Failures {
		if errors.Is(f.Err, dispense.ErrDuplicate) {
			t.Fatal("duplicate must not be reported as failure")
		}
	}
}

func TestGenerateInactivePrescriptionStillSweeps(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := newMaterializer(store)
	p := twoSlotDaily()

	if _, err := m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 12)); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Deactivating and shrinking the window must still prune: historical
	// instances stay consistent even for inactive prescriptions.
	p.Status = dispense.StatusInactive
	p.EndDate = datep(day(2025, time.January, 11))
	rep, err := m.Generate(context.Background(), []dispense.Prescription{p}, day(2025, time.January, 12))
	if err != nil {
		t.Fatalf("Generate (inactive): %v", err)
	}
	if rep.Pruned != 2 {
		t.Fatalf("Pruned = %d, want 2", rep.Pruned)
	}
}
