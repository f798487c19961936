package dispense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"caredesk/internal/recurrence"
	logx "caredesk/pkg/logx"
)

// ErrDuplicate is returned by Store.InsertInstance when the identity key
// (prescription, date, slot) already exists. The materializer treats it as a
// benign skip.
var ErrDuplicate = errors.New("duplicate dispensing instance")

// Store is the slice of the record store the materializer consumes.
type Store interface {
	UpsertInstances(ctx context.Context, batch []Instance) (inserted int, err error)
	InsertInstance(ctx context.Context, in Instance) error
	DeleteInstancesOutsideWindow(ctx context.Context, prescriptionID string, w Window) (deleted int, err error)
}

// Config tunes instance generation.
type Config struct {
	// RatePerSec throttles store writes during the nightly sweep so the
	// interactive application keeps its share of the single sqlite writer.
	// 0 means unthrottled.
	RatePerSec int
}

// Failure describes one instance (or one prescription sweep) that could not
// be persisted. Partial success is a first-class result, not an exception.
type Failure struct {
	PrescriptionID string
	Date           time.Time
	Slot           recurrence.Clock
	Err            error
}

// Report is the outcome of one generation run.
type Report struct {
	Created  int
	Pruned   int
	Failures []Failure
}

// Materializer expands prescriptions into concrete dispensing instances.
type Materializer struct {
	store   Store
	log     logx.Logger
	limiter *rate.Limiter
}

func NewMaterializer(cfg Config, store Store, log logx.Logger) *Materializer {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Materializer{store: store, log: log}
	if cfg.RatePerSec > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return m
}

// Generate materializes all given prescriptions for one target date.
//
// Inactive prescriptions still participate so historical instances stay
// consistent with window edits. Generation is idempotent: re-running for the
// same date inserts nothing new and never resets in-progress instances.
// Instance failures are collected per item; only context cancellation aborts
// the run.
func (m *Materializer) Generate(ctx context.Context, prescriptions []Prescription, targetDate time.Time) (Report, error) {
	var rep Report
	target := recurrence.StartOfDay(targetDate)

	for _, p := range prescriptions {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if recurrence.DaysBetween(p.StartDate, target) < 0 {
			// Not started yet.
			continue
		}

		if p.EndDate != nil && recurrence.DaysBetween(*p.EndDate, target) > 0 {
			// Past the end of the validity window: prune anything dated
			// beyond it and generate nothing.
			rep.Pruned += m.sweep(ctx, p, &rep)
			continue
		}

		if recurrence.Matches(p.Rule, target, p.StartDate) {
			staged := m.stage(p, target)
			rep.Created += m.persist(ctx, staged, &rep)
		}

		// The window sweep runs regardless of whether today is an
		// occurrence: a shrunken window must drop its orphans either way.
		rep.Pruned += m.sweep(ctx, p, &rep)
	}

	m.log.Info("instances generated",
		logx.String("date", target.Format("2006-01-02")),
		logx.Int("created", rep.Created),
		logx.Int("pruned", rep.Pruned),
		logx.Int("failures", len(rep.Failures)))
	return rep, nil
}

// stage builds the instances due on the target date, trimming slots that
// fall before the start time on the first day or after the end time on the
// last day.
func (m *Materializer) stage(p Prescription, target time.Time) []Instance {
	startClock := p.startClock()
	endClock := p.endClock()

	staged := make([]Instance, 0, len(p.Slots))
	for _, slot := range p.Slots {
		if recurrence.SameDate(target, p.StartDate) && slot.Before(startClock) {
			continue
		}
		if p.EndDate != nil && recurrence.SameDate(target, *p.EndDate) && slot.After(endClock) {
			continue
		}
		staged = append(staged, Instance{
			ID:             uuid.NewString(),
			PrescriptionID: p.ID,
			SubjectID:      p.SubjectID,
			Date:           target,
			Slot:           slot,
		})
	}
	return staged
}

// persist upserts the staged batch, falling back to one-at-a-time inserts
// when the bulk path fails so a single bad instance cannot abort the rest.
func (m *Materializer) persist(ctx context.Context, staged []Instance, rep *Report) int {
	if len(staged) == 0 {
		return 0
	}
	m.wait(ctx)
	inserted, err := m.store.UpsertInstances(ctx, staged)
	if err == nil {
		return inserted
	}
	m.log.Warn("bulk upsert failed; retrying per instance", logx.Err(err))

	inserted = 0
	for _, in := range staged {
		m.wait(ctx)
		switch err := m.store.InsertInstance(ctx, in); {
		case err == nil:
			inserted++
		case errors.Is(err, ErrDuplicate):
			// Already materialized; nothing to do.
		default:
			rep.Failures = append(rep.Failures, Failure{
				PrescriptionID: in.PrescriptionID,
				Date:           in.Date,
				Slot:           in.Slot,
				Err:            err,
			})
		}
	}
	return inserted
}

// sweep deletes every instance of the prescription outside its
// currently-effective window, making retroactive window edits stick.
func (m *Materializer) sweep(ctx context.Context, p Prescription, rep *Report) int {
	m.wait(ctx)
	deleted, err := m.store.DeleteInstancesOutsideWindow(ctx, p.ID, p.EffectiveWindow())
	if err != nil {
		rep.Failures = append(rep.Failures, Failure{
			PrescriptionID: p.ID,
			Err:            fmt.Errorf("window sweep: %w", err),
		})
		return 0
	}
	return deleted
}

func (m *Materializer) wait(ctx context.Context) {
	if m.limiter != nil {
		_ = m.limiter.Wait(ctx)
	}
}
