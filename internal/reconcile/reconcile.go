// Package reconcile keeps a task's schedule position consistent with the
// completions staff actually recorded ("smart advance").
//
// It is triggered whenever a completion record is created or deleted. Rather
// than incrementing the due pointer by one period, it searches forward
// occurrence-by-occurrence for the first one with no completion on file:
// staff complete tasks out of order, skip occurrences, or log several in a
// batch, and a closed-form increment would silently bury those gaps.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"caredesk/internal/recurrence"
	"caredesk/internal/schedule"
	logx "caredesk/pkg/logx"
)

// defaultMaxScan bounds the forward search (~10 years of daily candidates).
const defaultMaxScan = 3650

// Store is the slice of the record store the reconciler consumes.
type Store interface {
	GetTask(ctx context.Context, id string) (schedule.Task, error)
	FindLatestCompletion(ctx context.Context, taskID string) (schedule.Completion, bool, error)
	ExistsCompletion(ctx context.Context, taskID string, date time.Time) (bool, error)
	UpdateTaskSchedule(ctx context.Context, taskID string, p schedule.Progress) error
}

// Config tunes the reconciler.
type Config struct {
	// CutoffDate marks the data-migration boundary: completions dated at or
	// before it must never drive live scheduling. Zero disables the guard.
	CutoffDate time.Time
	// MaxScan caps the forward search in candidate dates; <=0 uses the
	// default (~10 years).
	MaxScan int
}

func (c Config) maxScan() int {
	if c.MaxScan <= 0 {
		return defaultMaxScan
	}
	return c.MaxScan
}

// Reconciler rewrites task schedule state from recorded completions.
//
// Calls must be serialized per task ID (the store's per-row update is the
// write boundary); the search always restarts from the task's
// currently-stored due pointer, never a cached one.
type Reconciler struct {
	cfg   Config
	store Store
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, store Store, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{cfg: cfg, store: store, log: log, now: time.Now}
}

// SetNow overrides the clock. Tests only.
func (r *Reconciler) SetNow(now func() time.Time) { r.now = now }

// Reconcile re-derives the task's (lastCompletedAt, nextDueAt) pair from the
// record store and persists the result.
//
// The update is the final step: a cancelled or failed reconciliation leaves
// the task's prior state standing until the next successful run.
func (r *Reconciler) Reconcile(ctx context.Context, taskID string) error {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	latest, ok, err := r.store.FindLatestCompletion(ctx, taskID)
	if err != nil {
		return fmt.Errorf("find latest completion for %s: %w", taskID, err)
	}

	if !ok {
		// Every completion is gone (e.g. the last record was deleted).
		// Reset to the initial state: nothing completed, due today.
		today := recurrence.StartOfDay(r.now())
		due := recurrence.ApplyTimeOfDay(task.Rule, today, task.Kind.DefaultClock())
		return r.persist(ctx, taskID, schedule.Awaiting(due))
	}

	// Cutoff guard: legacy imported records must never move live schedules.
	if !r.cfg.CutoffDate.IsZero() && recurrence.DaysBetween(latest.Date, r.cfg.CutoffDate) >= 0 {
		r.log.Debug("completion at/before cutoff; leaving task untouched",
			logx.String("task", taskID),
			logx.Time("completion", latest.Instant()),
			logx.Time("cutoff", r.cfg.CutoffDate))
		return nil
	}

	completedAt := latest.Instant()

	if !task.Recurring {
		// Single occurrence, now satisfied; there is nothing to advance to.
		due, _ := task.Progress.NextDueAt()
		if due.IsZero() {
			due = completedAt
		}
		return r.persist(ctx, taskID, schedule.Satisfied(completedAt, due))
	}

	next, err := r.firstMissingOccurrence(ctx, task, completedAt)
	if err != nil {
		return err
	}
	return r.persist(ctx, taskID, schedule.Satisfied(completedAt, next))
}

// firstMissingOccurrence walks forward one calendar day at a time from the
// task's stored due pointer and returns the first rule occurrence that has
// no completion on record.
func (r *Reconciler) firstMissingOccurrence(ctx context.Context, task schedule.Task, completedAt time.Time) (time.Time, error) {
	start, ok := task.Progress.NextDueAt()
	if !ok {
		// No due pointer yet (task predates the scheduler); anchor the walk
		// at the task's creation.
		start = task.CreatedAt
	}

	// The new completion re-anchors anchored daily rules during the walk.
	task.Progress = schedule.Satisfied(completedAt, start)

	candidate := recurrence.StartOfDay(start)
	for i := 0; i < r.cfg.maxScan(); i++ {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		if task.Matches(candidate) {
			done, err := r.store.ExistsCompletion(ctx, task.ID, candidate)
			if err != nil {
				return time.Time{}, fmt.Errorf("check completion for %s on %s: %w",
					task.ID, candidate.Format("2006-01-02"), err)
			}
			if !done {
				return recurrence.ApplyTimeOfDay(task.Rule, candidate, task.Kind.DefaultClock()), nil
			}
		}
		candidate = candidate.AddDate(0, 0, 1)
	}

	r.log.Warn("forward search exhausted",
		logx.String("task", task.ID),
		logx.Int("max_scan", r.cfg.maxScan()))
	return time.Time{}, fmt.Errorf("task %s: %w", task.ID, ErrScheduleExhausted)
}

func (r *Reconciler) persist(ctx context.Context, taskID string, p schedule.Progress) error {
	if err := r.store.UpdateTaskSchedule(ctx, taskID, p); err != nil {
		return fmt.Errorf("update task %s schedule: %w", taskID, err)
	}
	due, _ := p.NextDueAt()
	r.log.Debug("task schedule reconciled",
		logx.String("task", taskID),
		logx.Time("next_due", due))
	return nil
}
