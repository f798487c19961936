// Package engine is the top-level facade of the scheduling engine. It binds
// the record store, the reconciler, and the instance materializer together
// and publishes lifecycle events on the bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"caredesk/internal/dispense"
	"caredesk/internal/eventbus"
	"caredesk/internal/reconcile"
	"caredesk/internal/recurrence"
	"caredesk/internal/schedule"
	"caredesk/internal/storage"
	logx "caredesk/pkg/logx"
)

// Config assembles the engine's tunables.
type Config struct {
	Timezone     string // facility IANA timezone; "" = Local
	Reconcile    reconcile.Config
	Materializer dispense.Config
}

// ReconcileEvent is the bus payload for reconciliation outcomes.
type ReconcileEvent struct {
	TaskID  string
	NextDue time.Time
	Error   string
}

// GenerateEvent is the bus payload for a materialization run.
type GenerateEvent struct {
	Date     time.Time
	Created  int
	Pruned   int
	Failures int
}

// TaskStatus pairs a task with its derived urgency bucket.
type TaskStatus struct {
	Task   schedule.Task
	Status schedule.Status
}

type Engine struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu  sync.Mutex
	loc *time.Location
	rec *reconcile.Reconciler
	mat *dispense.Materializer
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{store: store, bus: bus, log: log, now: time.Now}
	e.apply(cfg)
	return e
}

// Apply swaps the engine's tunables at runtime (config hot-reload).
func (e *Engine) Apply(cfg Config) { e.apply(cfg) }

func (e *Engine) apply(cfg Config) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			e.log.Warn("invalid facility timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	e.mu.Lock()
	e.loc = loc
	e.rec = reconcile.New(cfg.Reconcile, e.store, e.log)
	e.mat = dispense.NewMaterializer(cfg.Materializer, e.store, e.log)
	e.mu.Unlock()
}

// SetNow overrides the clock. Tests only.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
	e.mu.Lock()
	e.rec.SetNow(now)
	e.mu.Unlock()
}

// Location returns the facility timezone.
func (e *Engine) Location() *time.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loc
}

// Today returns the start of the current facility-local day.
func (e *Engine) Today() time.Time {
	return recurrence.StartOfDay(e.now().In(e.Location()))
}

// ProjectNext advances from to the task's next due moment.
func (e *Engine) ProjectNext(t schedule.Task, from time.Time) time.Time {
	return schedule.ProjectNext(t, from)
}

// Status derives the task's current urgency bucket.
func (e *Engine) Status(ctx context.Context, t schedule.Task) schedule.Status {
	latest, ok, err := e.store.FindLatestCompletion(ctx, t.ID)
	if err != nil {
		e.log.Warn("completion lookup failed during classify", logx.String("task", t.ID), logx.Err(err))
		ok = false
	}
	completed := func(onOrAfter time.Time) bool {
		return ok && recurrence.DaysBetween(onOrAfter, latest.Date) >= 0
	}
	return schedule.Classify(t, e.now().In(e.Location()), completed)
}

// StatusAll classifies every task in the store.
func (e *Engine) StatusAll(ctx context.Context) ([]TaskStatus, error) {
	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, TaskStatus{Task: t, Status: e.Status(ctx, t)})
	}
	return out, nil
}

// RecordCompletion stores a completion and reconciles the task's schedule.
func (e *Engine) RecordCompletion(ctx context.Context, c schedule.Completion) error {
	if err := e.store.PutCompletion(ctx, c); err != nil {
		return fmt.Errorf("put completion: %w", err)
	}
	return e.Reconcile(ctx, c.TaskID)
}

// RemoveCompletion deletes a completion and reconciles the task's schedule,
// rolling the due pointer back to the now-unfulfilled occurrence.
func (e *Engine) RemoveCompletion(ctx context.Context, c schedule.Completion) error {
	if err := e.store.DeleteCompletion(ctx, c); err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	return e.Reconcile(ctx, c.TaskID)
}

// Reconcile re-derives one task's schedule position from its completions.
func (e *Engine) Reconcile(ctx context.Context, taskID string) error {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()

	if err := rec.Reconcile(ctx, taskID); err != nil {
		e.publish(eventbus.TypeTaskReconcileFailed, ReconcileEvent{TaskID: taskID, Error: err.Error()})
		return err
	}

	ev := ReconcileEvent{TaskID: taskID}
	if t, err := e.store.GetTask(ctx, taskID); err == nil {
		ev.NextDue, _ = t.Progress.NextDueAt()
	}
	e.publish(eventbus.TypeTaskReconciled, ev)
	return nil
}

// ReconcileAll sweeps every task. Per-task failures are collected, not fatal:
// one corrupt task must not stall the whole sweep.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	var errs []error
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Reconcile(ctx, t.ID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		e.log.Warn("reconcile sweep finished with failures",
			logx.Int("tasks", len(tasks)),
			logx.Int("failed", len(errs)))
		return fmt.Errorf("reconcile sweep: %d of %d tasks failed: %w", len(errs), len(tasks), errs[0])
	}
	e.log.Debug("reconcile sweep finished", logx.Int("tasks", len(tasks)))
	return nil
}

// GenerateInstances materializes dispensing instances for the target date.
// An empty subjectID covers every prescription; a non-empty one scopes the
// run to a single resident (admission-day catch-up).
func (e *Engine) GenerateInstances(ctx context.Context, targetDate time.Time, subjectID string) (dispense.Report, error) {
	e.mu.Lock()
	mat := e.mat
	e.mu.Unlock()

	prescriptions, err := e.store.ListPrescriptions(ctx, subjectID)
	if err != nil {
		return dispense.Report{}, fmt.Errorf("list prescriptions: %w", err)
	}
	rep, err := mat.Generate(ctx, prescriptions, targetDate)
	if err != nil {
		return rep, err
	}
	e.publish(eventbus.TypeInstancesGenerated, GenerateEvent{
		Date:     recurrence.StartOfDay(targetDate),
		Created:  rep.Created,
		Pruned:   rep.Pruned,
		Failures: len(rep.Failures),
	})
	return rep, nil
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}
