package engine

import (
	"context"
	"time"

	"caredesk/internal/services/trigger"
	logx "caredesk/pkg/logx"
)

// Job names registered on the trigger service. Registration upserts by name,
// so re-registering on config reload replaces rather than stacks.
const (
	JobMaterialize    = "instances.materialize"
	JobReconcileSweep = "tasks.reconcile_sweep"
)

// RegisterJobs wires the engine's periodic work onto the trigger service:
// nightly instance generation at materializeAt (facility-local HH:MM) and a
// periodic reconcile sweep that catches completions written directly to the
// store by the records application.
func (e *Engine) RegisterJobs(trig *trigger.Service, materializeAt string, sweepEvery time.Duration) error {
	if _, err := trig.AddDaily(JobMaterialize, materializeAt, 10*time.Minute, func(ctx context.Context) error {
		_, err := e.GenerateInstances(ctx, e.Today(), "")
		return err
	}); err != nil {
		return err
	}

	if sweepEvery <= 0 {
		sweepEvery = 6 * time.Hour
	}
	if _, err := trig.AddInterval(JobReconcileSweep, sweepEvery, 10*time.Minute, func(ctx context.Context) error {
		return e.ReconcileAll(ctx)
	}); err != nil {
		return err
	}

	e.log.Debug("engine jobs registered",
		logx.String("materialize_at", materializeAt),
		logx.Duration("sweep_every", sweepEvery))
	return nil
}
