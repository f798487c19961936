// Package app wires the scheduling engine together: config, logging,
// storage, the engine facade, and the trigger service, plus config
// hot-reload fan-out.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"caredesk/internal/config"
	"caredesk/internal/dispense"
	"caredesk/internal/engine"
	"caredesk/internal/eventbus"
	"caredesk/internal/reconcile"
	"caredesk/internal/runtime/supervisor"
	"caredesk/internal/services/trigger"
	"caredesk/internal/storage"
	logx "caredesk/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	eng  *engine.Engine
	trig *trigger.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", storeCfg.Driver))

	eng := engine.New(mapEngineConfig(cfg), store, bus, log.With(logx.String("comp", "engine")))

	trigCfg, err := mapTriggerConfig(cfg)
	if err != nil {
		return nil, err
	}
	trig := trigger.New(trigCfg, log.With(logx.String("comp", "trigger")), bus)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		eng:     eng,
		trig:    trig,
	}, nil
}

// Engine exposes the scheduling facade (for CLI subcommands and tests).
func (a *App) Engine() *engine.Engine { return a.eng }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		return cfg.Validate()
	})

	cfg := a.cfgm.Get()
	if err := a.eng.RegisterJobs(a.trig, cfg.MaterializeAt(), cfg.SweepEvery()); err != nil {
		return err
	}
	if a.trig.Enabled() {
		a.trig.Start(a.sup.Context())
	}

	// Debug visibility into engine events; components subscribe themselves
	// for anything behavioral.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot-reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "facility", "reconcile", "materializer":
			a.eng.Apply(mapEngineConfig(newCfg))
		case "trigger":
			prevEnabled := a.trig.Enabled()
			trigCfg, err := mapTriggerConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid trigger config; keeping previous", logx.Err(err))
				continue
			}
			a.trig.Apply(trigCfg)
			if err := a.eng.RegisterJobs(a.trig, newCfg.MaterializeAt(), newCfg.SweepEvery()); err != nil {
				a.log.Warn("re-registering jobs failed", logx.Err(err))
			}
			switch {
			case prevEnabled && !trigCfg.Enabled:
				a.log.Info("trigger disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.trig.Stop(stopCtx)
				cancel()
			case !prevEnabled && trigCfg.Enabled:
				a.log.Info("trigger enabled via config")
				a.trig.Start(ctx)
			}
		}
	}

	// Facility timezone also feeds the trigger service.
	if oldCfg != nil && oldCfg.Facility.Timezone != newCfg.Facility.Timezone {
		if trigCfg, err := mapTriggerConfig(newCfg); err == nil {
			a.trig.Apply(trigCfg)
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("trigger", 3*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Timezone: cfg.Facility.Timezone,
		Reconcile: reconcile.Config{
			CutoffDate: cfg.CutoffDate(),
			MaxScan:    cfg.Reconcile.MaxScan,
		},
		Materializer: dispense.Config{
			RatePerSec: cfg.Materializer.RatePerSec,
		},
	}
}

func mapTriggerConfig(cfg *config.Config) (trigger.Config, error) {
	timeout, err := config.ParseDurationField("trigger.default_timeout", cfg.Trigger.DefaultTimeout)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{
		Enabled:        cfg.Trigger.Enabled,
		Workers:        cfg.Trigger.Workers,
		QueueSize:      cfg.Trigger.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    cfg.Trigger.HistorySize,
		RetryMax:       cfg.Trigger.RetryMax,
		Timezone:       cfg.Facility.Timezone,
	}, nil
}
