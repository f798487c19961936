package config

import (
	"sort"
	"strings"

	logx "caredesk/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Facility != newCfg.Facility {
		changed = append(changed, "facility")
		attrs = append(attrs,
			logx.String("facility.timezone", strings.TrimSpace(newCfg.Facility.Timezone)),
		)
	}

	if oldCfg.Reconcile != newCfg.Reconcile {
		changed = append(changed, "reconcile")
		attrs = append(attrs,
			logx.Bool("reconcile.cutoff_set", strings.TrimSpace(newCfg.Reconcile.CutoffDate) != ""),
			logx.Int("reconcile.max_scan", newCfg.Reconcile.MaxScan),
		)
	}

	if oldCfg.Trigger != newCfg.Trigger {
		changed = append(changed, "trigger")
		attrs = append(attrs,
			logx.Bool("trigger.enabled", newCfg.Trigger.Enabled),
			logx.Int("trigger.workers", newCfg.Trigger.Workers),
			logx.String("trigger.materialize_at", newCfg.MaterializeAt()),
			logx.Duration("trigger.sweep_every", newCfg.SweepEvery()),
		)
	}

	if oldCfg.Materializer != newCfg.Materializer {
		changed = append(changed, "materializer")
		attrs = append(attrs,
			logx.Int("materializer.rate_per_sec", newCfg.Materializer.RatePerSec),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
