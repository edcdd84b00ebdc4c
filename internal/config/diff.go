package config

import (
	"reflect"
	"sort"
	"strings"

	"padbridge/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// structured attrs safe for logging. It is used when a hot reload
// commits, so operators can see what actually moved.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.capacity", newCfg.Scheduler.Capacity),
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
		)
	}

	if !reflect.DeepEqual(oldCfg.Input, newCfg.Input) {
		changed = append(changed, "input")
		attrs = append(attrs,
			logx.String("input.period", newCfg.Input.Period),
			logx.Int("input.deadzone", newCfg.Input.Deadzone),
		)
	}
	if oldCfg.Output != newCfg.Output {
		changed = append(changed, "output")
		attrs = append(attrs, logx.String("output.period", newCfg.Output.Period))
	}

	if oldCfg.Control != newCfg.Control {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.String("control.default_mode", newCfg.Control.DefaultMode),
			logx.Int("control.strong_turn", newCfg.Control.StrongTurn),
		)
	}

	if oldCfg.Haptics != newCfg.Haptics {
		changed = append(changed, "haptics")
		attrs = append(attrs,
			logx.Float64("haptics.rate_per_sec", newCfg.Haptics.RatePerSec),
			logx.Int("haptics.burst", newCfg.Haptics.Burst),
		)
	}

	if oldCfg.Transport != newCfg.Transport {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.report_interval", newCfg.Transport.ReportInterval),
			logx.String("transport.session_ttl", newCfg.Transport.SessionTTL),
			logx.String("transport.reconnect_min", newCfg.Transport.ReconnectMin),
			logx.String("transport.reconnect_max", newCfg.Transport.ReconnectMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.Bool("monitor.watchdog", newCfg.Monitor.WatchdogEnabled()),
			logx.Int("monitor.error_ring", newCfg.Monitor.ErrorRing),
		)
	}

	if oldCfg.Telemetry != newCfg.Telemetry {
		changed = append(changed, "telemetry")
		attrs = append(attrs,
			logx.Bool("telemetry.enabled", newCfg.Telemetry.Enabled),
			logx.String("telemetry.addr", strings.TrimSpace(newCfg.Telemetry.Addr)),
		)
	}

	// Never log the pprof token, only whether one is set.
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	// Storage may be nil (disabled).
	oldS, newS := oldCfg.Storage, newCfg.Storage
	storageChanged := (oldS == nil) != (newS == nil) ||
		(oldS != nil && newS != nil && *oldS != *newS)
	if storageChanged {
		changed = append(changed, "storage")
		var driver, retention string
		var pathSet bool
		if newS != nil {
			driver = strings.TrimSpace(newS.Driver)
			retention = strings.TrimSpace(newS.Retention)
			pathSet = strings.TrimSpace(newS.Path) != ""
		}
		attrs = append(attrs,
			logx.String("storage.driver", driver),
			logx.Bool("storage.path_set", pathSet),
			logx.String("storage.retention", retention),
		)
	}

	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.String("jobs.snapshot", newCfg.Jobs.Snapshot),
			logx.String("jobs.prune", newCfg.Jobs.Prune),
			logx.String("jobs.report", newCfg.Jobs.Report),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
