package app

import (
	"padbridge/internal/bridge"
	"padbridge/internal/config"
	"padbridge/internal/haptics"
	"padbridge/internal/jobs"
	"padbridge/internal/monitor"
	"padbridge/internal/sched"
	"padbridge/internal/transport"
)

// Config is the parsed configuration tree. The mappers below translate
// its sections into the typed configs each component takes, so the
// components never import the config package.
type Config = config.Config

func mapSchedulerOptions(cfg *Config) (sched.Options, error) {
	var out sched.Options
	if cfg == nil {
		return out, nil
	}
	out.Capacity = cfg.Scheduler.Capacity

	tick, err := config.ParseDurationField("scheduler.tick", cfg.Scheduler.Tick)
	if err != nil {
		return out, err
	}
	opTO, err := config.ParseDurationField("scheduler.op_timeout", cfg.Scheduler.OpTimeout)
	if err != nil {
		return out, err
	}
	readTO, err := config.ParseDurationField("scheduler.read_timeout", cfg.Scheduler.ReadTimeout)
	if err != nil {
		return out, err
	}
	stopTO, err := config.ParseDurationField("scheduler.stop_timeout", cfg.Scheduler.StopTimeout)
	if err != nil {
		return out, err
	}
	out.Tick = tick
	out.OpTimeout = opTO
	out.ReadTimeout = readTO
	out.StopTimeout = stopTO
	return out, nil
}

func mapBridgeConfig(cfg *Config) (bridge.Config, error) {
	var out bridge.Config
	if cfg == nil {
		return out, nil
	}

	inPeriod, err := config.ParseDurationField("input.period", cfg.Input.Period)
	if err != nil {
		return out, err
	}
	outPeriod, err := config.ParseDurationField("output.period", cfg.Output.Period)
	if err != nil {
		return out, err
	}
	mode, err := bridge.ParseMode(cfg.Control.DefaultMode)
	if err != nil {
		return out, err
	}

	out.InputPeriod = inPeriod
	out.OutputPeriod = outPeriod
	out.Deadzone = int16(cfg.Input.Deadzone) // Normalize clamps to 0..32767
	out.DefaultMode = mode
	out.StrongTurn = cfg.Control.StrongTurn
	return out, nil
}

func mapSimConfig(cfg *Config) (transport.SimConfig, error) {
	var out transport.SimConfig
	if cfg == nil {
		return out, nil
	}

	interval, err := config.ParseDurationField("transport.report_interval", cfg.Transport.ReportInterval)
	if err != nil {
		return out, err
	}
	ttl, err := config.ParseDurationField("transport.session_ttl", cfg.Transport.SessionTTL)
	if err != nil {
		return out, err
	}
	rmin, err := config.ParseDurationField("transport.reconnect_min", cfg.Transport.ReconnectMin)
	if err != nil {
		return out, err
	}
	rmax, err := config.ParseDurationField("transport.reconnect_max", cfg.Transport.ReconnectMax)
	if err != nil {
		return out, err
	}

	out.ReportInterval = interval
	out.SessionTTL = ttl // 0 keeps sessions up until stop
	out.ReconnectMin = rmin
	out.ReconnectMax = rmax
	return out, nil
}

func mapHapticsConfig(cfg *Config) haptics.Config {
	if cfg == nil {
		return haptics.Config{}
	}
	return haptics.Config{
		MaxPerSecond: cfg.Haptics.RatePerSec,
		Burst:        cfg.Haptics.Burst,
	}
}

func mapMonitorConfig(cfg *Config) monitor.Config {
	if cfg == nil {
		return monitor.Config{}
	}
	return monitor.Config{ErrorRing: cfg.Monitor.ErrorRing}
}

func mapJobsConfig(cfg *Config) jobs.Config {
	if cfg == nil {
		return jobs.DefaultConfig()
	}
	return jobs.Config{
		Snapshot: cfg.Jobs.Snapshot,
		Prune:    cfg.Jobs.Prune,
		Report:   cfg.Jobs.Report,
	}
}
