package config

import (
	"fmt"
	"strings"
)

// Config is the whole application configuration.
//
// All duration-valued fields are Go duration strings (e.g. "10ms",
// "1s", "5m"). Normalize fills defaults, clamps ranges and rejects
// values that cannot be parsed; callers commit only normalized configs.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Input     InputConfig     `json:"input"`
	Output    OutputConfig    `json:"output"`
	Control   ControlConfig   `json:"control"`
	Haptics   HapticsConfig   `json:"haptics"`
	Transport TransportConfig `json:"transport"`
	Monitor   MonitorConfig   `json:"monitor"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Jobs      JobsConfig      `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig tunes the task registry.
type SchedulerConfig struct {
	Capacity    int    `json:"capacity,omitempty"`     // default 32, clamped to 1..1024
	Tick        string `json:"tick,omitempty"`         // default "10ms"
	OpTimeout   string `json:"op_timeout,omitempty"`   // default "1s"
	ReadTimeout string `json:"read_timeout,omitempty"` // default "100ms"
	StopTimeout string `json:"stop_timeout,omitempty"` // default "2s"
}

// InputConfig tunes the sampling side of the control loop.
type InputConfig struct {
	Period string `json:"period,omitempty"` // default "10ms"
	// Deadzone defaults to 1000 and is clamped to 0..32767. A negative
	// value disables it.
	Deadzone int `json:"deadzone,omitempty"`
}

// OutputConfig tunes the actuator side of the control loop.
type OutputConfig struct {
	Period string `json:"period,omitempty"` // default "20ms"
}

// ControlConfig selects the initial mode and the mixing thresholds.
type ControlConfig struct {
	DefaultMode string `json:"default_mode,omitempty"` // default "car"
	StrongTurn  int    `json:"strong_turn,omitempty"`  // default 500, clamped to 1..1000
}

type HapticsConfig struct {
	RatePerSec float64 `json:"rate_per_sec,omitempty"` // default 15
	Burst      int     `json:"burst,omitempty"`        // default 5
}

// TransportConfig tunes the simulated controller link.
type TransportConfig struct {
	ReportInterval string `json:"report_interval,omitempty"` // default "10ms"
	SessionTTL     string `json:"session_ttl,omitempty"`     // 0 keeps sessions up
	ReconnectMin   string `json:"reconnect_min,omitempty"`   // default "100ms"
	ReconnectMax   string `json:"reconnect_max,omitempty"`   // default "5s"
}

type MonitorConfig struct {
	// Watchdog is a pointer so an omitted field means enabled.
	Watchdog  *bool `json:"watchdog,omitempty"`
	ErrorRing int   `json:"error_ring,omitempty"` // default 32, clamped to 1..4096
}

// WatchdogEnabled treats an omitted flag as true.
func (m MonitorConfig) WatchdogEnabled() bool {
	return m.Watchdog == nil || *m.Watchdog
}

type TelemetryConfig struct {
	Enabled        bool   `json:"enabled"`
	Addr           string `json:"addr,omitempty"`            // default "127.0.0.1:9090"
	SampleInterval string `json:"sample_interval,omitempty"` // default "1s"
}

// PprofConfig exposes the runtime profiling endpoints. Binding to a
// non-loopback address requires a token unless allow_insecure is set;
// that check happens when the section is applied.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix               string `json:"prefix,omitempty"` // default "/debug/pprof/"
	Token                string `json:"token,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	ReadTimeout          string `json:"read_timeout,omitempty"`  // default "5s"
	WriteTimeout         string `json:"write_timeout,omitempty"` // 0 disables the limit
	IdleTimeout          string `json:"idle_timeout,omitempty"`  // default "2m"
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MemProfileRate       int    `json:"mem_profile_rate,omitempty"`
}

// StorageConfig controls the optional persistence layer. A nil section
// disables storage.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./padbridge_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	MaxBytes    int64  `json:"max_bytes,omitempty"`    // file only
	Retention   string `json:"retention,omitempty"`    // default "168h"
}

// JobsConfig holds the housekeeping cron specs. An empty spec disables
// that job; the specs themselves are validated at registration.
type JobsConfig struct {
	Snapshot string `json:"snapshot,omitempty"` // default "@every 1m"
	Prune    string `json:"prune,omitempty"`    // default "@every 1h"
	Report   string `json:"report,omitempty"`   // default "@every 5m"
}

var modeNames = map[string]bool{"car": true, "plane": true, "direct": true}

// Normalize fills defaults, clamps numeric ranges and verifies that
// every duration string parses. It mutates the receiver and reports the
// first hard failure.
func (c *Config) Normalize() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	c.Scheduler.Capacity = clampInt(c.Scheduler.Capacity, 32, 1, 1024)
	if err := checkDurations(map[string]*string{
		"scheduler.tick":         defStr(&c.Scheduler.Tick, "10ms"),
		"scheduler.op_timeout":   defStr(&c.Scheduler.OpTimeout, "1s"),
		"scheduler.read_timeout": defStr(&c.Scheduler.ReadTimeout, "100ms"),
		"scheduler.stop_timeout": defStr(&c.Scheduler.StopTimeout, "2s"),
		"input.period":           defStr(&c.Input.Period, "10ms"),
		"output.period":          defStr(&c.Output.Period, "20ms"),
	}); err != nil {
		return err
	}
	c.Input.Deadzone = clampInt(c.Input.Deadzone, 1000, 0, 32767)

	c.Control.DefaultMode = strings.ToLower(strings.TrimSpace(c.Control.DefaultMode))
	if c.Control.DefaultMode == "" {
		c.Control.DefaultMode = "car"
	}
	if !modeNames[c.Control.DefaultMode] {
		return fmt.Errorf("control.default_mode: unknown mode %q", c.Control.DefaultMode)
	}
	c.Control.StrongTurn = clampInt(c.Control.StrongTurn, 500, 1, 1000)

	if c.Haptics.RatePerSec <= 0 {
		c.Haptics.RatePerSec = 15
	}
	if c.Haptics.Burst <= 0 {
		c.Haptics.Burst = 5
	}

	if err := checkDurations(map[string]*string{
		"transport.report_interval": defStr(&c.Transport.ReportInterval, "10ms"),
		"transport.session_ttl":     &c.Transport.SessionTTL,
		"transport.reconnect_min":   defStr(&c.Transport.ReconnectMin, "100ms"),
		"transport.reconnect_max":   defStr(&c.Transport.ReconnectMax, "5s"),
	}); err != nil {
		return err
	}

	c.Monitor.ErrorRing = clampInt(c.Monitor.ErrorRing, 32, 1, 4096)

	if strings.TrimSpace(c.Telemetry.Addr) == "" {
		c.Telemetry.Addr = "127.0.0.1:9090"
	}
	if err := checkDurations(map[string]*string{
		"telemetry.sample_interval": defStr(&c.Telemetry.SampleInterval, "1s"),
	}); err != nil {
		return err
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Addr) == "" {
		c.Pprof.Addr = "127.0.0.1:6060"
	}
	if err := checkDurations(map[string]*string{
		"pprof.read_timeout":  defStr(&c.Pprof.ReadTimeout, "5s"),
		"pprof.write_timeout": &c.Pprof.WriteTimeout,
		"pprof.idle_timeout":  defStr(&c.Pprof.IdleTimeout, "2m"),
	}); err != nil {
		return err
	}
	if c.Pprof.MutexProfileFraction < 0 {
		return fmt.Errorf("pprof.mutex_profile_fraction: must be >= 0")
	}
	if c.Pprof.BlockProfileRate < 0 {
		return fmt.Errorf("pprof.block_profile_rate: must be >= 0")
	}
	if c.Pprof.MemProfileRate < 0 {
		return fmt.Errorf("pprof.mem_profile_rate: must be >= 0")
	}

	if c.Storage != nil {
		driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
		switch driver {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if c.Storage.MaxBytes < 0 {
			c.Storage.MaxBytes = 0
		}
		if err := checkDurations(map[string]*string{
			"storage.busy_timeout": &c.Storage.BusyTimeout,
			"storage.retention":    defStr(&c.Storage.Retention, "168h"),
		}); err != nil {
			return err
		}
	}

	if c.Jobs == (JobsConfig{}) {
		c.Jobs = JobsConfig{Snapshot: "@every 1m", Prune: "@every 1h", Report: "@every 5m"}
	}

	return nil
}

// defStr fills an empty string field with def and returns the pointer,
// so a default and its parse check read as one line.
func defStr(p *string, def string) *string {
	if strings.TrimSpace(*p) == "" {
		*p = def
	}
	return p
}

func checkDurations(fields map[string]*string) error {
	for path, p := range fields {
		if _, err := ParseDurationField(path, *p); err != nil {
			return err
		}
	}
	return nil
}

func clampInt(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
