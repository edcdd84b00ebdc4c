package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl, size-capped)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxBytes    int64         // file only; compaction threshold, 0 means default
	Retention   time.Duration // Prune cutoff; 0 means default
}

// Event kinds.
const (
	KindConnection  = "connection"
	KindModeSwitch  = "mode"
	KindTaskFailure = "task_failure"
)

// EventRecord is one notable occurrence: a controller session opening
// or closing, a mode switch, a task failure.
// Keep it compact and schema-stable.
type EventRecord struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	Detail  string    `json:"detail,omitempty"`
}

// StatsSnapshot is a periodic copy of the scheduler-wide counters.
type StatsSnapshot struct {
	At         time.Time     `json:"at"`
	Active     int           `json:"active"`
	Total      uint64        `json:"total"`
	Completed  uint64        `json:"completed"`
	Failed     uint64        `json:"failed"`
	Executions uint64        `json:"executions"`
	CPUPercent float64       `json:"cpu_percent"`
	Uptime     time.Duration `json:"uptime"`
}

const (
	defaultMaxBytes  = 1 << 20 // per file
	defaultRetention = 7 * 24 * time.Hour
)

func (c Config) maxBytes() int64 {
	if c.MaxBytes <= 0 {
		return defaultMaxBytes
	}
	return c.MaxBytes
}

func (c Config) retention() time.Duration {
	if c.Retention <= 0 {
		return defaultRetention
	}
	return c.Retention
}
