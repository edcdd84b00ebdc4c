// Package monitor tracks system health: the coarse system state machine,
// connection statistics, runtime resource usage and a bounded ring of
// recent errors. It listens on the event bus instead of taking callbacks,
// and it feeds the systemd watchdog while the process looks healthy.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"padbridge/internal/bridge"
	"padbridge/internal/eventbus"
	"padbridge/internal/sched"
	"padbridge/pkg/logx"
)

// Event types published on the bus.
const (
	EventStateChanged      = "monitor.state.changed"
	EventConnectionChanged = "monitor.connection.changed"
	EventWatchdogSkipped   = "monitor.watchdog.skipped"
)

// SystemState is the coarse run state of the whole system.
type SystemState uint8

const (
	StateInit SystemState = iota
	StateIdle
	StateConnecting
	StateConnected
	StateControlling
	StateError
	StateShutdown

	systemStateMax
)

func (s SystemState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateControlling:
		return "controlling"
	case StateError:
		return "error"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ConnState is the controller link's state as the monitor last heard it.
type ConnState uint8

const (
	ConnDisconnected ConnState = iota
	ConnScanning
	ConnPairing
	ConnConnected
	ConnFailed

	connStateMax
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnScanning:
		return "scanning"
	case ConnPairing:
		return "pairing"
	case ConnConnected:
		return "connected"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionStats is a copy-out view of the link counters.
type ConnectionStats struct {
	Attempts       uint32
	Successes      uint32
	Failures       uint32
	Disconnections uint32
	PacketsSent    uint64
	PacketsRecv    uint64
	Errors         uint64
	// SuccessRate is successes over attempts, in percent.
	SuccessRate float64
	// AvgConnect is the mean scanning-to-connected time.
	AvgConnect time.Duration
}

// ErrorRecord is one entry of the bounded error ring.
type ErrorRecord struct {
	Time     time.Time
	Code     uint16
	Message  string
	Severity uint8
}

// Error codes and severities the monitor assigns to events it records on
// its own. Callers of RecordError pick their own.
const (
	codeTaskFailure     uint16 = 1
	severityTaskFailure uint8  = 128
)

// Resources is a point-in-time sample of process resource usage.
type Resources struct {
	HeapAlloc   uint64
	HeapSys     uint64
	HeapObjects uint64
	GCCycles    uint32
	Goroutines  int
	Tasks       int
	Uptime      time.Duration
}

// Config tunes the monitor.
type Config struct {
	// ErrorRing is how many recent errors are retained.
	ErrorRing int
}

func (c Config) withDefaults() Config {
	if c.ErrorRing <= 0 {
		c.ErrorRing = 32
	}
	return c
}

// Monitor aggregates health state. Scheduler and bus are optional; without
// them the report and health check degrade to what the monitor saw itself.
type Monitor struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	sched *sched.Scheduler

	events <-chan eventbus.Event
	unsub  func()

	started time.Time

	mu        sync.Mutex
	sysState  SystemState
	connState ConnState
	// connectingSince anchors the avg-connect fold; zero when no attempt
	// is in flight.
	connectingSince time.Time
	conn            ConnectionStats
	ring            []ErrorRecord
	ringNext        int
	ringLen         int
}

// New builds a monitor. The bus subscription is taken here, not in Run,
// so session transitions published while the rest of the system spins up
// queue instead of going missing.
func New(cfg Config, sch *sched.Scheduler, bus eventbus.Bus, log logx.Logger) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		sched:   sch,
		unsub:   func() {},
		started: time.Now(),
		ring:    make([]ErrorRecord, cfg.ErrorRing),
	}
	if bus != nil {
		m.events, m.unsub = bus.Subscribe(64)
	}
	return m
}

// State returns the current system state.
func (m *Monitor) State() SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sysState
}

// SetState moves the system state machine. Same-state sets are silent.
func (m *Monitor) SetState(s SystemState) error {
	if s >= systemStateMax {
		return fmt.Errorf("set system state: unknown state %d", uint8(s))
	}
	m.mu.Lock()
	old := m.sysState
	m.sysState = s
	m.mu.Unlock()

	if old == s {
		return nil
	}
	m.log.Info("system state changed",
		logx.String("from", old.String()),
		logx.String("to", s.String()))
	m.publish(EventStateChanged, map[string]any{"from": old.String(), "to": s.String()})
	return nil
}

// ConnState returns the connection state as last reported.
func (m *Monitor) ConnState() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connState
}

// SetConnState moves the connection state and folds the transition into
// the counters: entering Scanning opens an attempt, Connected resolves it
// as a success, Failed as a failure, and dropping out of Connected counts
// a disconnection.
func (m *Monitor) SetConnState(s ConnState) error {
	if s >= connStateMax {
		return fmt.Errorf("set connection state: unknown state %d", uint8(s))
	}
	m.mu.Lock()
	old := m.connState
	m.connState = s

	now := time.Now()
	switch s {
	case ConnScanning:
		m.conn.Attempts++
		m.connectingSince = now
	case ConnConnected:
		m.conn.Successes++
		if !m.connectingSince.IsZero() {
			n := time.Duration(m.conn.Successes)
			m.conn.AvgConnect = (m.conn.AvgConnect*(n-1) + now.Sub(m.connectingSince)) / n
			m.connectingSince = time.Time{}
		}
	case ConnFailed:
		m.conn.Failures++
		m.connectingSince = time.Time{}
	case ConnDisconnected:
		if old == ConnConnected {
			m.conn.Disconnections++
		}
	}
	if m.conn.Attempts > 0 {
		m.conn.SuccessRate = float64(m.conn.Successes) / float64(m.conn.Attempts) * 100
	}
	m.mu.Unlock()

	if old == s {
		return nil
	}
	m.log.Debug("connection state changed",
		logx.String("from", old.String()),
		logx.String("to", s.String()))
	m.publish(EventConnectionChanged, map[string]any{"from": old.String(), "to": s.String()})
	return nil
}

// RecordData adds transferred packet counts.
func (m *Monitor) RecordData(sent, received uint64) {
	m.mu.Lock()
	m.conn.PacketsSent += sent
	m.conn.PacketsRecv += received
	m.mu.Unlock()
}

// RecordError appends to the error ring, evicting the oldest entry when
// full.
func (m *Monitor) RecordError(code uint16, msg string, severity uint8) {
	rec := ErrorRecord{Time: time.Now(), Code: code, Message: msg, Severity: severity}

	m.mu.Lock()
	m.ring[m.ringNext] = rec
	m.ringNext = (m.ringNext + 1) % len(m.ring)
	if m.ringLen < len(m.ring) {
		m.ringLen++
	}
	m.conn.Errors++
	m.mu.Unlock()

	m.log.Error("error recorded",
		logx.Int("code", int(code)),
		logx.String("message", msg),
		logx.Int("severity", int(severity)))
}

// Errors returns the retained errors, oldest first.
func (m *Monitor) Errors() []ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ErrorRecord, 0, m.ringLen)
	if m.ringLen < len(m.ring) {
		out = append(out, m.ring[:m.ringLen]...)
		return out
	}
	out = append(out, m.ring[m.ringNext:]...)
	out = append(out, m.ring[:m.ringNext]...)
	return out
}

// ConnectionStats returns a copy of the link counters.
func (m *Monitor) ConnectionStats() ConnectionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// ClearStats zeroes the counters and the error ring. States are kept.
func (m *Monitor) ClearStats() {
	m.mu.Lock()
	m.conn = ConnectionStats{}
	m.connectingSince = time.Time{}
	m.ringNext = 0
	m.ringLen = 0
	m.mu.Unlock()
	m.log.Info("monitor stats cleared")
}

// HealthCheck reports whether the process should keep its watchdog fed:
// not errored or shutting down, and the scheduler still dispatching.
func (m *Monitor) HealthCheck() bool {
	s := m.State()
	if s == StateError || s == StateShutdown {
		return false
	}
	if m.sched != nil && !m.sched.Running() {
		return false
	}
	return true
}

// Uptime is the time since the monitor was created.
func (m *Monitor) Uptime() time.Duration { return time.Since(m.started) }

// Resources samples process resource usage on demand.
func (m *Monitor) Resources() Resources {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	tasks := 0
	if m.sched != nil {
		tasks = len(m.sched.Tasks())
	}
	return Resources{
		HeapAlloc:   ms.HeapAlloc,
		HeapSys:     ms.HeapSys,
		HeapObjects: ms.HeapObjects,
		GCCycles:    ms.NumGC,
		Goroutines:  runtime.NumGoroutine(),
		Tasks:       tasks,
		Uptime:      time.Since(m.started),
	}
}

// Run consumes bus events until ctx is done, mapping transport sessions
// and task failures onto the state machine and the error ring.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.unsub()

	_ = m.SetState(StateIdle)

	events := m.events
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.handle(e)
		}
	}
}

func (m *Monitor) handle(e eventbus.Event) {
	switch e.Type {
	case bridge.EventSessionOpened:
		// The simulated link resolves dials instantly, so one session open
		// is one attempt that succeeded. A radio link reports Scanning,
		// Pairing and Failed on its own.
		_ = m.SetConnState(ConnScanning)
		_ = m.SetConnState(ConnConnected)
		_ = m.SetState(StateConnected)
	case bridge.EventSessionClosed:
		_ = m.SetConnState(ConnDisconnected)
		_ = m.SetState(StateIdle)
	case bridge.EventModeSwitched:
		if m.State() == StateConnected {
			_ = m.SetState(StateControlling)
		}
	case sched.EventTaskFailed:
		m.RecordError(codeTaskFailure, taskFailureMessage(e.Data), severityTaskFailure)
	}
}

func taskFailureMessage(data any) string {
	fields, ok := data.(map[string]any)
	if !ok {
		return "task failed"
	}
	name, _ := fields["task"].(string)
	detail, _ := fields["error"].(string)
	if name == "" {
		name = "task"
	}
	if detail == "" {
		return name + " failed"
	}
	return name + ": " + detail
}

func (m *Monitor) publish(typ string, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
