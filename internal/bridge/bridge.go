// Package bridge wires controller input to actuator output across the
// scheduler: a high-rate sampling task keeps the shared state cell fresh
// and a lower-rate control task turns snapshots into actuator commands.
// The bridge is also the transport's event handler, so connection changes
// land here first.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"padbridge/internal/drive"
	"padbridge/internal/eventbus"
	"padbridge/internal/gamepad"
	"padbridge/internal/haptics"
	"padbridge/internal/sched"
	"padbridge/internal/transport"
	"padbridge/pkg/logx"
)

// Event types published on the bus.
const (
	EventSessionOpened = "bridge.session.opened"
	EventSessionClosed = "bridge.session.closed"
	EventModeSwitched  = "bridge.mode.switched"
)

// axisScale maps the int16 stick range onto the ±1000 command range.
const axisScale = 32

// Task names as they appear in scheduler listings.
const (
	inputTaskName  = "gamepad_input"
	outputTaskName = "control_output"
)

// Config tunes the bridge's two periodic tasks and the control mapping.
type Config struct {
	// InputPeriod is the sampling task's cycle time.
	InputPeriod time.Duration
	// OutputPeriod is the control task's cycle time.
	OutputPeriod time.Duration
	// Deadzone zeroes stick axes below this magnitude.
	Deadzone int16
	// DefaultMode is the control mode at startup.
	DefaultMode Mode
	// StrongTurn is the |turn| command above which the car mode rumbles.
	StrongTurn int
}

func (c Config) withDefaults() Config {
	if c.InputPeriod <= 0 {
		c.InputPeriod = 10 * time.Millisecond
	}
	if c.OutputPeriod <= 0 {
		c.OutputPeriod = 20 * time.Millisecond
	}
	if c.Deadzone < 0 {
		c.Deadzone = 0
	}
	if c.StrongTurn <= 0 {
		c.StrongTurn = 500
	}
	return c
}

// Deps are the collaborators a bridge drives. All are required except Bus.
type Deps struct {
	Scheduler *sched.Scheduler
	Cell      *gamepad.Cell
	Link      transport.Link
	Actuators drive.Actuators
	Haptics   *haptics.Engine
	Bus       eventbus.Bus
	Log       logx.Logger
}

// Stats is a copy-out view of the bridge's health counters.
type Stats struct {
	Mode           Mode
	InputTimeouts  uint64
	OutputTimeouts uint64
	ReportErrors   uint64
	ActuatorErrors uint64
	Reports        uint64
}

// Bridge owns the input/output task pair and the control-mode state.
type Bridge struct {
	cfg Config
	log logx.Logger

	sched *sched.Scheduler
	cell  *gamepad.Cell
	link  transport.Link
	act   drive.Actuators
	fx    *haptics.Engine
	bus   eventbus.Bus

	mode atomic.Int32

	// Owned by the output task's goroutine.
	selectDown bool
	estop      drive.EStopLatch

	inputTimeouts  atomic.Uint64
	outputTimeouts atomic.Uint64
	reportErrors   atomic.Uint64
	actuatorErrors atomic.Uint64
	reports        atomic.Uint64

	mu       sync.Mutex
	started  bool
	inputID  sched.TaskID
	outputID sched.TaskID
}

func New(cfg Config, d Deps) (*Bridge, error) {
	if d.Scheduler == nil || d.Cell == nil || d.Link == nil || d.Actuators == nil || d.Haptics == nil {
		return nil, errors.New("bridge: missing dependency")
	}
	b := &Bridge{
		cfg:   cfg.withDefaults(),
		log:   d.Log,
		sched: d.Scheduler,
		cell:  d.Cell,
		link:  d.Link,
		act:   d.Actuators,
		fx:    d.Haptics,
		bus:   d.Bus,
	}
	b.mode.Store(int32(cfg.DefaultMode % modeCount))
	return b, nil
}

// Start registers the task pair and brings the link up with the bridge as
// its handler. A partial failure unwinds everything already created and
// leaves the actuators neutral.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	inputID, err := b.sched.Create(sched.TaskConfig{
		Name:        inputTaskName,
		Type:        sched.TaskPeriodic,
		Priority:    sched.PriorityHigh,
		Period:      b.cfg.InputPeriod,
		MaxExecTime: b.cfg.InputPeriod,
		StackSize:   4096,
		Func:        b.inputCycle,
	})
	if err != nil {
		return fmt.Errorf("bridge start: input task: %w", err)
	}

	outputID, err := b.sched.Create(sched.TaskConfig{
		Name:        outputTaskName,
		Type:        sched.TaskPeriodic,
		Priority:    sched.PriorityNormal,
		Period:      b.cfg.OutputPeriod,
		MaxExecTime: b.cfg.OutputPeriod,
		StackSize:   4096,
		Func:        b.outputCycle,
	})
	if err != nil {
		b.unwind(inputID, 0)
		return fmt.Errorf("bridge start: output task: %w", err)
	}

	if err := b.link.Start(ctx, transport.HandlerFuncs{
		Open:   b.onOpen,
		Close:  b.onClose,
		Report: b.onReport,
	}); err != nil {
		b.unwind(inputID, outputID)
		return fmt.Errorf("bridge start: link: %w", err)
	}

	b.inputID, b.outputID = inputID, outputID
	b.started = true
	b.log.Info("bridge started",
		logx.Duration("input_period", b.cfg.InputPeriod),
		logx.Duration("output_period", b.cfg.OutputPeriod),
		logx.String("mode", b.Mode().String()))
	return nil
}

// Stop tears the bridge down: link first so no new reports arrive, then
// the tasks, then motors quiet and actuators neutral.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false

	errLink := b.link.Stop()
	if err := b.sched.Delete(b.inputID); err != nil && !errors.Is(err, sched.ErrNotFound) {
		b.log.Warn("input task delete failed", logx.Err(err))
	}
	if err := b.sched.Delete(b.outputID); err != nil && !errors.Is(err, sched.ErrNotFound) {
		b.log.Warn("output task delete failed", logx.Err(err))
	}
	_ = b.fx.Stop()
	if err := b.act.Neutral(); err != nil {
		b.log.Warn("neutral on stop failed", logx.Err(err))
	}
	b.log.Info("bridge stopped")
	return errLink
}

// unwind deletes whatever Start managed to create, ids of 0 skipped.
func (b *Bridge) unwind(ids ...sched.TaskID) {
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if err := b.sched.Delete(id); err != nil {
			b.log.Warn("unwind delete failed", logx.Uint32("id", uint32(id)), logx.Err(err))
		}
	}
	if err := b.act.Neutral(); err != nil {
		b.log.Warn("neutral on unwind failed", logx.Err(err))
	}
}

// Mode returns the active control mode.
func (b *Bridge) Mode() Mode {
	return Mode(b.mode.Load()) % modeCount
}

// SetMode switches the control mode, neutralizing the previous mode's
// outputs so nothing keeps running on a stale mapping.
func (b *Bridge) SetMode(m Mode) error {
	if m >= modeCount {
		return fmt.Errorf("set mode: unknown mode %d", uint8(m))
	}
	old := Mode(b.mode.Swap(int32(m)))
	if old == m {
		return nil
	}
	b.estop.Reset()
	if err := b.act.Neutral(); err != nil {
		b.log.Warn("neutral on mode switch failed", logx.Err(err))
	}
	b.log.Info("control mode switched",
		logx.String("from", old.String()),
		logx.String("to", m.String()))
	b.publish(EventModeSwitched, map[string]any{"from": old.String(), "to": m.String()})
	return nil
}

// TaskIDs returns the scheduler ids of the input and output tasks, zero
// before Start.
func (b *Bridge) TaskIDs() (input, output sched.TaskID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputID, b.outputID
}

// Stats returns a copy-out snapshot of the health counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Mode:           b.Mode(),
		InputTimeouts:  b.inputTimeouts.Load(),
		OutputTimeouts: b.outputTimeouts.Load(),
		ReportErrors:   b.reportErrors.Load(),
		ActuatorErrors: b.actuatorErrors.Load(),
		Reports:        b.reports.Load(),
	}
}

func (b *Bridge) publish(typ string, data map[string]any) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
