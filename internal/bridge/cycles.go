package bridge

import (
	"context"
	"errors"
	"time"

	"padbridge/internal/drive"
	"padbridge/internal/gamepad"
	"padbridge/internal/haptics"
	"padbridge/internal/telemetry"
	"padbridge/internal/transport"
	"padbridge/pkg/logx"
)

// inputCycle is the sampling task body. Report payloads land in the cell
// from the transport's pump goroutine, so the cycle's job is keeping the
// connection flag honest: a dead link must read as disconnected before
// the next control cycle, not when the pump finally notices.
func (b *Bridge) inputCycle(ctx context.Context) error {
	defer telemetry.ObserveCycle("input", time.Now())

	connected := b.link.Connected()
	err := b.cell.Update(func(st *gamepad.State) {
		st.Connected = connected
		if connected {
			st.LastUpdate = time.Now()
		}
	})
	if errors.Is(err, gamepad.ErrTimeout) {
		// Skip the cycle. A stale flag for one period beats blowing
		// the task's deadline waiting on the cell.
		b.inputTimeouts.Add(1)
	}
	return nil
}

// outputCycle is the control task body. It snapshots the cell, handles
// the mode-cycle button and maps sticks to actuators for the active mode.
func (b *Bridge) outputCycle(ctx context.Context) error {
	defer telemetry.ObserveCycle("output", time.Now())

	st, err := b.cell.Snapshot()
	if err != nil {
		if errors.Is(err, gamepad.ErrTimeout) {
			b.outputTimeouts.Add(1)
		}
		b.neutral()
		return nil
	}
	if !st.Connected {
		b.neutral()
		return nil
	}

	b.maybeCycleMode(st)

	switch b.Mode() {
	case ModeCar:
		b.carCycle(st)
	case ModePlane:
		b.planeCycle(st)
	case ModeDirect:
		b.directCycle(st)
	}
	return nil
}

// maybeCycleMode advances the control mode on the press edge of Select.
// Level-triggered cycling would spin through every mode while the button
// is held.
func (b *Bridge) maybeCycleMode(st gamepad.State) {
	pressed := st.Pressed(gamepad.ButtonSelect)
	if pressed && !b.selectDown {
		next := b.Mode().next()
		if err := b.SetMode(next); err == nil {
			b.pulse(100, 100*time.Millisecond)
		}
	}
	b.selectDown = pressed
}

// carCycle maps left stick to differential drive. Stick up is forward,
// B is the brake.
func (b *Bridge) carCycle(st gamepad.State) {
	forward := -int(st.LY) / axisScale
	turn := int(st.LX) / axisScale
	out := drive.CarCommand(forward, turn, st.Pressed(gamepad.ButtonB))
	if err := b.act.ApplyCar(out); err != nil {
		b.actuatorErrors.Add(1)
		b.log.Warn("car output failed", logx.Err(err))
		return
	}
	if turn > b.cfg.StrongTurn || turn < -b.cfg.StrongTurn {
		if err := b.fx.DualMotor(50, 50, 50*time.Millisecond); err != nil && !errors.Is(err, haptics.ErrRateLimited) {
			b.log.Debug("turn rumble failed", logx.Err(err))
		}
	}
}

// planeCycle maps right trigger to throttle and the sticks to control
// surfaces. Y is the emergency stop; the latch keeps throttle cut until
// the trigger is released and commanded throttle has come back down.
func (b *Bridge) planeCycle(st gamepad.State) {
	throttle := int(st.RT)
	wasEngaged := b.estop.Engaged()
	cut := b.estop.Step(st.Pressed(gamepad.ButtonY), throttle)

	out := drive.PlaneCommand(throttle, -int(st.LY)/axisScale, int(st.LX)/axisScale, int(st.RX)/axisScale)
	if cut {
		out.Throttle = 0
		if !wasEngaged {
			b.log.Warn("emergency stop engaged", logx.Int("throttle", throttle))
			b.pulse(255, 500*time.Millisecond)
		}
	}
	if err := b.act.ApplyPlane(out); err != nil {
		b.actuatorErrors.Add(1)
		b.log.Warn("plane output failed", logx.Err(err))
	}
}

// directCycle passes raw channel values through uninverted, for rigs
// calibrated against the controller's own conventions.
func (b *Bridge) directCycle(st gamepad.State) {
	out := drive.PlaneCommand(int(st.RT), int(st.LY)/axisScale, int(st.LX)/axisScale, int(st.RX)/axisScale)
	if err := b.act.ApplyPlane(out); err != nil {
		b.actuatorErrors.Add(1)
		b.log.Warn("direct output failed", logx.Err(err))
	}
}

func (b *Bridge) neutral() {
	if err := b.act.Neutral(); err != nil {
		b.actuatorErrors.Add(1)
		b.log.Warn("neutral failed", logx.Err(err))
	}
}

// pulse fires a feedback pulse, swallowing rate-limit rejections. Haptic
// feedback is advisory and must never stall a control path.
func (b *Bridge) pulse(intensity uint8, d time.Duration) {
	if err := b.fx.QuickPulse(intensity, d); err != nil && !errors.Is(err, haptics.ErrRateLimited) {
		b.log.Debug("pulse failed", logx.Err(err))
	}
}

// onOpen runs on the transport's pump goroutine when a session comes up.
func (b *Bridge) onOpen(s transport.Session) {
	b.log.Info("controller session opened", logx.String("session", s.ID.String()))
	b.publish(EventSessionOpened, map[string]any{"session": s.ID.String()})
	b.pulse(150, 200*time.Millisecond)
}

// onClose clears the cell so the next control cycle sees a disconnected
// controller and goes neutral.
func (b *Bridge) onClose(s transport.Session, reason error) {
	if err := b.cell.Clear(); err != nil {
		b.log.Warn("cell clear on close failed", logx.Err(err))
	}
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	b.publish(EventSessionClosed, map[string]any{"session": s.ID.String(), "reason": msg})
	b.log.Info("controller session closed",
		logx.String("session", s.ID.String()),
		logx.String("reason", msg))
}

// onReport parses an input report and publishes it to the cell.
func (b *Bridge) onReport(s transport.Session, raw []byte) {
	b.reports.Add(1)
	st, err := gamepad.ParseReport(raw, time.Now())
	if err != nil {
		b.reportErrors.Add(1)
		b.log.Debug("bad input report", logx.Err(err), logx.Int("len", len(raw)))
		return
	}
	st.ApplyDeadzone(b.cfg.Deadzone)
	if err := b.cell.Set(st); err != nil {
		if errors.Is(err, gamepad.ErrTimeout) {
			b.inputTimeouts.Add(1)
		}
		b.log.Debug("cell write dropped", logx.Err(err))
	}
}
