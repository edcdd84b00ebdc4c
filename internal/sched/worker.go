package sched

import (
	"fmt"
	"runtime/debug"
	"time"

	"padbridge/pkg/logx"
)

// runWorker is the dispatch loop for Periodic, OneShot and Conditional
// tasks. The goroutine IS the loop: it decides each cycle whether the body
// should run, executes it, folds the sample into statistics, then sleeps to
// the next cycle boundary.
func (s *Scheduler) runWorker(t *task) {
	defer t.closeDone()

	var next time.Time
	if t.cfg.Type == TaskPeriodic {
		// First execution happens immediately; the absolute anchor starts
		// here and advances by one period per cycle.
		next = time.Now()
	}

	for {
		if t.ctx.Err() != nil {
			return
		}
		if s.gateOpen() {
			t.casState(StateReady, StateRunning)
		}

		ran := false
		failed := false
		if s.shouldExecute(t) {
			failed = s.executeOnce(t)
			ran = true
		}
		if t.cfg.Type == TaskOneShot && ran {
			s.settle(t, failed)
			return
		}

		var timer *time.Timer
		if t.cfg.Type == TaskPeriodic {
			next = next.Add(t.periodDur())
			t.nextRun.Store(next.UnixNano())
			d := time.Until(next)
			if d <= 0 {
				// Behind schedule: drain the backlog back-to-back while
				// keeping the absolute anchor, so timing does not drift.
				continue
			}
			timer = time.NewTimer(d)
		} else {
			tick := s.opts.Tick
			t.nextRun.Store(time.Now().Add(tick).UnixNano())
			timer = time.NewTimer(tick)
		}

		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case <-t.kick:
			// Wake early; the dispatch point at the top of the loop decides
			// whether the body actually runs. Periodic tasks re-anchor so the
			// following scheduled run lands one full period from now.
			timer.Stop()
			if t.cfg.Type == TaskPeriodic {
				next = time.Now()
			}
		case <-timer.C:
		}
	}
}

// shouldExecute applies the global gate, the lifecycle state and the
// per-type policy. Conditional predicates run here, outside the lock.
func (s *Scheduler) shouldExecute(t *task) bool {
	if !s.gateOpen() {
		return false
	}
	if t.stateNow() != StateRunning {
		return false
	}
	switch t.cfg.Type {
	case TaskPeriodic:
		return true
	case TaskOneShot:
		return !t.ranOnce.Load()
	case TaskConditional:
		return t.cfg.Condition()
	default:
		return false
	}
}

// executeOnce runs the body and folds the sample into per-task and
// scheduler-wide statistics. It reports whether the execution failed.
func (s *Scheduler) executeOnce(t *task) bool {
	start := time.Now()
	err := s.invoke(t)
	elapsed := time.Since(start)

	t.ranOnce.Store(true)

	deadline := t.cfg.MaxExecTime
	overran := deadline > 0 && elapsed > deadline

	if s.mu.LockFor(s.opts.OpTimeout) {
		t.executions++
		t.totalExec += elapsed
		if elapsed > t.maxExec {
			t.maxExec = elapsed
		}
		if elapsed < t.minExec {
			t.minExec = elapsed
		}
		t.lastRun = start
		if overran {
			t.missed++
		}
		if err != nil {
			t.errCount++
		}
		s.execs++
		s.execTime += elapsed
		s.mu.Unlock()
	} else {
		s.log.Warn("stats fold skipped, registry lock busy",
			logx.String("task", t.cfg.Name), logx.Uint32("id", uint32(t.id)))
	}

	if overran {
		s.log.Warn("task exceeded max execution time",
			logx.String("task", t.cfg.Name),
			logx.Uint32("id", uint32(t.id)),
			logx.Duration("elapsed", elapsed),
			logx.Duration("limit", deadline))
		s.publish(EventDeadlineMissed, map[string]any{
			"id": uint32(t.id), "task": t.cfg.Name, "elapsed": elapsed.String(),
		})
	}
	if err != nil {
		s.log.Error("task execution failed",
			logx.String("task", t.cfg.Name),
			logx.Uint32("id", uint32(t.id)),
			logx.Err(err))
		s.publish(EventTaskFailed, map[string]any{
			"id": uint32(t.id), "task": t.cfg.Name, "error": err.Error(),
		})
		return true
	}
	return false
}

// invoke calls the body with panic isolation. A panicking body is reported
// as a failed execution; it never takes the scheduler down.
func (s *Scheduler) invoke(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			s.log.Error("task body panicked",
				logx.String("task", t.cfg.Name),
				logx.Uint32("id", uint32(t.id)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	return t.cfg.Func(t.ctx)
}

// settle performs terminal accounting for a task that finished on its own,
// then fires the completion callback and auto-delete outside the lock.
func (s *Scheduler) settle(t *task, failed bool) {
	retired := false
	if s.mu.LockFor(s.opts.OpTimeout) {
		retired = s.retireLocked(t, failed)
		s.mu.Unlock()
	} else {
		// Keep the state machine honest even when accounting is missed.
		if failed {
			t.setState(StateError)
		} else {
			t.setState(StateCompleted)
		}
		s.log.Warn("terminal accounting skipped, registry lock busy",
			logx.String("task", t.cfg.Name), logx.Uint32("id", uint32(t.id)))
	}
	if !retired {
		return
	}

	typ := EventTaskCompleted
	if failed {
		typ = EventTaskFailed
	}
	s.publish(typ, map[string]any{
		"id": uint32(t.id), "task": t.cfg.Name, "terminal": true,
	})

	if cb := t.cfg.OnComplete; cb != nil {
		s.runCallback(t, cb, !failed)
	}
	if t.cfg.AutoDelete {
		if err := s.Delete(t.id); err != nil {
			s.log.Warn("auto-delete failed",
				logx.String("task", t.cfg.Name),
				logx.Uint32("id", uint32(t.id)),
				logx.Err(err))
		}
	}
}

func (s *Scheduler) runCallback(t *task, cb CompletionFunc, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("completion callback panicked",
				logx.String("task", t.cfg.Name),
				logx.Uint32("id", uint32(t.id)),
				logx.Any("panic", r))
		}
	}()
	cb(t.id, ok)
}

// fireDelayed runs on the timer goroutine when a Delayed task's alarm
// fires. The body executes directly in this context, which is why Delayed
// bodies are documented as short and non-blocking.
//
// A suspend that raced the alarm leaves done open so a later resume can
// re-arm and settle the task.
func (s *Scheduler) fireDelayed(t *task) {
	if t.ctx.Err() != nil {
		t.closeDone()
		return
	}

	// Serialize the Ready -> Running transition against suspend/delete when
	// possible; fall back to the atomic check if the lock is busy.
	if s.mu.LockFor(s.opts.OpTimeout) {
		stale := t.ctx.Err() != nil || t.retired || t.stateNow() != StateReady
		if !stale {
			t.setState(StateRunning)
		}
		s.mu.Unlock()
		if stale {
			if t.stateNow() != StateSuspended {
				t.closeDone()
			}
			return
		}
	} else if !t.casState(StateReady, StateRunning) {
		if t.stateNow() != StateSuspended {
			t.closeDone()
		}
		return
	}

	failed := s.executeOnce(t)
	s.settle(t, failed)
	t.closeDone()
}
