package sched

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"padbridge/internal/eventbus"
	"padbridge/internal/waitlock"
	"padbridge/pkg/logx"
)

// Scheduler owns a fixed-capacity task registry and the scheduler-wide
// statistics block. Instances are independent; nothing in this package is
// process-global.
type Scheduler struct {
	opts Options
	log  logx.Logger
	bus  eventbus.Bus

	mu    *waitlock.Mutex
	slots []*task

	// nextID is the next candidate id; guarded by mu, skips 0 on wrap.
	nextID uint32

	runCtx  context.Context
	runStop context.CancelFunc

	running atomic.Bool
	enabled atomic.Bool
	closed  atomic.Bool

	// guarded by mu
	startedAt time.Time
	created   uint64
	active    int
	completed uint64
	failed    uint64
	execs     uint64
	execTime  time.Duration
}

// New allocates a scheduler. bus may be nil when event fanout is not wanted.
func New(opts Options, log logx.Logger, bus eventbus.Bus) *Scheduler {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		opts:    opts,
		log:     log,
		bus:     bus,
		mu:      waitlock.New(),
		slots:   make([]*task, opts.Capacity),
		nextID:  1,
		runCtx:  ctx,
		runStop: cancel,
	}
	s.enabled.Store(true)
	return s
}

// Start opens the execution gate. Idempotent. Tasks may be created before
// Start; their workers idle until the gate opens. When ctx is non-nil its
// cancellation closes the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("start: %w", ErrInvalidState)
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	if s.mu.LockFor(s.opts.OpTimeout) {
		if s.startedAt.IsZero() {
			s.startedAt = time.Now()
		}
		s.mu.Unlock()
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = s.Close()
			case <-s.runCtx.Done():
			}
		}()
	}
	s.log.Info("scheduler started",
		logx.Int("capacity", s.opts.Capacity),
		logx.Duration("tick", s.opts.Tick))
	return nil
}

// Close stops every task and permanently retires the scheduler. Idempotent.
func (s *Scheduler) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.running.Store(false)
	err := s.stopAll(s.opts.StopTimeout)
	s.runStop()
	s.log.Info("scheduler closed")
	return err
}

// Running reports whether Start has been called and Close has not.
func (s *Scheduler) Running() bool { return s.running.Load() && !s.closed.Load() }

// SetEnabled toggles the global execution gate without touching per-task
// state. Dispatch loops keep ticking while disabled; nothing executes.
func (s *Scheduler) SetEnabled(v bool) {
	old := s.enabled.Swap(v)
	if old != v {
		s.log.Info("scheduler execution gate changed", logx.Bool("enabled", v))
	}
}

// Enabled reports the global execution gate.
func (s *Scheduler) Enabled() bool { return s.enabled.Load() }

func (s *Scheduler) gateOpen() bool {
	return s.running.Load() && s.enabled.Load() && !s.closed.Load()
}

// Create validates cfg, claims a registry slot and starts the task's
// dispatch mechanism. It returns the new task's id.
func (s *Scheduler) Create(cfg TaskConfig) (TaskID, error) {
	if err := cfg.validate(); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, fmt.Errorf("create %q: %w", cfg.Name, ErrInvalidState)
	}
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return 0, fmt.Errorf("create %q: %w", cfg.Name, ErrTimeout)
	}

	slot := s.freeSlotLocked()
	if slot < 0 {
		s.mu.Unlock()
		return 0, fmt.Errorf("create %q: %w", cfg.Name, ErrResourceExhausted)
	}
	id := s.allocIDLocked()
	t := newTask(id, cfg, s.runCtx)
	t.setState(StateReady)
	s.slots[slot] = t
	s.created++
	s.active++

	switch cfg.Type {
	case TaskDelayed:
		t.timer = time.AfterFunc(cfg.Delay, func() { s.fireDelayed(t) })
		t.nextRun.Store(time.Now().Add(cfg.Delay).UnixNano())
	default:
		go s.runWorker(t)
	}
	s.mu.Unlock()

	s.log.Debug("task created",
		logx.Uint32("id", uint32(id)),
		logx.String("task", cfg.Name),
		logx.String("type", cfg.Type.String()),
		logx.String("priority", cfg.Priority.String()))
	s.publish(EventTaskCreated, map[string]any{
		"id": uint32(id), "task": cfg.Name, "type": cfg.Type.String(),
	})
	return id, nil
}

// Delete cancels a task and frees its registry slot. Deleting an unknown or
// already-deleted id returns ErrNotFound; the registry stays consistent.
func (s *Scheduler) Delete(id TaskID) error {
	if id == 0 {
		return errInvalid("delete: task id 0")
	}
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return fmt.Errorf("delete task %d: %w", id, ErrTimeout)
	}
	idx := s.findLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("delete task %d: %w", id, ErrNotFound)
	}
	t := s.slots[idx]
	s.stopTaskLocked(t)
	s.retireLocked(t, false)
	s.slots[idx] = nil
	s.mu.Unlock()

	s.log.Debug("task deleted", logx.Uint32("id", uint32(id)), logx.String("task", t.cfg.Name))
	s.publish(EventTaskDeleted, map[string]any{"id": uint32(id), "task": t.cfg.Name})
	return nil
}

// Suspend pauses a task without losing its statistics or id. A suspended
// Delayed task's pending alarm is cancelled.
func (s *Scheduler) Suspend(id TaskID) error {
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return fmt.Errorf("suspend task %d: %w", id, ErrTimeout)
	}
	idx := s.findLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("suspend task %d: %w", id, ErrNotFound)
	}
	t := s.slots[idx]
	st := t.stateNow()
	if t.retired || st.terminal() || st == StateSuspended {
		s.mu.Unlock()
		return fmt.Errorf("suspend task %d in state %s: %w", id, st, ErrInvalidState)
	}
	if t.cfg.Type == TaskDelayed && t.timer != nil {
		// Stop() false means the alarm already fired; the callback wins.
		if !t.timer.Stop() && st == StateRunning {
			s.mu.Unlock()
			return fmt.Errorf("suspend task %d: alarm already fired: %w", id, ErrInvalidState)
		}
	}
	t.setState(StateSuspended)
	s.mu.Unlock()

	s.publish(EventTaskSuspended, map[string]any{"id": uint32(id), "task": t.cfg.Name})
	return nil
}

// Resume continues a suspended task. A Delayed task re-arms from its
// ORIGINAL delay value, not the remaining time; callers relying on precise
// fire times should delete and recreate instead.
func (s *Scheduler) Resume(id TaskID) error {
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return fmt.Errorf("resume task %d: %w", id, ErrTimeout)
	}
	idx := s.findLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("resume task %d: %w", id, ErrNotFound)
	}
	t := s.slots[idx]
	if t.stateNow() != StateSuspended {
		s.mu.Unlock()
		return fmt.Errorf("resume task %d in state %s: %w", id, t.stateNow(), ErrInvalidState)
	}
	if t.cfg.Type == TaskDelayed {
		t.setState(StateReady)
		t.timer = time.AfterFunc(t.cfg.Delay, func() { s.fireDelayed(t) })
		t.nextRun.Store(time.Now().Add(t.cfg.Delay).UnixNano())
	} else {
		t.setState(StateRunning)
	}
	s.mu.Unlock()

	s.publish(EventTaskResumed, map[string]any{"id": uint32(id), "task": t.cfg.Name})
	return nil
}

// SetPriority records a new advisory priority for the task.
func (s *Scheduler) SetPriority(id TaskID, p Priority) error {
	if p < PriorityBackground || p > PriorityCritical {
		return errInvalid("set priority: unknown priority %d", int(p))
	}
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return fmt.Errorf("set priority, task %d: %w", id, ErrTimeout)
	}
	defer s.mu.Unlock()
	idx := s.findLocked(id)
	if idx < 0 {
		return fmt.Errorf("set priority, task %d: %w", id, ErrNotFound)
	}
	s.slots[idx].prio.Store(int32(p))
	return nil
}

// SetPeriod changes a Periodic task's cycle time, effective from its next
// wake computation.
func (s *Scheduler) SetPeriod(id TaskID, d time.Duration) error {
	if d <= 0 {
		return errInvalid("set period: non-positive period %s", d)
	}
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return fmt.Errorf("set period, task %d: %w", id, ErrTimeout)
	}
	defer s.mu.Unlock()
	idx := s.findLocked(id)
	if idx < 0 {
		return fmt.Errorf("set period, task %d: %w", id, ErrNotFound)
	}
	t := s.slots[idx]
	if t.cfg.Type != TaskPeriodic {
		return errInvalid("set period on %s task %d", t.cfg.Type, int(id))
	}
	t.period.Store(int64(d))
	return nil
}

// RunNow triggers one out-of-band execution. Periodic tasks re-anchor their
// next wake; a pending Delayed task fires immediately.
func (s *Scheduler) RunNow(id TaskID) error {
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return fmt.Errorf("run now, task %d: %w", id, ErrTimeout)
	}
	idx := s.findLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("run now, task %d: %w", id, ErrNotFound)
	}
	t := s.slots[idx]
	st := t.stateNow()
	if t.retired || st.terminal() || st == StateSuspended {
		s.mu.Unlock()
		return fmt.Errorf("run now, task %d in state %s: %w", id, st, ErrInvalidState)
	}
	if t.cfg.Type == TaskDelayed {
		if t.timer != nil && t.timer.Stop() {
			t.timer = time.AfterFunc(0, func() { s.fireDelayed(t) })
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case t.kick <- struct{}{}:
	default:
		// A trigger is already pending; one run covers both requests.
	}
	return nil
}

// TaskStats returns a copy-out snapshot of one task's counters. A snapshot
// taken while the task is executing may miss the in-flight sample; the copy
// itself is always consistent.
func (s *Scheduler) TaskStats(id TaskID) (TaskStats, error) {
	if !s.mu.LockFor(s.opts.ReadTimeout) {
		return TaskStats{}, fmt.Errorf("task stats, task %d: %w", id, ErrTimeout)
	}
	defer s.mu.Unlock()
	idx := s.findLocked(id)
	if idx < 0 {
		return TaskStats{}, fmt.Errorf("task stats, task %d: %w", id, ErrNotFound)
	}
	return s.slots[idx].statsLocked(), nil
}

// Stats returns a copy-out snapshot of the scheduler-wide counters.
func (s *Scheduler) Stats() (Stats, error) {
	if !s.mu.LockFor(s.opts.ReadTimeout) {
		return Stats{}, fmt.Errorf("scheduler stats: %w", ErrTimeout)
	}
	defer s.mu.Unlock()

	st := Stats{
		Capacity:   s.opts.Capacity,
		Total:      s.created,
		Active:     s.active,
		Completed:  s.completed,
		Failed:     s.failed,
		Executions: s.execs,
		TotalExec:  s.execTime,
		Running:    s.Running(),
		Enabled:    s.enabled.Load(),
	}
	if !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt)
		if st.Uptime > 0 {
			st.CPUPercent = float64(s.execTime) / float64(st.Uptime) * 100
		}
	}
	return st, nil
}

// ClearStats zeroes one task's counters. The one-shot execution gate is not
// reset; clearing statistics never re-arms a task.
func (s *Scheduler) ClearStats(id TaskID) error {
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return fmt.Errorf("clear stats, task %d: %w", id, ErrTimeout)
	}
	defer s.mu.Unlock()
	idx := s.findLocked(id)
	if idx < 0 {
		return fmt.Errorf("clear stats, task %d: %w", id, ErrNotFound)
	}
	s.slots[idx].clearStatsLocked()
	return nil
}

// ClearAllStats zeroes every task's counters plus the scheduler-wide
// execution totals. Task lifecycle counts (created/active/completed/failed)
// are preserved.
func (s *Scheduler) ClearAllStats() error {
	if !s.mu.LockFor(s.opts.OpTimeout) {
		return fmt.Errorf("clear all stats: %w", ErrTimeout)
	}
	defer s.mu.Unlock()
	for _, t := range s.slots {
		if t != nil {
			t.clearStatsLocked()
		}
	}
	s.execs = 0
	s.execTime = 0
	return nil
}

// Tasks lists the ids of all occupied slots in ascending id order.
func (s *Scheduler) Tasks() []TaskID {
	if !s.mu.LockFor(s.opts.ReadTimeout) {
		return nil
	}
	ids := make([]TaskID, 0, len(s.slots))
	for _, t := range s.slots {
		if t != nil {
			ids = append(ids, t.id)
		}
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Exists reports whether id names a live registry entry. Best-effort: a
// busy lock reads as false.
func (s *Scheduler) Exists(id TaskID) bool {
	if id == 0 {
		return false
	}
	if !s.mu.LockFor(s.opts.ReadTimeout) {
		return false
	}
	defer s.mu.Unlock()
	return s.findLocked(id) >= 0
}

// Info returns a copy of the task's creation parameters and current state.
func (s *Scheduler) Info(id TaskID) (TaskInfo, error) {
	if !s.mu.LockFor(s.opts.ReadTimeout) {
		return TaskInfo{}, fmt.Errorf("task info, task %d: %w", id, ErrTimeout)
	}
	defer s.mu.Unlock()
	idx := s.findLocked(id)
	if idx < 0 {
		return TaskInfo{}, fmt.Errorf("task info, task %d: %w", id, ErrNotFound)
	}
	return s.slots[idx].infoLocked(), nil
}

// StopAll cancels every alarm and worker and empties the registry. Meant
// for teardown; the scheduler itself stays usable afterwards.
func (s *Scheduler) StopAll() error {
	return s.stopAll(s.opts.StopTimeout)
}

func (s *Scheduler) stopAll(bound time.Duration) error {
	deadline := time.Now().Add(bound)
	if !s.mu.LockFor(bound) {
		return fmt.Errorf("stop all: %w", ErrTimeout)
	}
	stopped := make([]*task, 0, len(s.slots))
	for i, t := range s.slots {
		if t == nil {
			continue
		}
		s.stopTaskLocked(t)
		s.retireLocked(t, false)
		s.slots[i] = nil
		stopped = append(stopped, t)
	}
	s.active = 0
	s.mu.Unlock()

	laggards := 0
	for _, t := range stopped {
		select {
		case <-t.done:
		case <-time.After(time.Until(deadline)):
			laggards++
		}
	}
	if laggards > 0 {
		s.log.Warn("workers still draining after stop bound", logx.Int("count", laggards))
	}
	if len(stopped) > 0 {
		s.log.Info("all tasks stopped", logx.Int("count", len(stopped)))
		s.publish(EventStopped, map[string]any{"stopped": len(stopped)})
	}
	return nil
}

// stopTaskLocked cancels a task's dispatch mechanism. Caller holds the lock.
func (s *Scheduler) stopTaskLocked(t *task) {
	if t.timer != nil {
		t.timer.Stop()
		// The delayed callback only closes done itself when it is the one
		// executing; a cancelled or suspended alarm has nobody else to.
		if t.stateNow() != StateRunning {
			t.closeDone()
		}
	}
	t.cancel()
}

// retireLocked performs terminal accounting exactly once per task. Caller
// holds the lock. Reports whether this call did the accounting.
func (s *Scheduler) retireLocked(t *task, taskFailed bool) bool {
	if t.retired {
		return false
	}
	t.retired = true
	s.active--
	if taskFailed {
		s.failed++
		t.setState(StateError)
	} else {
		s.completed++
		t.setState(StateCompleted)
	}
	return true
}

func (s *Scheduler) findLocked(id TaskID) int {
	for i, t := range s.slots {
		if t != nil && t.id == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) freeSlotLocked() int {
	for i, t := range s.slots {
		if t == nil {
			return i
		}
	}
	return -1
}

func (s *Scheduler) allocIDLocked() TaskID {
	for {
		id := s.nextID
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		if id == 0 {
			continue
		}
		// Skip ids still present in the registry after wraparound.
		if s.findLocked(TaskID(id)) >= 0 {
			continue
		}
		return TaskID(id)
	}
}
