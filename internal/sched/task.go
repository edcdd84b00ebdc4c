package sched

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const minExecSentinel = time.Duration(math.MaxInt64)

// task is one registry slot. The scheduler lock guards the stats block and
// the retired flag; lifecycle state, priority, period and the one-shot gate
// are atomics so dispatch loops read them without taking the lock.
type task struct {
	id  TaskID
	cfg TaskConfig

	createdAt time.Time

	state  atomic.Int32
	prio   atomic.Int32
	period atomic.Int64 // nanoseconds, TaskPeriodic only

	ctx    context.Context
	cancel context.CancelFunc

	kick     chan struct{} // RunNow signal, capacity 1
	done     chan struct{}
	doneOnce sync.Once

	timer *time.Timer // TaskDelayed only

	// ranOnce gates TaskOneShot execution. It is separate from the
	// executions counter so ClearStats cannot re-arm a one-shot.
	ranOnce atomic.Bool

	// guarded by the scheduler lock
	retired    bool
	executions uint64
	totalExec  time.Duration
	maxExec    time.Duration
	minExec    time.Duration
	missed     uint64
	errCount   uint64
	lastRun    time.Time

	nextRun atomic.Int64 // unix nanoseconds, written by the worker
}

func newTask(id TaskID, cfg TaskConfig, parent context.Context) *task {
	ctx, cancel := context.WithCancel(parent)
	t := &task{
		id:        id,
		cfg:       cfg,
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		minExec:   minExecSentinel,
	}
	t.state.Store(int32(StateCreated))
	t.prio.Store(int32(cfg.Priority))
	t.period.Store(int64(cfg.Period))
	return t
}

func (t *task) stateNow() TaskState   { return TaskState(t.state.Load()) }
func (t *task) setState(st TaskState) { t.state.Store(int32(st)) }
func (t *task) casState(from, to TaskState) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

func (t *task) priority() Priority       { return Priority(t.prio.Load()) }
func (t *task) periodDur() time.Duration { return time.Duration(t.period.Load()) }
func (t *task) closeDone()               { t.doneOnce.Do(func() { close(t.done) }) }

// statsLocked copies the counters. Caller holds the scheduler lock.
func (t *task) statsLocked() TaskStats {
	st := TaskStats{
		ID:              t.id,
		Name:            t.cfg.Name,
		Type:            t.cfg.Type,
		Priority:        t.priority(),
		State:           t.stateNow(),
		Executions:      t.executions,
		TotalExec:       t.totalExec,
		MaxExec:         t.maxExec,
		MinExec:         t.minExec,
		MissedDeadlines: t.missed,
		Errors:          t.errCount,
		CreatedAt:       t.createdAt,
		LastRun:         t.lastRun,
	}
	if t.executions == 0 {
		st.MinExec = 0
	} else {
		st.AvgExec = t.totalExec / time.Duration(t.executions)
	}
	if ns := t.nextRun.Load(); ns != 0 {
		st.NextRun = time.Unix(0, ns)
	}
	return st
}

func (t *task) clearStatsLocked() {
	t.executions = 0
	t.totalExec = 0
	t.maxExec = 0
	t.minExec = minExecSentinel
	t.missed = 0
	t.errCount = 0
	t.lastRun = time.Time{}
}

func (t *task) infoLocked() TaskInfo {
	return TaskInfo{
		ID:        t.id,
		Name:      t.cfg.Name,
		Type:      t.cfg.Type,
		Priority:  t.priority(),
		State:     t.stateNow(),
		Period:    t.periodDur(),
		Delay:     t.cfg.Delay,
		Deadline:  t.cfg.MaxExecTime,
		AutoDel:   t.cfg.AutoDelete,
		StackSize: t.cfg.StackSize,
		CreatedAt: t.createdAt,
	}
}
