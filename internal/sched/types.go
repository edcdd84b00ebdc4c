package sched

import (
	"context"
	"time"
)

// TaskID identifies a scheduled task. IDs are assigned monotonically and
// never reused until uint32 wraparound; 0 is reserved as "no task".
type TaskID uint32

// TaskType selects the re-execution policy of a task. It is fixed at
// creation.
type TaskType int

const (
	// TaskPeriodic runs the body every Period, anchored to absolute wake
	// times so cycles do not drift.
	TaskPeriodic TaskType = iota
	// TaskOneShot runs the body exactly once, as soon as the worker starts.
	TaskOneShot
	// TaskDelayed runs the body exactly once, Delay after creation, in
	// timer-callback context. Bodies must be short and must not block.
	TaskDelayed
	// TaskConditional evaluates Condition every tick and runs the body on
	// cycles where it reports true.
	TaskConditional

	taskTypeMax
)

func (t TaskType) String() string {
	switch t {
	case TaskPeriodic:
		return "periodic"
	case TaskOneShot:
		return "oneshot"
	case TaskDelayed:
		return "delayed"
	case TaskConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// Priority is an ordered hint recorded per task. The Go runtime schedules
// goroutines without priorities, so this is advisory: it is carried in
// statistics, logs and events for operators, not consumed by the runtime.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TaskState is the lifecycle state of a task.
type TaskState int32

const (
	StateCreated TaskState = iota
	StateReady
	StateRunning
	StateSuspended
	StateCompleted
	StateError
)

func (s TaskState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s TaskState) terminal() bool { return s == StateCompleted || s == StateError }

// TaskFunc is a task body. The context is canceled when the task is deleted
// or the scheduler shuts down; long bodies should honor it. A non-nil error
// is counted against the task, it does not stop the scheduler.
type TaskFunc func(ctx context.Context) error

// Condition gates a Conditional task. It is evaluated fresh on every cycle,
// outside the registry lock.
type Condition func() bool

// CompletionFunc is invoked once when a task reaches a terminal state on its
// own (not when it is deleted externally). ok is false if the final
// execution returned an error or panicked.
type CompletionFunc func(id TaskID, ok bool)

// TaskConfig describes a task to Create.
type TaskConfig struct {
	Name     string
	Type     TaskType
	Priority Priority

	// Func is the work body. Required.
	Func TaskFunc
	// Condition is required for TaskConditional and ignored otherwise.
	Condition Condition
	// OnComplete, if set, fires after the task completes on its own.
	OnComplete CompletionFunc

	// Period is the cycle time of a TaskPeriodic. Required > 0 for that type.
	Period time.Duration
	// Delay is the arming delay of a TaskDelayed.
	Delay time.Duration

	// MaxExecTime is a soft deadline. Executions that run longer are
	// recorded as missed deadlines and logged; they are never aborted.
	MaxExecTime time.Duration

	// AutoDelete frees the registry slot as soon as the task completes.
	AutoDelete bool

	// StackSize is advisory. Goroutine stacks grow on demand; the value is
	// retained only so callers porting fixed-stack configurations keep
	// their numbers visible in Info.
	StackSize int
}

// TaskStats is a copy-out snapshot of one task's counters.
type TaskStats struct {
	ID       TaskID
	Name     string
	Type     TaskType
	Priority Priority
	State    TaskState

	Executions      uint64
	TotalExec       time.Duration
	AvgExec         time.Duration
	MaxExec         time.Duration
	MinExec         time.Duration // 0 until the first execution
	MissedDeadlines uint64
	Errors          uint64

	CreatedAt time.Time
	LastRun   time.Time
	NextRun   time.Time
}

// Stats is a copy-out snapshot of scheduler-wide counters.
type Stats struct {
	Capacity  int
	Total     uint64 // tasks ever created
	Active    int
	Completed uint64
	Failed    uint64

	Executions uint64
	TotalExec  time.Duration

	// CPUPercent estimates how much of the wall time since Start was spent
	// inside task bodies. Coarse by design.
	CPUPercent float64
	Uptime     time.Duration

	Running bool
	Enabled bool
}

// TaskInfo is a copy of a task's creation parameters plus its current state.
type TaskInfo struct {
	ID        TaskID
	Name      string
	Type      TaskType
	Priority  Priority
	State     TaskState
	Period    time.Duration
	Delay     time.Duration
	Deadline  time.Duration
	AutoDel   bool
	StackSize int
	CreatedAt time.Time
}

// Options tunes a Scheduler instance. The zero value is usable.
type Options struct {
	// Capacity is the fixed registry size. Default 32.
	Capacity int

	// Tick is the sleep slice for Conditional (and post-execution OneShot)
	// workers. Default 10ms.
	Tick time.Duration

	// OpTimeout bounds lock acquisition for structural operations
	// (create/delete/suspend/resume/clear). Default 1s.
	OpTimeout time.Duration
	// ReadTimeout bounds lock acquisition for snapshot reads. Default 100ms.
	ReadTimeout time.Duration
	// StopTimeout bounds StopAll and Close. Default 2s.
	StopTimeout time.Duration
}

const (
	defaultCapacity    = 32
	defaultTick        = 10 * time.Millisecond
	defaultOpTimeout   = 1000 * time.Millisecond
	defaultReadTimeout = 100 * time.Millisecond
	defaultStopTimeout = 2000 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = defaultCapacity
	}
	if o.Tick <= 0 {
		o.Tick = defaultTick
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = defaultOpTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = defaultStopTimeout
	}
	return o
}

func (c TaskConfig) validate() error {
	if c.Type < 0 || c.Type >= taskTypeMax {
		return errInvalid("unknown task type %d", int(c.Type))
	}
	if c.Func == nil {
		return errInvalid("task %q has no work function", c.Name)
	}
	switch c.Type {
	case TaskPeriodic:
		if c.Period <= 0 {
			return errInvalid("periodic task %q needs a positive period", c.Name)
		}
	case TaskDelayed:
		if c.Delay < 0 {
			return errInvalid("delayed task %q has a negative delay", c.Name)
		}
	case TaskConditional:
		if c.Condition == nil {
			return errInvalid("conditional task %q has no condition", c.Name)
		}
	}
	if c.MaxExecTime < 0 {
		return errInvalid("task %q has a negative max execution time", c.Name)
	}
	return nil
}
