package sched

import (
	"time"

	"padbridge/internal/eventbus"
)

// Event types published to the bus. Publishing is non-blocking; slow
// subscribers drop events rather than stalling dispatch loops.
const (
	EventTaskCreated    = "sched.task.created"
	EventTaskDeleted    = "sched.task.deleted"
	EventTaskCompleted  = "sched.task.completed"
	EventTaskFailed     = "sched.task.failed"
	EventTaskSuspended  = "sched.task.suspended"
	EventTaskResumed    = "sched.task.resumed"
	EventDeadlineMissed = "sched.deadline.missed"
	EventStopped        = "sched.stopped"
)

func (s *Scheduler) publish(typ string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
