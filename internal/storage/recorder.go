package storage

import (
	"context"
	"errors"
	"time"

	"padbridge/internal/eventbus"
	"padbridge/pkg/logx"
)

// Recorder turns bus traffic into the persistent event log. Callers
// skip starting it when storage is disabled.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	events      <-chan eventbus.Event
	unsubscribe func()
}

// NewRecorder subscribes immediately so the first session of a boot makes
// it into the archive even when Run starts a beat later.
func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	r := &Recorder{store: store, bus: bus, log: log, unsubscribe: func() {}}
	if bus != nil {
		r.events, r.unsubscribe = bus.Subscribe(128)
	}
	return r
}

// Run consumes bus events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsubscribe()
	if r.store == nil || r.bus == nil {
		return errors.New("recorder needs a store and a bus")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-r.events:
			if !ok {
				return nil
			}
			r.record(ctx, e)
		}
	}
}

func (r *Recorder) record(ctx context.Context, e eventbus.Event) {
	rec, ok := mapEvent(e)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.store.AppendEvent(wctx, rec); err != nil {
		r.log.Debug("event record dropped", logx.String("kind", rec.Kind), logx.Err(err))
	}
}

// mapEvent translates the bus vocabulary into archive records. Types
// are matched by wire string because the publishing packages sit above
// storage in the import graph.
func mapEvent(e eventbus.Event) (EventRecord, bool) {
	switch e.Type {
	case "bridge.session.opened":
		return EventRecord{
			At:      e.Time,
			Kind:    KindConnection,
			Subject: dataStr(e.Data, "session"),
			Detail:  "opened",
		}, true
	case "bridge.session.closed":
		detail := "closed"
		if reason := dataStr(e.Data, "reason"); reason != "" {
			detail += ": " + reason
		}
		return EventRecord{
			At:      e.Time,
			Kind:    KindConnection,
			Subject: dataStr(e.Data, "session"),
			Detail:  detail,
		}, true
	case "bridge.mode.switched":
		return EventRecord{
			At:      e.Time,
			Kind:    KindModeSwitch,
			Subject: dataStr(e.Data, "to"),
			Detail:  dataStr(e.Data, "from") + " to " + dataStr(e.Data, "to"),
		}, true
	case "sched.task.failed":
		return EventRecord{
			At:      e.Time,
			Kind:    KindTaskFailure,
			Subject: dataStr(e.Data, "task"),
			Detail:  dataStr(e.Data, "error"),
		}, true
	}
	return EventRecord{}, false
}

func dataStr(data any, key string) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
