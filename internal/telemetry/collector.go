package telemetry

import (
	"context"
	"time"

	"padbridge/internal/eventbus"
	"padbridge/internal/sched"
	"padbridge/pkg/logx"
)

// DefaultSampleInterval is how often the collector folds scheduler
// statistics into the exported counters when no interval is given.
const DefaultSampleInterval = time.Second

type taskCounts struct {
	executions uint64
	misses     uint64
	errors     uint64
}

// Collector bridges scheduler statistics and bus events into the package
// metrics. Per-task totals live in the scheduler; the collector samples
// them and exports the deltas so Prometheus sees proper counters.
type Collector struct {
	sched    *sched.Scheduler
	bus      eventbus.Bus
	log      logx.Logger
	interval time.Duration
	last     map[sched.TaskID]taskCounts

	events      <-chan eventbus.Event
	unsubscribe func()
}

// NewCollector returns a collector sampling sch every interval and
// consuming session events from bus. Both sch and bus may be nil, which
// disables the corresponding source. A non-positive interval falls back
// to DefaultSampleInterval. The bus subscription is taken here so events
// published before Run starts still count.
func NewCollector(interval time.Duration, sch *sched.Scheduler, bus eventbus.Bus, log logx.Logger) *Collector {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	c := &Collector{
		sched:       sch,
		bus:         bus,
		log:         log,
		interval:    interval,
		last:        make(map[sched.TaskID]taskCounts),
		unsubscribe: func() {},
	}
	if bus != nil {
		c.events, c.unsubscribe = bus.Subscribe(64)
	}
	return c
}

// Run samples and consumes until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	defer c.unsubscribe()

	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	c.log.Debug("telemetry collector running", logx.Duration("interval", c.interval))
	events := c.events
	for {
		select {
		case <-ctx.Done():
			c.sample()
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.consume(e)
		case <-tick.C:
			c.sample()
		}
	}
}

// consume matches event types by their wire strings. The publishing
// packages sit above telemetry in the import graph, so their constants
// are out of reach here.
func (c *Collector) consume(e eventbus.Event) {
	switch e.Type {
	case "bridge.session.opened":
		ConnectionEvents.WithLabelValues("opened").Inc()
	case "bridge.session.closed":
		ConnectionEvents.WithLabelValues("closed").Inc()
	case "monitor.watchdog.skipped":
		WatchdogSkips.Inc()
	}
}

// sample exports the growth of each task's totals since the previous
// sample. Tasks deleted between samples drop out of the baseline; their
// final partial delta is lost, which keeps the counters monotonic.
func (c *Collector) sample() {
	if c.sched == nil {
		return
	}
	ids := c.sched.Tasks()
	ActiveTasks.Set(float64(len(ids)))

	seen := make(map[sched.TaskID]struct{}, len(ids))
	for _, id := range ids {
		st, err := c.sched.TaskStats(id)
		if err != nil {
			continue
		}
		seen[id] = struct{}{}
		prev := c.last[id]
		if st.Executions < prev.executions || st.MissedDeadlines < prev.misses || st.Errors < prev.errors {
			// ClearStats restarted the totals. Rebase so the counters
			// absorb the post-clear growth instead of underflowing.
			prev = taskCounts{}
		}
		if d := st.Executions - prev.executions; d > 0 {
			TaskExecutions.WithLabelValues(st.Name).Add(float64(d))
		}
		if d := st.MissedDeadlines - prev.misses; d > 0 {
			DeadlineMisses.WithLabelValues(st.Name).Add(float64(d))
		}
		if d := st.Errors - prev.errors; d > 0 {
			TaskErrors.WithLabelValues(st.Name).Add(float64(d))
		}
		c.last[id] = taskCounts{
			executions: st.Executions,
			misses:     st.MissedDeadlines,
			errors:     st.Errors,
		}
	}
	for id := range c.last {
		if _, ok := seen[id]; !ok {
			delete(c.last, id)
		}
	}
}
