package monitor

import (
	"fmt"
	"strings"
	"time"
)

// Report renders a human-readable health summary: states, resource usage,
// connection counters, a scheduler digest and the retained errors.
func (m *Monitor) Report() string {
	res := m.Resources()

	m.mu.Lock()
	sys := m.sysState
	conn := m.connState
	cs := m.conn
	m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "padbridge system report\n")
	fmt.Fprintf(&b, "  state:       %s\n", sys)
	fmt.Fprintf(&b, "  connection:  %s\n", conn)
	fmt.Fprintf(&b, "  healthy:     %v\n", m.HealthCheck())
	fmt.Fprintf(&b, "  uptime:      %s\n", res.Uptime.Round(time.Millisecond))
	fmt.Fprintf(&b, "  goroutines:  %d\n", res.Goroutines)
	fmt.Fprintf(&b, "  heap:        %s alloc / %s sys (%d objects, %d gc cycles)\n",
		mib(res.HeapAlloc), mib(res.HeapSys), res.HeapObjects, res.GCCycles)

	fmt.Fprintf(&b, "\nconnection\n")
	fmt.Fprintf(&b, "  attempts:        %d\n", cs.Attempts)
	fmt.Fprintf(&b, "  successes:       %d\n", cs.Successes)
	fmt.Fprintf(&b, "  failures:        %d\n", cs.Failures)
	fmt.Fprintf(&b, "  disconnections:  %d\n", cs.Disconnections)
	fmt.Fprintf(&b, "  success rate:    %.1f%%\n", cs.SuccessRate)
	fmt.Fprintf(&b, "  avg connect:     %s\n", cs.AvgConnect)
	fmt.Fprintf(&b, "  packets:         %d sent / %d received\n", cs.PacketsSent, cs.PacketsRecv)
	fmt.Fprintf(&b, "  errors:          %d\n", cs.Errors)

	if m.sched != nil {
		if st, err := m.sched.Stats(); err == nil {
			fmt.Fprintf(&b, "\nscheduler\n")
			fmt.Fprintf(&b, "  running:  %v (enabled %v)\n", st.Running, st.Enabled)
			fmt.Fprintf(&b, "  tasks:    %d active / %d slots (%d created, %d completed, %d failed)\n",
				st.Active, st.Capacity, st.Total, st.Completed, st.Failed)
			fmt.Fprintf(&b, "  load:     %.1f%% of wall time in task bodies\n", st.CPUPercent)
		}
		for _, id := range m.sched.Tasks() {
			ts, err := m.sched.TaskStats(id)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "  [%3d] %-16s %-11s %-10s runs %-6d miss %-4d err %-4d avg %s\n",
				uint32(ts.ID), ts.Name, ts.Type, ts.Priority,
				ts.Executions, ts.MissedDeadlines, ts.Errors, ts.AvgExec)
		}
	}

	if errs := m.Errors(); len(errs) > 0 {
		fmt.Fprintf(&b, "\nrecent errors\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "  %s  code %d  sev %d  %s\n",
				e.Time.Format("2006-01-02T15:04:05Z07:00"), e.Code, e.Severity, e.Message)
		}
	}
	return b.String()
}

func mib(v uint64) string {
	return fmt.Sprintf("%.1f MiB", float64(v)/(1<<20))
}
