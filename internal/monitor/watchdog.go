package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"padbridge/pkg/logx"
)

// Watchdog feeds the systemd watchdog at half the interval the unit asks
// for, skipping beats while the health check fails so systemd restarts a
// wedged process. Returns nil immediately when no watchdog is configured.
func (m *Monitor) Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("watchdog probe: %w", err)
	}
	if interval == 0 {
		m.log.Debug("systemd watchdog not requested")
		return nil
	}
	m.log.Info("feeding systemd watchdog", logx.Duration("interval", interval))
	return m.watchdogLoop(ctx, interval/2, func() error {
		_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		return err
	})
}

func (m *Monitor) watchdogLoop(ctx context.Context, every time.Duration, notify func() error) error {
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if !m.HealthCheck() {
				m.log.Warn("skipping watchdog feed while unhealthy",
					logx.String("state", m.State().String()))
				m.publish(EventWatchdogSkipped, map[string]any{"state": m.State().String()})
				continue
			}
			if err := notify(); err != nil {
				m.log.Warn("watchdog feed failed", logx.Err(err))
			}
		}
	}
}
