package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"padbridge/internal/bridge"
	"padbridge/internal/config"
	"padbridge/internal/drive"
	"padbridge/internal/eventbus"
	"padbridge/internal/gamepad"
	"padbridge/internal/haptics"
	"padbridge/internal/jobs"
	"padbridge/internal/monitor"
	"padbridge/internal/observability/pprof"
	"padbridge/internal/runtime/supervisor"
	"padbridge/internal/sched"
	"padbridge/internal/storage"
	"padbridge/internal/telemetry"
	"padbridge/internal/transport"
	"padbridge/pkg/logx"
)

// App wires the whole daemon: scheduler, control bridge, simulated link,
// monitor, telemetry, persistence and housekeeping, all under one
// supervisor with a hot-reloadable config.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	cell *gamepad.Cell
	link *transport.Sim
	act  *drive.Sim
	fx   *haptics.Engine

	sched  *sched.Scheduler
	bridge *bridge.Bridge
	mon    *monitor.Monitor
	coll   *telemetry.Collector
	rec    *storage.Recorder
	jobs   *jobs.Service
	pprof  *pprof.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	schedOpts, err := mapSchedulerOptions(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := sched.New(schedOpts, log.With(logx.String("comp", "sched")), bus)

	// Control loop collaborators. The cell's lock wait is tied to the
	// sampling period: a cycle that cannot get the snapshot in one period
	// skips rather than stalls.
	bridgeCfg, err := mapBridgeConfig(cfg)
	if err != nil {
		return nil, err
	}
	cell := gamepad.NewCell(bridgeCfg.InputPeriod)

	simCfg, err := mapSimConfig(cfg)
	if err != nil {
		return nil, err
	}
	link := transport.NewSim(simCfg, log.With(logx.String("comp", "link")))
	act := drive.NewSim(log.With(logx.String("comp", "drive")))
	fx := haptics.New(mapHapticsConfig(cfg), link, log.With(logx.String("comp", "haptics")))

	br, err := bridge.New(bridgeCfg, bridge.Deps{
		Scheduler: schedSvc,
		Cell:      cell,
		Link:      link,
		Actuators: act,
		Haptics:   fx,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "bridge")),
	})
	if err != nil {
		return nil, err
	}

	mon := monitor.New(mapMonitorConfig(cfg), schedSvc, bus, log.With(logx.String("comp", "monitor")))

	sampleEvery, err := config.ParseDurationOrDefault("telemetry.sample_interval", cfg.Telemetry.SampleInterval, time.Second)
	if err != nil {
		return nil, err
	}
	coll := telemetry.NewCollector(sampleEvery, schedSvc, bus, log.With(logx.String("comp", "telemetry")))

	var rec *storage.Recorder
	if store != nil {
		rec = storage.NewRecorder(store, bus, log.With(logx.String("comp", "recorder")))
	}

	jobsSvc := jobs.New(mapJobsConfig(cfg), jobs.Deps{
		Scheduler: schedSvc,
		Store:     store,
		Monitor:   mon,
		Log:       log.With(logx.String("comp", "jobs")),
	})

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		cell:    cell,
		link:    link,
		act:     act,
		fx:      fx,
		sched:   schedSvc,
		bridge:  br,
		mon:     mon,
		coll:    coll,
		rec:     rec,
		jobs:    jobsSvc,
		pprof:   pprofSvc,
	}, nil
}

// Scheduler exposes the task registry for operational surfaces.
func (a *App) Scheduler() *sched.Scheduler { return a.sched }

// Bridge exposes the control bridge for operational surfaces.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// Monitor exposes the health monitor for operational surfaces.
func (a *App) Monitor() *monitor.Monitor { return a.mon }

// Done is closed once the app context unwinds, via Stop or a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error the supervisor observed, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	cfg := a.cfgm.Get()

	// Reloads are transactional: Watch runs the file through the component
	// mappers before committing, so a bad file never reaches a component.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if _, err := mapSchedulerOptions(cfg); err != nil {
			return err
		}
		if _, err := mapBridgeConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSimConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	// Registry first, then the bridge: Start registers the task pair and
	// brings the link up with the bridge as its handler.
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.bridge.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("monitor.run", a.mon.Run)
	if cfg.Monitor.WatchdogEnabled() {
		a.sup.Go("monitor.watchdog", a.mon.Watchdog)
	}

	if cfg.Telemetry.Enabled {
		addr := strings.TrimSpace(cfg.Telemetry.Addr)
		a.sup.Go("telemetry.serve", func(c context.Context) error {
			return telemetry.Serve(c, addr, a.mon.HealthCheck, a.log.With(logx.String("comp", "telemetry")))
		})
	}
	a.sup.Go("telemetry.collect", a.coll.Run)

	if a.rec != nil {
		a.sup.Go("storage.record", a.rec.Run)
	}

	if err := a.jobs.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Debug tap on the bus. Keep it at debug level: the bridge cycles
	// publish at control rates.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("bus.tap", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		prev := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				next = latest(sub, next)
				a.applyConfig(c, prev, next)
				prev = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify: ready")
	}

	a.log.Info("app started", logx.String("mode", a.bridge.Mode().String()))
	return nil
}

// latest drains sub so a burst of commits applies once, with the newest
// config winning.
func latest(sub <-chan *config.Config, have *config.Config) *config.Config {
	for {
		select {
		case next, ok := <-sub:
			if !ok {
				return have
			}
			if next != nil {
				have = next
			}
		default:
			return have
		}
	}
}

// applyConfig pushes one committed reload into the running components.
// Logging, the cycle periods and the pprof server move live; sections
// wired at construction time are called out as needing a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no effective changes)")
		return
	}

	a.logs.Apply(logx.Config{
		Level:   next.Logging.Level,
		Console: next.Logging.Console,
		File: logx.FileConfig{
			Enabled: next.Logging.File.Enabled,
			Path:    next.Logging.File.Path,
		},
	})

	if bc, err := mapBridgeConfig(next); err != nil {
		a.log.Warn("control loop config invalid; keeping previous", logx.Err(err))
	} else {
		a.retunePeriods(bc)
	}

	if ppc, err := mapPprofConfig(next); err != nil {
		a.log.Warn("pprof config invalid; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, ppc)
	}

	if stale := restartSections(prev, next, changed); len(stale) > 0 {
		a.log.Warn("config sections need a restart to take effect",
			logx.String("sections", strings.Join(stale, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// restartSections filters the diff down to sections whose values wire
// into components at construction time.
func restartSections(prev, next *config.Config, changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "scheduler", "control", "haptics", "transport", "monitor", "telemetry", "storage", "jobs":
			out = append(out, s)
		}
	}
	if prev != nil && next != nil && prev.Input.Deadzone != next.Input.Deadzone {
		out = append(out, "input.deadzone")
	}
	return out
}

// retunePeriods moves the running task pair to the reloaded periods.
// Deadzone and mixing thresholds stay fixed until restart.
func (a *App) retunePeriods(bc bridge.Config) {
	inID, outID := a.bridge.TaskIDs()
	if inID != 0 {
		if err := a.sched.SetPeriod(inID, bc.InputPeriod); err != nil {
			a.log.Warn("retune input period failed", logx.Err(err))
		}
	}
	if outID != 0 {
		if err := a.sched.SetPeriod(outID, bc.OutputPeriod); err != nil {
			a.log.Warn("retune output period failed", logx.Err(err))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	_ = a.mon.SetState(monitor.StateShutdown)

	// Cancel first so the supervised loops unwind while the components
	// drain in order.
	a.sup.Cancel()

	// Housekeeping enqueues one-shots onto the registry, so it stops ahead
	// of the bridge; the bridge deletes the task pair and parks the
	// actuators ahead of the registry itself; the store closes only after
	// every writer is down.
	steps := []struct {
		name string
		max  time.Duration
		fn   func(context.Context) error
	}{
		{"jobs", 2 * time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil }},
		{"bridge", 2 * time.Second, func(context.Context) error { return a.bridge.Stop() }},
		{"scheduler", 3 * time.Second, func(context.Context) error { return a.sched.Close() }},
		{"pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil }},
		{"supervisor", 2 * time.Second, a.sup.Wait},
		{"storage", time.Second, func(context.Context) error {
			if a.store == nil {
				return nil
			}
			return a.store.Close()
		}},
	}
	for _, s := range steps {
		a.runStep(ctx, s.name, s.max, s.fn)
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// runStep runs one shutdown step, bounded by max and the caller's
// deadline, whichever ends first. A step that overruns is left behind
// with a warning; its eventual completion still gets logged.
func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step failed",
				logx.String("step", name), logx.Err(err), logx.Duration("took", took))
			return
		}
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", took))
	case <-stepCtx.Done():
		a.log.Warn("stop step timed out",
			logx.String("step", name),
			logx.Duration("elapsed", time.Since(start)),
			logx.Int64("goroutines", a.sup.Active()))
		go func() {
			err := <-done
			a.log.Warn("stop step finished late",
				logx.String("step", name), logx.Err(err),
				logx.Duration("took", time.Since(start)))
		}()
	}
}
