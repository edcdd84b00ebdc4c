// Package jobs runs the housekeeping schedules: periodic scheduler
// stats snapshots, storage retention sweeps and monitor report dumps.
// Cron only decides when; each firing is handed to the scheduler as a
// one-shot task so housekeeping shows up in the same accounting as the
// control loops.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"padbridge/internal/monitor"
	"padbridge/internal/sched"
	"padbridge/internal/storage"
	"padbridge/pkg/logx"
)

// Config holds the cron specs. An empty spec disables that job.
type Config struct {
	Snapshot string // scheduler stats snapshot -> storage
	Prune    string // storage retention sweep
	Report   string // monitor report -> log
}

// DefaultConfig returns the stock schedules.
func DefaultConfig() Config {
	return Config{
		Snapshot: "@every 1m",
		Prune:    "@every 1h",
		Report:   "@every 5m",
	}
}

// Deps are the collaborators. Store and Monitor may be nil; jobs that
// need them are skipped.
type Deps struct {
	Scheduler *sched.Scheduler
	Store     storage.Store
	Monitor   *monitor.Monitor
	Log       logx.Logger
}

const jobTimeout = 5 * time.Second

type Service struct {
	cfg   Config
	log   logx.Logger
	sched *sched.Scheduler
	store storage.Store
	mon   *monitor.Monitor

	parser cron.Parser

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, d Deps) *Service {
	return &Service{
		cfg:   cfg,
		log:   d.Log,
		sched: d.Scheduler,
		store: d.Store,
		mon:   d.Monitor,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers the configured schedules and starts cron triggering.
func (s *Service) Start(ctx context.Context) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New(cron.WithParser(s.parser))

	jobs := 0
	add := func(name, spec string, job func(ctx context.Context) error) error {
		if strings.TrimSpace(spec) == "" {
			return nil
		}
		if _, err := c.AddFunc(spec, func() { s.enqueue(name, job) }); err != nil {
			return fmt.Errorf("job %s spec %q: %w", name, spec, err)
		}
		jobs++
		return nil
	}

	if s.store != nil {
		if err := add("stats_snapshot", s.cfg.Snapshot, s.snapshotJob); err != nil {
			return err
		}
		if err := add("storage_prune", s.cfg.Prune, s.pruneJob); err != nil {
			return err
		}
	}
	if s.mon != nil {
		if err := add("monitor_report", s.cfg.Report, s.reportJob); err != nil {
			return err
		}
	}

	s.c = c
	c.Start()
	s.log.Info("housekeeping started", logx.Int("jobs", jobs))
	return nil
}

// Stop halts cron triggering. Firings already handed to the scheduler
// finish under its own shutdown rules.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("housekeeping stopped")
}

// enqueue hands a firing to the scheduler as an auto-deleted one-shot.
func (s *Service) enqueue(name string, job func(ctx context.Context) error) {
	_, err := s.sched.Create(sched.TaskConfig{
		Name:        name,
		Type:        sched.TaskOneShot,
		Priority:    sched.PriorityBackground,
		MaxExecTime: jobTimeout,
		AutoDelete:  true,
		Func:        job,
	})
	if err != nil {
		s.log.Warn("housekeeping enqueue failed", logx.String("job", name), logx.Err(err))
	}
}

func (s *Service) snapshotJob(ctx context.Context) error {
	st, err := s.sched.Stats()
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	sn := storage.StatsSnapshot{
		Active:     st.Active,
		Total:      st.Total,
		Completed:  st.Completed,
		Failed:     st.Failed,
		Executions: st.Executions,
		CPUPercent: st.CPUPercent,
		Uptime:     st.Uptime,
	}
	if err := s.store.AppendSnapshot(ctx, sn); err != nil {
		return fmt.Errorf("snapshot append: %w", err)
	}
	return nil
}

func (s *Service) pruneJob(ctx context.Context) error {
	// Zero keep defers to the store's configured retention.
	if err := s.store.Prune(ctx, 0); err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return nil
}

func (s *Service) reportJob(ctx context.Context) error {
	_ = ctx
	s.log.Info("system report", logx.String("report", s.mon.Report()))
	return nil
}
