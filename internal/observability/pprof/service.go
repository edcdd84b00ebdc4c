// Package pprof serves the runtime profiling endpoints over HTTP, guarded
// against accidental exposure: non-loopback binds require a token or an
// explicit insecure override.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"padbridge/internal/runtime/supervisor"
	"padbridge/pkg/logx"
)

// Config controls the profiling server and the runtime profile rates.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// Service hosts the profiling endpoints under a private supervisor so a
// dying listener restarts itself instead of taking the process down.
type Service struct {
	log logx.Logger

	mu       sync.Mutex
	cfg      Config
	ln       net.Listener
	srv      *http.Server
	sup      *supervisor.Supervisor
	stopping chan struct{}
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Reconfigure applies cfg, adjusting runtime profile rates and starting,
// stopping or rebinding the server as needed. Safe to call from the
// config reload path while the server is live.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	setProfileRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	live := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !live:
		s.Start(ctx)
	case rebindNeeded(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// rebindNeeded reports whether the change forces a listener rebuild.
// Profile rates apply in place and are zeroed out of the comparison.
func rebindNeeded(prev, next Config) bool {
	prev.MutexProfileFraction, next.MutexProfileFraction = 0, 0
	prev.BlockProfileRate, next.BlockProfileRate = 0, 0
	prev.MemProfileRate, next.MemProfileRate = 0, 0
	prev.Enabled, next.Enabled = false, false
	prev.Prefix = normalizePrefix(prev.Prefix)
	next.Prefix = normalizePrefix(next.Prefix)
	return prev != next
}

// setProfileRates applies the runtime-level profile knobs. They take
// effect even while the HTTP server is disabled, so profiles accumulate
// before anyone attaches.
func setProfileRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

// Start brings the server up when enabled and not already running. A stop
// still in flight is waited out first so Stop/Start sequences never
// interleave teardown with a fresh listener.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		s.mu.Lock()
		if s.stopping != nil {
			done := s.stopping
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
		s.sup = sup
		s.mu.Unlock()

		sup.GoRestart("pprof.serve", s.serveOnce,
			supervisor.WithPublishFirstError(true),
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
		return
	}
}

// Stop tears the server down, bounded by ctx. The teardown itself always
// runs to completion in the background, even when ctx expires first.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopping != nil {
		done := s.stopping
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopping = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)

		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln = nil
		s.srv = nil
		s.sup = nil
		s.stopping = nil
		s.mu.Unlock()
		s.log.Info("pprof stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// serveOnce binds the listener and serves until the supervisor context is
// canceled. It runs as a restart-loop body: any return other than
// context.Canceled is a failure the loop retries.
func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		return context.Canceled
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}

	switch {
	case cfg.Token != "" || LoopbackAddr(addr):
	case cfg.AllowInsecure:
		s.log.Warn("pprof exposed without auth", logx.String("addr", addr))
	default:
		s.log.Error("pprof bind refused", logx.String("addr", addr))
		return fmt.Errorf("refusing %s without a token (set allow_insecure to override)", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	prefix := normalizePrefix(cfg.Prefix)
	srv := &http.Server{
		Handler:      routes(prefix, cfg.Token),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	// Serve does not watch ctx on its own.
	stop := context.AfterFunc(ctx, func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	})
	defer stop()

	s.log.Info("pprof listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", prefix),
		logx.Bool("token", cfg.Token != ""))

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	tearingDown := s.stopping != nil
	s.mu.Unlock()

	if tearingDown || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("listener closed unexpectedly")
	}
	return err
}
