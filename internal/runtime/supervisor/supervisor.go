// Package supervisor runs named goroutines under one shared context with
// panic recovery, first-error capture and bounded shutdown waits.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"padbridge/pkg/logx"
)

// Supervisor ties a group of goroutines to one context. Each goroutine is
// started under a name that shows up in logs; panics are recovered and
// recorded instead of crashing the process. The first failure wins: it is
// kept for Err and, with WithCancelOnError, cancels the whole group.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg     sync.WaitGroup
	active atomic.Int64

	mu       sync.Mutex
	firstErr error

	waitOnce sync.Once
	idle     chan struct{}
}

// Option configures a Supervisor at construction.
type Option func(*Supervisor)

// WithLogger sets the logger used for lifecycle and panic reports.
func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the whole group when any goroutine fails.
func WithCancelOnError(on bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = on }
}

// New derives a group context from parent. Goroutines started later run
// until that context is canceled via Cancel, Stop or, with
// WithCancelOnError, a sibling's failure.
func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, idle: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Context is the shared group context.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel asks every goroutine to unwind. It does not wait; pair it with Wait.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure observed, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Active reports how many supervised goroutines are currently running.
// It is an operational gauge, not a synchronization primitive.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Go starts fn under the group context. A panic or a non-nil return other
// than context.Canceled counts as the goroutine's failure.
func (s *Supervisor) Go(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		if err := s.run(name, fn); err != nil {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Go0 adapts a function without an error return.
func (s *Supervisor) Go0(name string, fn func(context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// run executes one pass of fn, turning panics into errors.
func (s *Supervisor) run(name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	s.log.Debug("goroutine started", logx.String("name", name))
	err = fn(s.ctx)
	s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// record keeps the first error for Err and reports whether err was it.
func (s *Supervisor) record(err error) bool {
	if err == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstErr != nil {
		return false
	}
	s.firstErr = err
	return true
}

// fail records err and, when configured, brings the group down.
func (s *Supervisor) fail(err error) {
	if !s.record(err) {
		return
	}
	s.log.Warn("supervised goroutine failed", logx.Err(err))
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels the group and waits for it to drain, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx expires. On a
// clean drain it returns the group's first error, if any.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})

	select {
	case <-s.idle:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
