package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoPropagatesFirstError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	s := New(context.Background(), WithCancelOnError(true))

	s.Go("worker", func(ctx context.Context) error {
		return errBoom
	})
	s.Go("bystander", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, errBoom) {
		t.Fatalf("Wait() = %v, want wrapped %v", err, errBoom)
	}
	if !strings.Contains(err.Error(), "worker") {
		t.Fatalf("error %q does not name the failed goroutine", err)
	}
	if s.Context().Err() == nil {
		t.Fatal("group context still live after failure with cancel-on-error")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("bomb", func(ctx context.Context) error {
		panic("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() = nil, want panic error")
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("error %q does not carry the panic value", err)
	}
}

func TestCleanExitAndCanceledAreNotFailures(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("clean", func(ctx context.Context) error {
		return nil
	})
	s.Go("obedient", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	time.Sleep(20 * time.Millisecond)
	s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestStopHonorsDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	s := New(context.Background())
	s.Go("stubborn", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want %v", err, context.DeadlineExceeded)
	}
	if got := s.Active(); got != 1 {
		t.Fatalf("Active() = %d after timed-out stop, want 1", got)
	}

	close(release)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := s.Wait(waitCtx); err != nil {
		t.Fatalf("Wait() after release = %v, want nil", err)
	}
	if got := s.Active(); got != 0 {
		t.Fatalf("Active() = %d after drain, want 0", got)
	}
}

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	s := New(context.Background())
	s.GoRestart("flapper", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("fn ran %d times, want 3", got)
	}
}

func TestGoRestartBudget(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	s := New(context.Background(), WithCancelOnError(true))
	s.GoRestart("doomed", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("doomed")
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "doomed") {
		t.Fatalf("Wait() = %v, want the exhausted goroutine's error", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("fn ran %d times, want initial run plus 2 restarts", got)
	}
	if s.Context().Err() == nil {
		t.Fatal("group context still live after restart budget spent")
	}
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	t.Parallel()

	var once sync.Once
	s := New(context.Background(), WithCancelOnError(true))
	s.GoRestart("flaky", func(ctx context.Context) error {
		var failed bool
		once.Do(func() { failed = true })
		if failed {
			return errors.New("flaky start")
		}
		<-ctx.Done()
		return ctx.Err()
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	deadline := time.Now().Add(5 * time.Second)
	for s.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("first error never published")
		}
		time.Sleep(time.Millisecond)
	}
	if !strings.Contains(s.Err().Error(), "flaky start") {
		t.Fatalf("Err() = %v, want the first failure", s.Err())
	}
	if s.Context().Err() != nil {
		t.Fatal("publishing the first error must not cancel the group")
	}

	s.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "flaky start") {
		t.Fatalf("Wait() = %v, want the published error", err)
	}
}
