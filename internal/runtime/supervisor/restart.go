package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"padbridge/pkg/logx"
)

// RestartOption tunes a single GoRestart call.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	initial time.Duration
	cap     time.Duration
	limit   int
	publish bool
}

// WithRestartBackoff sets the initial and maximum delay between restarts.
func WithRestartBackoff(initial, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if initial > 0 {
			p.initial = initial
		}
		if max > 0 {
			p.cap = max
		}
	}
}

// WithMaxRestarts bounds how many times fn is restarted after a failure.
// Once the budget is spent the last error becomes the group's failure.
// Zero or negative means unlimited.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.limit = n }
}

// WithPublishFirstError records fn's first failure in Err even while the
// restart loop keeps the goroutine alive. Without it only a spent restart
// budget surfaces an error.
func WithPublishFirstError(on bool) RestartOption {
	return func(p *restartPolicy) { p.publish = on }
}

// GoRestart runs fn like Go, but restarts it with exponential backoff when
// it fails. A clean return or group cancellation ends the loop. Runs that
// survive for a while reset the backoff so a flapping dependency does not
// permanently inflate the delay.
func (s *Supervisor) GoRestart(name string, fn func(context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	pol := restartPolicy{initial: 250 * time.Millisecond, cap: 30 * time.Second}
	for _, o := range opts {
		o(&pol)
	}

	s.Go0(name+".loop", func(ctx context.Context) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = pol.initial
		bo.MaxInterval = pol.cap
		bo.MaxElapsedTime = 0
		bo.Reset()

		for attempt := 0; ; attempt++ {
			began := time.Now()
			err := s.run(name, fn)
			if ctx.Err() != nil || err == nil {
				return
			}

			wrapped := fmt.Errorf("%s: %w", name, err)
			if pol.publish {
				s.record(wrapped)
			}
			if pol.limit > 0 && attempt+1 > pol.limit {
				s.log.Error("restart budget exhausted",
					logx.String("name", name),
					logx.Int("restarts", attempt),
					logx.Err(err))
				s.fail(wrapped)
				return
			}

			if time.Since(began) >= time.Minute {
				bo.Reset()
			}
			delay := bo.NextBackOff()
			s.log.Warn("restarting goroutine",
				logx.String("name", name),
				logx.Duration("delay", delay),
				logx.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	})
}
