package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"padbridge/pkg/logx"
)

// SimConfig tunes the simulated link.
type SimConfig struct {
	// ReportInterval is the spacing of synthesized input reports.
	ReportInterval time.Duration
	// SessionTTL drops the session after this long, forcing a reconnect.
	// Zero keeps a session up until Stop.
	SessionTTL time.Duration
	// DialFailures makes that many dial attempts fail before the first
	// session comes up, exercising the reconnect backoff deterministically.
	DialFailures int
	// ReconnectMin/Max bound the jittered exponential redial backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c SimConfig) withDefaults() SimConfig {
	if c.ReportInterval <= 0 {
		c.ReportInterval = 10 * time.Millisecond
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 100 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 5 * time.Second
	}
	return c
}

// Sim is the bench link: it synthesizes input reports at a fixed rate,
// drops and re-establishes sessions on demand, and records output reports
// instead of radioing them. The reconnect path is the same shape a real
// radio link would use.
type Sim struct {
	cfg SimConfig
	log logx.Logger

	conn     atomic.Bool
	frame    atomic.Uint32
	failLeft atomic.Int32

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	stopped chan struct{}
	handler Handler
	outbox  [][]byte
	sent    uint64
}

// outboxCap bounds how many recent output reports Sim retains.
const outboxCap = 32

func NewSim(cfg SimConfig, log logx.Logger) *Sim {
	s := &Sim{cfg: cfg.withDefaults(), log: log}
	s.failLeft.Store(int32(s.cfg.DialFailures))
	return s
}

func (l *Sim) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("start link: nil handler")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("start link: %w", ErrAlreadyStarted)
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.started = true
	l.cancel = cancel
	l.stopped = make(chan struct{})
	l.handler = h
	l.mu.Unlock()

	go l.run(runCtx)
	l.log.Info("simulated link started",
		logx.Duration("report_interval", l.cfg.ReportInterval),
		logx.Int("dial_failures", l.cfg.DialFailures))
	return nil
}

func (l *Sim) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = false
	cancel, stopped := l.cancel, l.stopped
	l.mu.Unlock()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		l.log.Warn("link pump still draining at stop")
	}
	return nil
}

func (l *Sim) Connected() bool { return l.conn.Load() }

func (l *Sim) SendOutputReport(report []byte) error {
	if !l.conn.Load() {
		return fmt.Errorf("send output report: %w", ErrNotConnected)
	}
	cp := make([]byte, len(report))
	copy(cp, report)

	l.mu.Lock()
	l.outbox = append(l.outbox, cp)
	if len(l.outbox) > outboxCap {
		l.outbox = l.outbox[len(l.outbox)-outboxCap:]
	}
	l.sent++
	l.mu.Unlock()

	l.log.Debug("output report sent", logx.Int("len", len(report)))
	return nil
}

// SentReports returns a copy of the retained output reports, oldest first.
func (l *Sim) SentReports() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.outbox))
	for i, r := range l.outbox {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// SentCount returns how many output reports have been accepted in total.
func (l *Sim) SentCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// run is the connect/pump/reconnect loop. One iteration is one session.
func (l *Sim) run(ctx context.Context) {
	defer close(l.stopped)
	for ctx.Err() == nil {
		if err := l.dial(ctx); err != nil {
			return
		}
		s := Session{ID: uuid.New(), Opened: time.Now()}
		l.conn.Store(true)
		l.log.Info("session opened", logx.String("session", s.ID.String()))
		l.handlerRef().OnOpen(s)

		reason := l.pump(ctx, s)
		l.conn.Store(false)
		l.log.Info("session closed",
			logx.String("session", s.ID.String()),
			logx.Err(reason))
		l.handlerRef().OnClose(s, reason)
	}
}

// dial blocks until a simulated connection attempt succeeds, backing off
// exponentially with jitter between failures. Only ctx cancellation makes
// it return an error.
func (l *Sim) dial(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.cfg.ReconnectMin
	policy.MaxInterval = l.cfg.ReconnectMax
	policy.MaxElapsedTime = 0

	attempt := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if l.failLeft.Add(-1) >= 0 {
			l.log.Debug("dial attempt failed")
			return errors.New("dial failed")
		}
		return nil
	}
	return backoff.Retry(attempt, backoff.WithContext(policy, ctx))
}

// pump synthesizes input reports until the session ends.
func (l *Sim) pump(ctx context.Context, s Session) error {
	tick := time.NewTicker(l.cfg.ReportInterval)
	defer tick.Stop()

	var ttl <-chan time.Time
	if l.cfg.SessionTTL > 0 {
		tm := time.NewTimer(l.cfg.SessionTTL)
		defer tm.Stop()
		ttl = tm.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ttl:
			return ErrSessionExpired
		case <-tick.C:
			l.handlerRef().OnReport(s, l.nextReport())
		}
	}
}

// nextReport sweeps the left stick X axis through its full range with
// everything else neutral. No buttons: synthesized input must never
// trigger mode switches or emergency stops.
func (l *Sim) nextReport() []byte {
	n := l.frame.Add(1)
	return []byte{0x00, 0x00, byte(n), 128, 128, 128, 0, 0}
}

func (l *Sim) handlerRef() Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler
}
