// Package haptics drives the controller's rumble motors through the
// transport's output-report channel. A rate limiter caps command rate so
// per-cycle feedback (strong-turn rumble at the output task's frequency)
// cannot flood the link.
package haptics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"padbridge/pkg/logx"
)

// Mode selects how a vibration request plays out.
type Mode uint8

const (
	ModePulse Mode = iota
	ModeContinuous
	ModePattern
	ModeFeedback
	modeMax
)

func (m Mode) String() string {
	switch m {
	case ModePulse:
		return "pulse"
	case ModeContinuous:
		return "continuous"
	case ModePattern:
		return "pattern"
	case ModeFeedback:
		return "feedback"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidMode = errors.New("invalid vibration mode")
	ErrRateLimited = errors.New("vibration rate limited")
)

// Params is one vibration request. Intensities are raw motor bytes.
type Params struct {
	Left     uint8
	Right    uint8
	Duration time.Duration
	Mode     Mode

	// Pattern mode only: how many pulses and the gap between them.
	PulseCount    int
	PulseInterval time.Duration
}

// Status reports the engine's current activity.
type Status struct {
	Active    bool
	Params    Params
	StartedAt time.Time
	Remaining time.Duration
}

// Sender is the slice of the transport a haptics engine needs.
type Sender interface {
	Connected() bool
	SendOutputReport(report []byte) error
}

// Config tunes the engine.
type Config struct {
	// MaxPerSecond and Burst bound the command rate toward the link.
	MaxPerSecond float64
	Burst        int
}

func (c Config) withDefaults() Config {
	if c.MaxPerSecond <= 0 {
		c.MaxPerSecond = 15
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	return c
}

// Engine owns the rumble state machine. All sends are serialized; a new
// request supersedes whatever is playing.
type Engine struct {
	log     logx.Logger
	sender  Sender
	limiter *rate.Limiter

	mu      sync.Mutex
	enabled bool
	gen     uint64
	timer   *time.Timer
	status  Status
}

func New(cfg Config, sender Sender, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		log:     log,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), cfg.Burst),
		enabled: true,
	}
}

// Start plays a vibration request, superseding any current one. Disabled
// engines accept and ignore requests; a request past the rate limit fails
// with ErrRateLimited.
func (e *Engine) Start(p Params) error {
	if p.Mode >= modeMax {
		return fmt.Errorf("start vibration: mode %d: %w", int(p.Mode), ErrInvalidMode)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("start vibration: non-positive duration %s", p.Duration)
	}
	if p.Mode == ModePattern && p.PulseCount < 1 {
		return fmt.Errorf("start vibration: pattern needs a pulse count")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return nil
	}
	if !e.limiter.Allow() {
		return fmt.Errorf("start vibration: %w", ErrRateLimited)
	}

	e.supersedeLocked()
	if err := e.sendLocked(p.Left, p.Right); err != nil {
		return fmt.Errorf("start vibration: %w", err)
	}

	e.status = Status{Active: true, Params: p, StartedAt: time.Now()}
	gen := e.gen

	switch p.Mode {
	case ModePattern:
		e.timer = time.AfterFunc(p.Duration, func() { e.patternGap(gen, p, 1) })
	default:
		e.timer = time.AfterFunc(p.Duration, func() { e.expire(gen) })
	}

	e.log.Debug("vibration started",
		logx.String("mode", p.Mode.String()),
		logx.Int("left", int(p.Left)),
		logx.Int("right", int(p.Right)),
		logx.Duration("duration", p.Duration))
	return nil
}

// QuickPulse rumbles both motors at the same intensity for d.
func (e *Engine) QuickPulse(intensity uint8, d time.Duration) error {
	return e.Start(Params{Left: intensity, Right: intensity, Duration: d, Mode: ModePulse, PulseCount: 1})
}

// DualMotor rumbles the motors at independent intensities for d.
func (e *Engine) DualMotor(left, right uint8, d time.Duration) error {
	return e.Start(Params{Left: left, Right: right, Duration: d, Mode: ModeContinuous})
}

// Stop quiets the motors and cancels whatever is playing. Stopping while
// disconnected only clears local state; there is nothing remote to quiet.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.supersedeLocked()
	e.status.Active = false
	e.status.Remaining = 0
	if !e.sender.Connected() {
		return nil
	}
	return e.sendLocked(0, 0)
}

// Status returns a copy of the current activity with Remaining recomputed.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.status
	if st.Active {
		span := playSpan(st.Params)
		elapsed := time.Since(st.StartedAt)
		if elapsed >= span {
			st.Remaining = 0
		} else {
			st.Remaining = span - elapsed
		}
	}
	return st
}

// Active reports whether a request is currently playing.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.Active
}

// SetEnabled toggles the engine. Disabling stops the current vibration.
func (e *Engine) SetEnabled(v bool) {
	e.mu.Lock()
	if !v && e.status.Active {
		e.supersedeLocked()
		e.status.Active = false
		if e.sender.Connected() {
			_ = e.sendLocked(0, 0)
		}
	}
	e.enabled = v
	e.mu.Unlock()
	e.log.Info("vibration enable changed", logx.Bool("enabled", v))
}

// Enabled reports whether the engine accepts requests.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// supersedeLocked invalidates pending timers and pattern chains.
func (e *Engine) supersedeLocked() {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// sendLocked pushes one motor command frame: report id, reserved byte,
// then the two intensities.
func (e *Engine) sendLocked(left, right uint8) error {
	return e.sender.SendOutputReport([]byte{0x01, 0x00, left, right})
}

// expire ends a non-pattern vibration.
func (e *Engine) expire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	_ = e.sendLocked(0, 0)
	e.status.Active = false
	e.status.Remaining = 0
}

// patternGap is the off phase between pattern pulses. done counts pulses
// already played.
func (e *Engine) patternGap(gen uint64, p Params, done int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	_ = e.sendLocked(0, 0)
	if done >= p.PulseCount {
		e.status.Active = false
		e.status.Remaining = 0
		return
	}
	e.timer = time.AfterFunc(p.PulseInterval, func() { e.patternPulse(gen, p, done) })
}

// patternPulse is the on phase of pattern pulse done+1.
func (e *Engine) patternPulse(gen uint64, p Params, done int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	if err := e.sendLocked(p.Left, p.Right); err != nil {
		e.status.Active = false
		return
	}
	e.timer = time.AfterFunc(p.Duration, func() { e.patternGap(gen, p, done+1) })
}

// playSpan is the total wall time a request occupies.
func playSpan(p Params) time.Duration {
	if p.Mode != ModePattern || p.PulseCount <= 1 {
		return p.Duration
	}
	n := time.Duration(p.PulseCount)
	return n*p.Duration + (n-1)*p.PulseInterval
}
