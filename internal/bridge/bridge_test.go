package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"padbridge/internal/drive"
	"padbridge/internal/gamepad"
	"padbridge/internal/haptics"
	"padbridge/internal/sched"
	"padbridge/internal/transport"
	"padbridge/pkg/logx"
)

// fakeLink is a hand-cranked transport: the test decides when it is
// connected and inspects what was sent. It doubles as the haptics sender,
// the same wiring the real system uses.
type fakeLink struct {
	conn    atomic.Bool
	started atomic.Bool

	mu     sync.Mutex
	h      transport.Handler
	frames [][]byte
}

func (l *fakeLink) Start(ctx context.Context, h transport.Handler) error {
	if !l.started.CompareAndSwap(false, true) {
		return transport.ErrAlreadyStarted
	}
	l.mu.Lock()
	l.h = h
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Stop() error {
	l.started.Store(false)
	l.conn.Store(false)
	return nil
}

func (l *fakeLink) Connected() bool { return l.conn.Load() }

func (l *fakeLink) SendOutputReport(report []byte) error {
	if !l.conn.Load() {
		return transport.ErrNotConnected
	}
	cp := append([]byte(nil), report...)
	l.mu.Lock()
	l.frames = append(l.frames, cp)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) sentFrames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.frames...)
}

// loudCount counts frames commanding nonzero intensity. Expiry timers
// append quiet frames on their own schedule, so exact totals would race.
func loudCount(frames [][]byte) int {
	n := 0
	for _, f := range frames {
		if len(f) == 4 && (f[2] != 0 || f[3] != 0) {
			n++
		}
	}
	return n
}

func newTestBridge(t *testing.T, cfg Config) (*Bridge, *fakeLink, *drive.Sim) {
	t.Helper()

	link := &fakeLink{}
	link.conn.Store(true)
	sim := drive.NewSim(logx.Nop())
	fx := haptics.New(haptics.Config{MaxPerSecond: 1000, Burst: 100}, link, logx.Nop())
	sch := sched.New(sched.Options{}, logx.Nop(), nil)
	t.Cleanup(func() { _ = sch.Close() })

	b, err := New(cfg, Deps{
		Scheduler: sch,
		Cell:      gamepad.NewCell(0),
		Link:      link,
		Actuators: sim,
		Haptics:   fx,
		Log:       logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, link, sim
}

// step feeds one controller state through a single control cycle.
func step(t *testing.T, b *Bridge, st gamepad.State) {
	t.Helper()
	if err := b.cell.Set(st); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.outputCycle(context.Background()); err != nil {
		t.Fatalf("outputCycle: %v", err)
	}
}

func TestCarCycleMapsLeftStick(t *testing.T) {
	t.Parallel()
	b, _, sim := newTestBridge(t, Config{})

	tests := []struct {
		name string
		st   gamepad.State
		want drive.CarOutputs
	}{
		{
			name: "straight ahead",
			st:   gamepad.State{Connected: true, LY: -16000},
			want: drive.CarOutputs{Left: 500, Right: 500},
		},
		{
			name: "veer right",
			st:   gamepad.State{Connected: true, LY: -16000, LX: 8000},
			want: drive.CarOutputs{Left: 250, Right: 750},
		},
		{
			name: "pivot in place",
			st:   gamepad.State{Connected: true, LX: -32000},
			want: drive.CarOutputs{Left: 1000, Right: -1000},
		},
		{
			name: "saturated corner",
			st:   gamepad.State{Connected: true, LY: -32768, LX: 16000},
			want: drive.CarOutputs{Left: 500, Right: 1000},
		},
		{
			name: "brake overrides motion",
			st:   gamepad.State{Connected: true, LY: -16000, Buttons: gamepad.ButtonB},
			want: drive.CarOutputs{Brake: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step(t, b, tt.st)
			if got := sim.Car(); got != tt.want {
				t.Fatalf("car outputs = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPlaneCycleMapsChannels(t *testing.T) {
	t.Parallel()
	b, _, sim := newTestBridge(t, Config{DefaultMode: ModePlane})

	step(t, b, gamepad.State{Connected: true, RT: 1023, LY: 8000, LX: -3200, RX: 6400})

	want := drive.PlaneOutputs{Throttle: 1000, Elevator: -250, Aileron: -100, Rudder: 200}
	if got := sim.Plane(); got != want {
		t.Fatalf("plane outputs = %+v, want %+v", got, want)
	}
}

func TestDirectModePassesRawChannels(t *testing.T) {
	t.Parallel()
	b, _, sim := newTestBridge(t, Config{DefaultMode: ModeDirect})

	step(t, b, gamepad.State{Connected: true, RT: 512, LY: 8000, LX: -3200, RX: 6400})

	want := drive.PlaneOutputs{Throttle: 512, Elevator: 250, Aileron: -100, Rudder: 200}
	if got := sim.Plane(); got != want {
		t.Fatalf("plane outputs = %+v, want %+v", got, want)
	}
}

func TestPlaneEmergencyStopLatch(t *testing.T) {
	t.Parallel()
	b, link, sim := newTestBridge(t, Config{DefaultMode: ModePlane})

	full := gamepad.State{Connected: true, RT: 1023}
	estop := gamepad.State{Connected: true, RT: 1023, Buttons: gamepad.ButtonY}
	idle := gamepad.State{Connected: true}

	step(t, b, full)
	if got := sim.Plane().Throttle; got != 1000 {
		t.Fatalf("throttle before stop = %d, want 1000", got)
	}

	step(t, b, estop)
	if got := sim.Plane().Throttle; got != 0 {
		t.Fatalf("throttle at stop = %d, want 0", got)
	}
	if n := loudCount(link.sentFrames()); n != 1 {
		t.Fatalf("engage pulses = %d, want 1", n)
	}

	// Holding the button must not pulse again.
	step(t, b, estop)
	if n := loudCount(link.sentFrames()); n != 1 {
		t.Fatalf("pulses while held = %d, want 1", n)
	}

	// Released with throttle still commanded high: the latch holds.
	step(t, b, full)
	if got := sim.Plane().Throttle; got != 0 {
		t.Fatalf("throttle after release at full = %d, want 0", got)
	}

	// Throttle brought low: the latch lets go.
	step(t, b, idle)
	step(t, b, full)
	if got := sim.Plane().Throttle; got != 1000 {
		t.Fatalf("throttle after re-arm = %d, want 1000", got)
	}
}

func TestSelectCyclesModeOnPressEdge(t *testing.T) {
	t.Parallel()
	b, link, _ := newTestBridge(t, Config{})

	press := gamepad.State{Connected: true, Buttons: gamepad.ButtonSelect}
	release := gamepad.State{Connected: true}

	step(t, b, press)
	if got := b.Mode(); got != ModePlane {
		t.Fatalf("mode after press = %v, want %v", got, ModePlane)
	}

	// Held across cycles: no further switching.
	step(t, b, press)
	step(t, b, press)
	if got := b.Mode(); got != ModePlane {
		t.Fatalf("mode while held = %v, want %v", got, ModePlane)
	}

	step(t, b, release)
	step(t, b, press)
	if got := b.Mode(); got != ModeDirect {
		t.Fatalf("mode after second press = %v, want %v", got, ModeDirect)
	}

	step(t, b, release)
	step(t, b, press)
	if got := b.Mode(); got != ModeCar {
		t.Fatalf("mode after wrap = %v, want %v", got, ModeCar)
	}

	if n := loudCount(link.sentFrames()); n != 3 {
		t.Fatalf("switch pulses = %d, want 3", n)
	}
}

func TestOutputNeutralWhenDisconnected(t *testing.T) {
	t.Parallel()
	b, _, sim := newTestBridge(t, Config{})

	// Cell starts zero, flagged disconnected.
	if err := b.outputCycle(context.Background()); err != nil {
		t.Fatalf("outputCycle: %v", err)
	}

	applies, neutrals := sim.Counts()
	if neutrals == 0 {
		t.Fatal("expected neutral with no controller")
	}
	if applies != 0 {
		t.Fatalf("applies = %d, want 0", applies)
	}
}

func TestStrongTurnRumbles(t *testing.T) {
	t.Parallel()
	b, link, _ := newTestBridge(t, Config{})

	step(t, b, gamepad.State{Connected: true, LX: 32512})
	frames := link.sentFrames()
	if n := loudCount(frames); n != 1 {
		t.Fatalf("rumbles after hard turn = %d, want 1", n)
	}
	last := frames[len(frames)-1]
	if len(last) != 4 || last[2] != 50 || last[3] != 50 {
		t.Fatalf("rumble frame = %v, want intensity 50/50", last)
	}

	step(t, b, gamepad.State{Connected: true, LX: 3200})
	if n := loudCount(link.sentFrames()); n != 1 {
		t.Fatalf("rumbles after mild turn = %d, want 1", n)
	}
}

func TestInputCycleTracksLinkFlag(t *testing.T) {
	t.Parallel()
	b, link, _ := newTestBridge(t, Config{})
	ctx := context.Background()

	if err := b.inputCycle(ctx); err != nil {
		t.Fatalf("inputCycle: %v", err)
	}
	st, err := b.cell.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !st.Connected || st.LastUpdate.IsZero() {
		t.Fatalf("state after connected cycle = %+v", st)
	}
	last := st.LastUpdate

	link.conn.Store(false)
	if err := b.inputCycle(ctx); err != nil {
		t.Fatalf("inputCycle: %v", err)
	}
	st, err = b.cell.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Connected {
		t.Fatal("flag still connected after link drop")
	}
	if !st.LastUpdate.Equal(last) {
		t.Fatalf("LastUpdate moved on a disconnected cycle: %v -> %v", last, st.LastUpdate)
	}
}

func TestOnReportFillsCell(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t, Config{Deadzone: 1000})

	b.onReport(transport.Session{}, []byte{0x01, 0x00, 128, 100, 128, 128, 0, 255})
	st, err := b.cell.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !st.Pressed(gamepad.ButtonA) {
		t.Fatalf("buttons = %#x, want A pressed", st.Buttons)
	}
	if st.LY != -7168 || st.RT != 1023 {
		t.Fatalf("axes = LY %d RT %d, want -7168 1023", st.LY, st.RT)
	}
	if !st.Connected || st.LastUpdate.IsZero() {
		t.Fatalf("state not marked live: %+v", st)
	}

	// A wiggle inside the deadzone reads as centered.
	b.onReport(transport.Session{}, []byte{0, 0, 131, 128, 128, 128, 0, 0})
	st, err = b.cell.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.LX != 0 {
		t.Fatalf("LX inside deadzone = %d, want 0", st.LX)
	}
	kept := st

	// A truncated report is counted and dropped without touching the cell.
	b.onReport(transport.Session{}, []byte{1, 2, 3})
	st, err = b.cell.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st != kept {
		t.Fatalf("cell changed by bad report: %+v", st)
	}

	stats := b.Stats()
	if stats.Reports != 3 {
		t.Fatalf("Reports = %d, want 3", stats.Reports)
	}
	if stats.ReportErrors != 1 {
		t.Fatalf("ReportErrors = %d, want 1", stats.ReportErrors)
	}
}

func TestOnCloseClearsCell(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t, Config{})

	if err := b.cell.Set(gamepad.State{Connected: true, LX: 5, LastUpdate: time.Now()}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b.onClose(transport.Session{}, errors.New("radio fault"))

	st, err := b.cell.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st != (gamepad.State{}) {
		t.Fatalf("cell after close = %+v, want zero", st)
	}
}

func TestBridgeEndToEndWithSimLink(t *testing.T) {
	t.Parallel()
	log := logx.Nop()

	sch := sched.New(sched.Options{}, log, nil)
	t.Cleanup(func() { _ = sch.Close() })
	if err := sch.Start(context.Background()); err != nil {
		t.Fatalf("scheduler Start: %v", err)
	}

	link := transport.NewSim(transport.SimConfig{ReportInterval: 5 * time.Millisecond}, log)
	sim := drive.NewSim(log)
	fx := haptics.New(haptics.Config{MaxPerSecond: 1000, Burst: 100}, link, log)

	// StrongTurn above the sweep's reach keeps rumble out of the outbox.
	b, err := New(Config{
		InputPeriod:  5 * time.Millisecond,
		OutputPeriod: 10 * time.Millisecond,
		StrongTurn:   2000,
	}, Deps{
		Scheduler: sch,
		Cell:      gamepad.NewCell(0),
		Link:      link,
		Actuators: sim,
		Haptics:   fx,
		Log:       log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		applies, _ := sim.Counts()
		if b.Stats().Reports >= 5 && applies >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bridge did not settle: stats=%+v applies=%d", b.Stats(), applies)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The sim sweeps the left stick with forward centered, so the wheels
	// must mirror each other.
	if car := sim.Car(); car.Left != -car.Right || car.Brake {
		t.Fatalf("swept car outputs = %+v, want mirrored wheels", car)
	}

	// The greeting pulse reached the controller on session open.
	greeted := false
	for _, f := range link.SentReports() {
		if len(f) == 4 && f[2] == 150 && f[3] == 150 {
			greeted = true
			break
		}
	}
	if !greeted {
		t.Fatal("no greeting pulse on session open")
	}

	input, output := b.TaskIDs()
	if !sch.Exists(input) || !sch.Exists(output) {
		t.Fatal("bridge tasks not registered")
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sch.Exists(input) || sch.Exists(output) {
		t.Fatal("bridge tasks survived Stop")
	}
	if _, neutrals := sim.Counts(); neutrals == 0 {
		t.Fatal("no neutral on stop")
	}
}
