package drive

import (
	"sync"

	"padbridge/pkg/logx"
)

// Sim is the bench backend: it clamps and records commands exactly as the
// PWM layer would take them, without touching hardware. Safe for
// concurrent use.
type Sim struct {
	log logx.Logger

	mu       sync.Mutex
	car      CarOutputs
	plane    PlaneOutputs
	applies  uint64
	neutrals uint64
}

func NewSim(log logx.Logger) *Sim {
	return &Sim{log: log}
}

func (s *Sim) ApplyCar(o CarOutputs) error {
	o.Left = Clamp(o.Left)
	o.Right = Clamp(o.Right)
	if o.Brake {
		o.Left, o.Right = 0, 0
	}

	s.mu.Lock()
	s.car = o
	s.applies++
	s.mu.Unlock()

	s.log.Debug("car outputs applied",
		logx.Int("left", o.Left),
		logx.Int("right", o.Right),
		logx.Bool("brake", o.Brake))
	return nil
}

func (s *Sim) ApplyPlane(o PlaneOutputs) error {
	o.Throttle = ClampThrottle(o.Throttle)
	o.Elevator = Clamp(o.Elevator)
	o.Aileron = Clamp(o.Aileron)
	o.Rudder = Clamp(o.Rudder)

	s.mu.Lock()
	s.plane = o
	s.applies++
	s.mu.Unlock()

	s.log.Debug("plane outputs applied",
		logx.Int("throttle", o.Throttle),
		logx.Int("elevator", o.Elevator),
		logx.Int("aileron", o.Aileron),
		logx.Int("rudder", o.Rudder))
	return nil
}

func (s *Sim) Neutral() error {
	s.mu.Lock()
	s.car = CarOutputs{}
	s.plane = PlaneOutputs{}
	s.neutrals++
	s.mu.Unlock()
	return nil
}

// Car returns the last applied car command.
func (s *Sim) Car() CarOutputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.car
}

// Plane returns the last applied plane command.
func (s *Sim) Plane() PlaneOutputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plane
}

// Counts returns how many apply and neutral calls the backend has taken.
func (s *Sim) Counts() (applies, neutrals uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applies, s.neutrals
}
