// Package gamepad defines the controller input model: the wire-format
// report parser and the bounded-lock cell that carries the latest snapshot
// from the sampling path to the output path.
package gamepad

import "time"

// Button bits in the report bitmask, transmitted low byte first.
const (
	ButtonA      uint16 = 1 << 0
	ButtonB      uint16 = 1 << 1
	ButtonX      uint16 = 1 << 2
	ButtonY      uint16 = 1 << 3
	ButtonL1     uint16 = 1 << 4
	ButtonR1     uint16 = 1 << 5
	ButtonSelect uint16 = 1 << 6
	ButtonStart  uint16 = 1 << 7
)

// State is one complete controller snapshot. Stick axes cover the full
// int16 range with 0 at center; triggers use a 10-bit scale.
type State struct {
	Buttons uint16
	LX, LY  int16
	RX, RY  int16
	LT, RT  uint16

	Connected  bool
	LastUpdate time.Time
}

// Pressed reports whether every button bit in mask is down.
func (s State) Pressed(mask uint16) bool { return s.Buttons&mask == mask }

// ApplyDeadzone zeroes stick axes whose magnitude is below dz. Values past
// the threshold pass through unscaled.
func (s *State) ApplyDeadzone(dz int16) {
	s.LX = deadzone(s.LX, dz)
	s.LY = deadzone(s.LY, dz)
	s.RX = deadzone(s.RX, dz)
	s.RY = deadzone(s.RY, dz)
}

func deadzone(v, dz int16) int16 {
	if v > -dz && v < dz {
		return 0
	}
	return v
}
