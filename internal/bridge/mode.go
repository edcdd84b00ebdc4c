package bridge

import "fmt"

// Mode selects how controller input maps onto actuators.
type Mode uint8

const (
	// ModeCar drives differential wheels from the left stick.
	ModeCar Mode = iota
	// ModePlane drives throttle and control surfaces.
	ModePlane
	// ModeDirect maps axes onto the plane channels without inversion or
	// shaping, for bench calibration of the servos.
	ModeDirect
	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeCar:
		return "car"
	case ModePlane:
		return "plane"
	case ModeDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// ParseMode maps a config string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "car":
		return ModeCar, nil
	case "plane":
		return ModePlane, nil
	case "direct":
		return ModeDirect, nil
	default:
		return ModeCar, fmt.Errorf("unknown control mode %q", s)
	}
}

// next returns the mode the Select button cycles to.
func (m Mode) next() Mode {
	return (m + 1) % modeCount
}
