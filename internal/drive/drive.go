// Package drive models the actuator backends the control modes steer.
// Hardware register programming stays behind the Actuators interface; the
// simulated backend records what real PWM hardware would be told to do.
package drive

// FullScale is the magnitude of a full-deflection command. Motor speeds
// and control surfaces run -FullScale..FullScale, throttle 0..FullScale.
const FullScale = 1000

// CarOutputs is one differential-drive command.
type CarOutputs struct {
	Left  int
	Right int
	Brake bool
}

// PlaneOutputs is one fixed-wing command set.
type PlaneOutputs struct {
	Throttle int
	Elevator int
	Aileron  int
	Rudder   int
}

// Actuators is the hardware boundary. Implementations clamp their inputs
// the way the PWM layer would, so an out-of-range command degrades to full
// deflection instead of failing.
type Actuators interface {
	ApplyCar(CarOutputs) error
	ApplyPlane(PlaneOutputs) error
	// Neutral forces every output to its safe state: motors stopped,
	// throttle cut, surfaces centered.
	Neutral() error
}

// Clamp bounds a bidirectional command to ±FullScale.
func Clamp(v int) int {
	if v > FullScale {
		return FullScale
	}
	if v < -FullScale {
		return -FullScale
	}
	return v
}

// ClampThrottle bounds a throttle command to 0..FullScale.
func ClampThrottle(v int) int {
	if v < 0 {
		return 0
	}
	if v > FullScale {
		return FullScale
	}
	return v
}

// Mix converts forward/turn stick values to differential wheel speeds.
// Inputs and both results are clamped to ±FullScale, so a hard corner at
// full speed saturates the inner wheel instead of overflowing.
func Mix(forward, turn int) (left, right int) {
	forward = Clamp(forward)
	turn = Clamp(turn)
	return Clamp(forward - turn), Clamp(forward + turn)
}

// CarCommand builds one cycle's car output. Brake overrides motion with a
// full stop.
func CarCommand(forward, turn int, brake bool) CarOutputs {
	if brake {
		return CarOutputs{Brake: true}
	}
	left, right := Mix(forward, turn)
	return CarOutputs{Left: left, Right: right}
}

// PlaneCommand builds one cycle's plane output with all channels clamped.
func PlaneCommand(throttle, elevator, aileron, rudder int) PlaneOutputs {
	return PlaneOutputs{
		Throttle: ClampThrottle(throttle),
		Elevator: Clamp(elevator),
		Aileron:  Clamp(aileron),
		Rudder:   Clamp(rudder),
	}
}
