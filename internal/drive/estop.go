package drive

import "sync/atomic"

// releaseThrottle is the commanded-throttle level, per mille, under which
// an engaged emergency stop re-arms.
const releaseThrottle = 50

// EStopLatch keeps throttle cut after an emergency stop until the trigger
// button is released AND commanded throttle has returned low. Without the
// latch, letting go of the button at full trigger would spin the prop
// straight back up.
//
// Step is meant for a single control loop; Reset and Engaged are safe
// from anywhere.
type EStopLatch struct {
	engaged atomic.Bool
}

// Step advances the latch with this cycle's trigger-button state and raw
// commanded throttle, and reports whether throttle must stay cut.
func (e *EStopLatch) Step(trigger bool, throttle int) bool {
	if trigger {
		e.engaged.Store(true)
	} else if e.engaged.Load() && throttle <= releaseThrottle {
		e.engaged.Store(false)
	}
	return e.engaged.Load() || trigger
}

// Engaged reports whether the latch currently holds throttle cut.
func (e *EStopLatch) Engaged() bool { return e.engaged.Load() }

// Reset clears the latch, for mode switches where the plane channel is no
// longer live.
func (e *EStopLatch) Reset() { e.engaged.Store(false) }
