// Package waitlock provides a mutual-exclusion lock whose acquisition is
// bounded by a timeout. Callers that cannot get the lock within their bound
// skip the protected work instead of blocking indefinitely, which keeps
// periodic deadlines safe under contention.
package waitlock

import "time"

// Mutex is a mutual-exclusion lock with timed acquisition. sync.Mutex has no
// timed acquire, so this uses the capacity-1 channel construction: send
// acquires, receive releases.
type Mutex struct {
	ch chan struct{}
}

func New() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

// LockFor acquires the lock, waiting at most d. It reports false when the
// bound elapsed without acquisition.
func (m *Mutex) LockFor(d time.Duration) bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case m.ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

// Unlock releases the lock. Unlocking an unheld Mutex panics, matching
// sync.Mutex behavior.
func (m *Mutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("waitlock: unlock of unlocked Mutex")
	}
}
