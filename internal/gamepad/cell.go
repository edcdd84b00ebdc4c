package gamepad

import (
	"errors"
	"fmt"
	"time"

	"padbridge/internal/waitlock"
)

// DefaultLockWait bounds cell lock acquisition when no explicit bound is
// configured. Short on purpose: a caller that cannot get the lock inside
// one sampling period skips the cycle instead of jeopardizing its deadline.
const DefaultLockWait = 10 * time.Millisecond

var ErrTimeout = errors.New("state cell lock wait timed out")

// Cell is the shared snapshot container between the sampling path and the
// output path. One writer, any readers. Every access copies the whole State
// under a bounded-wait lock, so lock hold time is proportional to the
// struct size and never to control computation. A timed-out read returns
// the zero State and an error, never a partial copy.
//
// The cell's lock is its own; it never contends with the task registry.
type Cell struct {
	mu    *waitlock.Mutex
	bound time.Duration
	state State
}

// NewCell allocates a cell in the disconnected zero state. bound <= 0
// selects DefaultLockWait.
func NewCell(bound time.Duration) *Cell {
	if bound <= 0 {
		bound = DefaultLockWait
	}
	return &Cell{mu: waitlock.New(), bound: bound}
}

// Set overwrites the snapshot.
func (c *Cell) Set(st State) error {
	if !c.mu.LockFor(c.bound) {
		return fmt.Errorf("set state: %w", ErrTimeout)
	}
	c.state = st
	c.mu.Unlock()
	return nil
}

// Snapshot returns a full copy of the current state.
func (c *Cell) Snapshot() (State, error) {
	if !c.mu.LockFor(c.bound) {
		return State{}, fmt.Errorf("snapshot state: %w", ErrTimeout)
	}
	st := c.state
	c.mu.Unlock()
	return st, nil
}

// Update applies fn to the state in place under the lock. fn must be short
// and must not block; it runs with the lock held.
func (c *Cell) Update(fn func(*State)) error {
	if fn == nil {
		return errors.New("update state: nil mutator")
	}
	if !c.mu.LockFor(c.bound) {
		return fmt.Errorf("update state: %w", ErrTimeout)
	}
	fn(&c.state)
	c.mu.Unlock()
	return nil
}

// Clear resets the cell to the disconnected zero state. Called on
// transport loss so the output path sees a definite "no input" rather
// than the last frame before the drop.
func (c *Cell) Clear() error {
	if !c.mu.LockFor(c.bound) {
		return fmt.Errorf("clear state: %w", ErrTimeout)
	}
	c.state = State{}
	c.mu.Unlock()
	return nil
}
