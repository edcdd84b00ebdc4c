// Package sched implements the cooperative task scheduler at the heart of
// padbridge.
//
// The scheduler manages four task flavors (Periodic, OneShot, Delayed,
// Conditional) in a fixed-capacity registry. Periodic, OneShot and
// Conditional tasks each own a dispatch-loop goroutine; Delayed tasks are
// armed on a one-shot timer whose callback runs the body directly and must
// therefore stay short and non-blocking.
//
// Periodic tasks sleep to an absolute next-wake time computed from the
// previous wake plus the period, so timing error does not accumulate across
// cycles. Execution time is folded into per-task statistics on every run;
// exceeding a task's MaxExecTime is recorded as a missed deadline, never
// enforced by aborting the body.
//
// All registry mutations and statistics snapshots are serialized by one
// bounded-wait lock. Acquisition that exceeds the configured bound fails
// with ErrTimeout instead of blocking the caller indefinitely.
package sched
