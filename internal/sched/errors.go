package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a malformed task config or an invalid id.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted reports that the task registry has no free slot.
	ErrResourceExhausted = errors.New("task registry full")

	// ErrTimeout reports that the registry lock could not be acquired
	// within the configured bound.
	ErrTimeout = errors.New("lock wait timed out")

	// ErrNotFound reports an unknown task id.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidState reports an operation against a closed scheduler or a
	// task whose lifecycle state does not permit it.
	ErrInvalidState = errors.New("invalid state")
)

func errInvalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}
