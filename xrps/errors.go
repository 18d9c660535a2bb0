package xrps

import "errors"

var (
	// ErrInvalidArgument is returned for out-of-range modes or intervals.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotReady is returned when an operation needs an initialized
	// coordinator.
	ErrNotReady = errors.New("not ready")

	// ErrIO is returned when the OS layer or the driver fails.
	ErrIO = errors.New("i/o error")
)
