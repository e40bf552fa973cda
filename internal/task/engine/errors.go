package engine

import "errors"

var (
	ErrDisabled  = errors.New("engine: disabled")
	ErrStopped   = errors.New("engine: not running")
	ErrQueueFull = errors.New("engine: queue full")
	// ErrBusy means a firing for the same key is already queued or running.
	ErrBusy = errors.New("engine: key busy")
)
