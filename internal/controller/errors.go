package controller

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	// ErrInvalidFrame means the frame's length or format violates the
	// current operating mode. Returned synchronously, no state change.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrNotStarted means the controller is stopped and cannot transmit.
	ErrNotStarted = errors.New("controller not started")
	// ErrBusy means the operation is disallowed while started.
	ErrBusy = errors.New("controller busy")
	// ErrAlreadyStarted / ErrAlreadyStopped flag redundant transitions.
	ErrAlreadyStarted = errors.New("controller already started")
	ErrAlreadyStopped = errors.New("controller already stopped")
	// ErrTxTimeout means the bus was too busy to admit a transmission
	// within the caller's deadline. Retryable.
	ErrTxTimeout = errors.New("tx admission timeout")
	// ErrNotSupported means the requested mode bits are not offered by
	// Capabilities.
	ErrNotSupported = errors.New("unsupported mode")
	// ErrTimingRange means a bit-timing parameter is out of bounds.
	ErrTimingRange = errors.New("timing parameter out of range")
	// ErrBusIO wraps host endpoint I/O failures.
	ErrBusIO = errors.New("bus i/o")
	// ErrClosed means the controller has been shut down.
	ErrClosed = errors.New("controller closed")
)
