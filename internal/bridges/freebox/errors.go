package freebox

import "errors"

// Domain errors for the Freebox bridge package.
var (
	// ErrUnknownDevice is returned for a device id the bridge does not expose.
	ErrUnknownDevice = errors.New("freebox: unknown device")

	// ErrInvalidCommand is returned for a command the device does not support.
	ErrInvalidCommand = errors.New("freebox: invalid command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or out of range.
	ErrInvalidParameters = errors.New("freebox: invalid parameters")

	// ErrNotAcknowledged is returned when the box answers a shutter command
	// with a false acknowledgement.
	ErrNotAcknowledged = errors.New("freebox: command not acknowledged")

	// ErrQueueFull is returned when commands arrive faster than the gateway
	// can take them.
	ErrQueueFull = errors.New("freebox: command queue full")
)
