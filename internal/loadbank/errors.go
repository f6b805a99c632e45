package loadbank

import "errors"

var (
	// ErrInvalidArgument is returned for values rejected before anything is
	// written to the device.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrModeUnknown is returned by operations that need the cached mode
	// while it has not been established.
	ErrModeUnknown = errors.New("mode unknown")
)
