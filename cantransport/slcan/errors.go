package slcan

import "errors"

var (
	// ErrNotConnected is returned by Send/CollectFrames when the serial
	// port is not open.
	ErrNotConnected = errors.New("slcan: not connected")

	// ErrMalformedLine is returned when a line from the adapter cannot be
	// parsed as a frame.
	ErrMalformedLine = errors.New("slcan: malformed frame line")
)
