package socketcan

import "errors"

var (
	// ErrNotConnected is returned by Send/CollectFrames when the socket is
	// not open.
	ErrNotConnected = errors.New("socketcan: not connected")

	// ErrPayloadTooLarge is returned by Send when a frame's payload exceeds
	// the CAN-FD maximum of 64 bytes.
	ErrPayloadTooLarge = errors.New("socketcan: payload exceeds 64 bytes")
)
