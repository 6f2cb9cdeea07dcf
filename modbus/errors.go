package modbus

import "errors"

// ErrProtocolMismatch is returned internally when an MBAP header's
// protocol_id is nonzero; the connection handler closes the socket without
// replying rather than surfacing this as an exception.
var ErrProtocolMismatch = errors.New("modbus: non-zero protocol id")

// ErrOversizedFrame is returned when an MBAP length field exceeds the
// maximum a single PDU can legally occupy.
var ErrOversizedFrame = errors.New("modbus: oversized frame")
