package canframe

// CommandFrame is an 8-byte host-originated command frame (query or
// balancing instruction).
type CommandFrame struct {
	ID   uint16
	Data [8]byte
}

// QueryFramePayload returns the default 8-byte wake-up payload sent with the
// host query frame (CAN ID QueryFrameID). The exact content is an agreed,
// opaque sequence between host and BMU. The payload is fixed: no
// configuration option overrides it, and the query cycle always sends this
// value.
func QueryFramePayload() [8]byte {
	return [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
}
