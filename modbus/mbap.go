package modbus

import (
	"encoding/binary"
	"fmt"
)

// mbapHeaderSize is the fixed 7-byte MBAP header: transaction_id(2),
// protocol_id(2), length(2), unit_id(1).
const mbapHeaderSize = 7

// maxLength is the smallest illegal MBAP length field: a length of 260 or
// greater is treated as a malformed stream and the connection is closed
// (§5 cancellation rule).
const maxLength = 260

// header is a parsed MBAP header.
type header struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // bytes following this field: unit_id + PDU
	UnitID        byte
}

// parseHeader decodes a 7-byte MBAP header. It does not validate
// ProtocolID or Length; callers apply those checks themselves so the
// distinct failure modes (close-without-reply vs. exception) stay visible
// at the call site.
func parseHeader(buf []byte) (header, error) {
	if len(buf) < mbapHeaderSize {
		return header{}, fmt.Errorf("mbap: short header: %d bytes", len(buf))
	}
	return header{
		TransactionID: binary.BigEndian.Uint16(buf[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(buf[2:4]),
		Length:        binary.BigEndian.Uint16(buf[4:6]),
		UnitID:        buf[6],
	}, nil
}

// writeHeader encodes a 7-byte MBAP header into buf, which must be at
// least mbapHeaderSize long.
func writeHeader(buf []byte, h header) {
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = h.UnitID
}
