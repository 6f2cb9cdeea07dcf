package modbus

import (
	"encoding/binary"

	"github.com/fleetops/bms-gateway/registerfile"
)

const (
	fcReadCoils            = 0x01
	fcReadDiscreteInputs   = 0x02
	fcReadHoldingRegisters = 0x03
	fcReadInputRegisters   = 0x04
	fcWriteSingleCoil      = 0x05
	fcWriteSingleRegister  = 0x06
	fcWriteMultipleCoils   = 0x0F
	fcWriteMultipleRegs    = 0x10

	maxReadBitQty = 2000
	maxReadRegQty = 125

	// The protocol description gives explicit bounds for the read function
	// codes only. The conventional Modbus limits for the write-multiple
	// codes (bounded by what fits in a single PDU) are applied here for
	// symmetry; see DESIGN.md.
	maxWriteBitQty = 1968
	maxWriteRegQty = 123

	coilOn  = 0xFF00
	coilOff = 0x0000
)

// dispatchFunctionCode runs one PDU against the register file and returns
// the response PDU bytes (function code first). An *Exception return value
// means the caller should encode an exception response instead.
func dispatchFunctionCode(regs *registerfile.File, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, NewException(IllegalFunction)
	}
	fc := pdu[0]
	body := pdu[1:]

	switch fc {
	case fcReadCoils:
		return handleReadBits(fc, body, regs.ReadBits)
	case fcReadDiscreteInputs:
		return handleReadBits(fc, body, regs.ReadBits)
	case fcReadHoldingRegisters:
		return handleReadWords(regs, fc, body, maxReadRegQty)
	case fcReadInputRegisters:
		return handleReadWords(regs, fc, body, maxReadRegQty)
	case fcWriteSingleCoil:
		return handleWriteSingleCoil(regs, fc, body)
	case fcWriteSingleRegister:
		return handleWriteSingleRegister(regs, fc, body)
	case fcWriteMultipleCoils:
		return handleWriteMultipleCoils(regs, fc, body)
	case fcWriteMultipleRegs:
		return handleWriteMultipleRegisters(regs, fc, body)
	default:
		return nil, NewException(IllegalFunction)
	}
}

func handleReadBits(fc byte, body []byte, read func(int, int) ([]bool, error)) ([]byte, error) {
	if len(body) != 4 {
		return nil, NewException(IllegalDataValue)
	}
	start := int(binary.BigEndian.Uint16(body[0:2]))
	qty := int(binary.BigEndian.Uint16(body[2:4]))
	if qty < 1 || qty > maxReadBitQty {
		return nil, NewException(IllegalDataValue)
	}
	bits, err := read(start, qty)
	if err != nil {
		return nil, NewException(IllegalDataAddress)
	}

	byteCount := (qty + 7) / 8
	resp := make([]byte, 2+byteCount)
	resp[0] = fc
	resp[1] = byte(byteCount)
	for i, b := range bits {
		if b {
			resp[2+i/8] |= 1 << uint(i%8)
		}
	}
	return resp, nil
}

func handleReadWords(regs *registerfile.File, fc byte, body []byte, maxQty int) ([]byte, error) {
	if len(body) != 4 {
		return nil, NewException(IllegalDataValue)
	}
	start := int(binary.BigEndian.Uint16(body[0:2]))
	qty := int(binary.BigEndian.Uint16(body[2:4]))
	if qty < 1 || qty > maxQty {
		return nil, NewException(IllegalDataValue)
	}
	words, err := regs.ReadWords(start, qty)
	if err != nil {
		return nil, NewException(IllegalDataAddress)
	}

	resp := make([]byte, 2+2*qty)
	resp[0] = fc
	resp[1] = byte(2 * qty)
	for i, w := range words {
		binary.BigEndian.PutUint16(resp[2+2*i:4+2*i], w)
	}
	return resp, nil
}

func handleWriteSingleCoil(regs *registerfile.File, fc byte, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, NewException(IllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(body[0:2]))
	value := binary.BigEndian.Uint16(body[2:4])
	if value != coilOn && value != coilOff {
		return nil, NewException(IllegalDataValue)
	}
	if err := regs.WriteBit(addr, value == coilOn); err != nil {
		return nil, NewException(IllegalDataAddress)
	}

	resp := make([]byte, 5)
	resp[0] = fc
	copy(resp[1:], body)
	return resp, nil
}

func handleWriteSingleRegister(regs *registerfile.File, fc byte, body []byte) ([]byte, error) {
	if len(body) != 4 {
		return nil, NewException(IllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(body[0:2]))
	value := binary.BigEndian.Uint16(body[2:4])
	if err := regs.WriteWord(addr, value); err != nil {
		return nil, NewException(IllegalDataAddress)
	}

	resp := make([]byte, 5)
	resp[0] = fc
	copy(resp[1:], body)
	return resp, nil
}

func handleWriteMultipleCoils(regs *registerfile.File, fc byte, body []byte) ([]byte, error) {
	if len(body) < 5 {
		return nil, NewException(IllegalDataValue)
	}
	start := int(binary.BigEndian.Uint16(body[0:2]))
	qty := int(binary.BigEndian.Uint16(body[2:4]))
	byteCount := int(body[4])
	if qty < 1 || qty > maxWriteBitQty {
		return nil, NewException(IllegalDataValue)
	}
	wantBytes := (qty + 7) / 8
	if byteCount != wantBytes || len(body) != 5+byteCount {
		return nil, NewException(IllegalDataValue)
	}

	bits := make([]bool, qty)
	for i := range bits {
		bits[i] = body[5+i/8]&(1<<uint(i%8)) != 0
	}
	if err := regs.WriteBits(start, bits); err != nil {
		return nil, NewException(IllegalDataAddress)
	}

	resp := make([]byte, 5)
	resp[0] = fc
	binary.BigEndian.PutUint16(resp[1:3], uint16(start))
	binary.BigEndian.PutUint16(resp[3:5], uint16(qty))
	return resp, nil
}

func handleWriteMultipleRegisters(regs *registerfile.File, fc byte, body []byte) ([]byte, error) {
	if len(body) < 5 {
		return nil, NewException(IllegalDataValue)
	}
	start := int(binary.BigEndian.Uint16(body[0:2]))
	qty := int(binary.BigEndian.Uint16(body[2:4]))
	byteCount := int(body[4])
	if qty < 1 || qty > maxWriteRegQty {
		return nil, NewException(IllegalDataValue)
	}
	if byteCount != 2*qty || len(body) != 5+byteCount {
		return nil, NewException(IllegalDataValue)
	}

	words := make([]uint16, qty)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(body[5+2*i : 7+2*i])
	}
	if err := regs.WriteWords(start, words); err != nil {
		return nil, NewException(IllegalDataAddress)
	}

	resp := make([]byte, 5)
	resp[0] = fc
	binary.BigEndian.PutUint16(resp[1:3], uint16(start))
	binary.BigEndian.PutUint16(resp[3:5], uint16(qty))
	return resp, nil
}

// exceptionPDU builds the two-byte exception PDU for a failed request.
func exceptionPDU(fc byte, code ExceptionCode) []byte {
	return []byte{fc | 0x80, byte(code)}
}
