package modbus

import (
	"encoding/binary"
	"testing"

	"github.com/fleetops/bms-gateway/regcodec"
	"github.com/fleetops/bms-gateway/registerfile"
)

func exceptionCodeOf(t *testing.T, err error) ExceptionCode {
	t.Helper()
	exc, ok := err.(*Exception)
	if !ok {
		t.Fatalf("expected *Exception, got %T (%v)", err, err)
	}
	return exc.Code
}

func TestDispatchReadHoldingRegistersQuantityBounds(t *testing.T) {
	regs := registerfile.New(200, 200)

	// qty=0 is below the 1..125 limit.
	pdu := []byte{fcReadHoldingRegisters, 0x00, 0x00, 0x00, 0x00}
	_, err := dispatchFunctionCode(regs, pdu)
	if err == nil || exceptionCodeOf(t, err) != IllegalDataValue {
		t.Errorf("qty=0: got %v, want IllegalDataValue", err)
	}

	// qty=126 is above the 1..125 limit.
	pdu = []byte{fcReadHoldingRegisters, 0x00, 0x00, 0x00, 126}
	_, err = dispatchFunctionCode(regs, pdu)
	if err == nil || exceptionCodeOf(t, err) != IllegalDataValue {
		t.Errorf("qty=126: got %v, want IllegalDataValue", err)
	}
}

func TestDispatchReadCoilsBeyondBackingStore(t *testing.T) {
	regs := registerfile.New(10, 10)

	pdu := []byte{fcReadCoils, 0x00, 0x05, 0x00, 0x0A} // start=5, qty=10, exceeds 10 coils
	_, err := dispatchFunctionCode(regs, pdu)
	if err == nil || exceptionCodeOf(t, err) != IllegalDataAddress {
		t.Errorf("got %v, want IllegalDataAddress", err)
	}
}

func TestDispatchWriteSingleCoilInvalidValue(t *testing.T) {
	regs := registerfile.New(10, 10)

	pdu := []byte{fcWriteSingleCoil, 0x00, 0x00, 0x12, 0x34}
	_, err := dispatchFunctionCode(regs, pdu)
	if err == nil || exceptionCodeOf(t, err) != IllegalDataValue {
		t.Errorf("got %v, want IllegalDataValue", err)
	}
}

func TestDispatchWriteThenReadHoldingRegistersRoundTrip(t *testing.T) {
	regs := registerfile.New(2000, 10)

	hi, lo := regcodec.EncodeFloat32(87.5)
	if hi != 0x42AF || lo != 0x0000 {
		t.Fatalf("unexpected encoding for 87.5: hi=0x%04X lo=0x%04X", hi, lo)
	}

	writePDU := []byte{fcWriteMultipleRegs, 0x03, 0xE8, 0x00, 0x02, 0x04, 0x42, 0xAF, 0x00, 0x00}
	resp, err := dispatchFunctionCode(regs, writePDU)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp[0] != fcWriteMultipleRegs {
		t.Fatalf("unexpected response function code: 0x%02X", resp[0])
	}
	gotStart := binary.BigEndian.Uint16(resp[1:3])
	gotQty := binary.BigEndian.Uint16(resp[3:5])
	if gotStart != 1000 || gotQty != 2 {
		t.Errorf("write echo = start=%d qty=%d, want start=1000 qty=2", gotStart, gotQty)
	}

	readPDU := []byte{fcReadHoldingRegisters, 0x03, 0xE8, 0x00, 0x02}
	resp, err = dispatchFunctionCode(regs, readPDU)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp[1] != 4 {
		t.Fatalf("byte count = %d, want 4", resp[1])
	}
	gotHi := binary.BigEndian.Uint16(resp[2:4])
	gotLo := binary.BigEndian.Uint16(resp[4:6])
	if gotHi != 0x42AF || gotLo != 0x0000 {
		t.Errorf("read back = 0x%04X 0x%04X, want 0x42AF 0x0000", gotHi, gotLo)
	}
	if decoded := regcodec.DecodeFloat32(gotHi, gotLo); decoded != 87.5 {
		t.Errorf("decoded = %v, want 87.5", decoded)
	}
}

func TestDispatchUnsupportedFunctionCode(t *testing.T) {
	regs := registerfile.New(10, 10)
	_, err := dispatchFunctionCode(regs, []byte{0x7F})
	if err == nil || exceptionCodeOf(t, err) != IllegalFunction {
		t.Errorf("got %v, want IllegalFunction", err)
	}
}

func TestExceptionPDUEncoding(t *testing.T) {
	pdu := exceptionPDU(fcReadHoldingRegisters, IllegalDataValue)
	if len(pdu) != 2 || pdu[0] != fcReadHoldingRegisters|0x80 || pdu[1] != byte(IllegalDataValue) {
		t.Errorf("unexpected exception PDU: %#v", pdu)
	}
}
