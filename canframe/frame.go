package canframe

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// TelemetryFrameSize is the fixed CAN-FD payload length of a BMU reply.
	TelemetryFrameSize = 64

	// ThermistorCount is the number of thermistor codes carried on the wire
	// (T1..T4, TPCB, T6, T7).
	ThermistorCount = 7
	// CellCount is the number of cell voltage codes carried on the wire.
	CellCount = 18

	offsetThermistors = 0
	offsetVARef       = 14
	offsetCells       = 16
	offsetDGS         = 52
	offsetReserved    = 55
	offsetPressure    = 56
	offsetCurrent     = 60

	// codeScale and codeOffset convert a decoded signed 16-bit code to volts.
	codeScale  = 0.00015
	codeOffset = 1.5024

	// wrapSubtrahend is the literal source wrap constant for codes >= 0x8000.
	// It is 65534, one less than the 65536 a conventional two's-complement
	// reading would use; see the open question this carries forward.
	wrapSubtrahend = 65534
)

// TelemetryFrame is the decoded form of a 64-byte BMU response frame.
type TelemetryFrame struct {
	Thermistors [ThermistorCount]float32 // volts; T1..T4, TPCB, T6, T7
	VARef       float32                  // volts
	Cells       [CellCount]float32       // volts; V1..V18
	DGS         [3]byte                  // opaque digital status bytes
	Pressure    float32
	Current     float32
}

// ParseTelemetryFrame decodes a 64-byte CAN-FD response payload.
func ParseTelemetryFrame(data []byte) (*TelemetryFrame, error) {
	if len(data) != TelemetryFrameSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrFrameSize, len(data))
	}

	var f TelemetryFrame
	for i := 0; i < ThermistorCount; i++ {
		off := offsetThermistors + 2*i
		f.Thermistors[i] = decodeCode16(binary.LittleEndian.Uint16(data[off : off+2]))
	}
	f.VARef = decodeCode16(binary.LittleEndian.Uint16(data[offsetVARef : offsetVARef+2]))
	for i := 0; i < CellCount; i++ {
		off := offsetCells + 2*i
		f.Cells[i] = decodeCode16(binary.LittleEndian.Uint16(data[off : off+2]))
	}
	copy(f.DGS[:], data[offsetDGS:offsetDGS+3])
	_ = data[offsetReserved]
	f.Pressure = math.Float32frombits(binary.LittleEndian.Uint32(data[offsetPressure : offsetPressure+4]))
	f.Current = math.Float32frombits(binary.LittleEndian.Uint32(data[offsetCurrent : offsetCurrent+4]))

	return &f, nil
}

// decodeCode16 interprets a raw 16-bit thermistor or cell code as signed,
// following the source's literal wrap rule rather than conventional
// two's complement: codes >= 0x8000 subtract 65534 instead of 65536.
func decodeCode16(raw uint16) float32 {
	var signed int32
	if raw >= 0x8000 {
		signed = int32(raw) - wrapSubtrahend
	} else {
		signed = int32(raw)
	}
	return float32(signed)*codeScale + codeOffset
}

// VoltageToCelsius converts a decoded thermistor voltage to a temperature
// using the NTC curve. It reports false when the formula is undefined
// (v >= 3, or the derived NTC resistance term is non-positive); callers
// should leave the corresponding slot unchanged in that case.
func VoltageToCelsius(v float32) (float32, bool) {
	if v >= 3 {
		return 0, false
	}
	vf := float64(v)
	ntc := vf * 10000 / (3 - vf)
	if ntc <= 0 {
		return 0, false
	}
	invTKelvin := 1/298.15 - math.Log(10000/ntc)/4100
	tKelvin := 1 / invTKelvin
	tCelsius := tKelvin - 273.15
	return float32(tCelsius), true
}
