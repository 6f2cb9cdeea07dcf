package regcodec

import (
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 87.5, 3.14159, -273.15, math.MaxFloat32, -math.MaxFloat32}
	for _, v := range values {
		hi, lo := EncodeFloat32(v)
		got := DecodeFloat32(hi, lo)
		if got != v {
			t.Errorf("round-trip of %v produced %v", v, got)
		}
	}
}

func TestEncodeFloat32LiteralScenario(t *testing.T) {
	// Writing SOC = 87.5 encodes as registers 0x42AF 0x0000 (scenario 6).
	hi, lo := EncodeFloat32(87.5)
	if hi != 0x42AF || lo != 0x0000 {
		t.Errorf("EncodeFloat32(87.5) = (0x%04X, 0x%04X), want (0x42AF, 0x0000)", hi, lo)
	}
	if got := DecodeFloat32(hi, lo); got != 87.5 {
		t.Errorf("DecodeFloat32(0x42AF, 0x0000) = %v, want 87.5", got)
	}
}

func TestEncodeFloat32NaN(t *testing.T) {
	const nanBits = 0x7FC00001 // quiet NaN with a non-zero payload bit
	nan := math.Float32frombits(nanBits)
	hi, lo := EncodeFloat32(nan)
	got := DecodeFloat32(hi, lo)
	if !math.IsNaN(float64(got)) {
		t.Errorf("round-tripping NaN produced %v", got)
	}
	if bits := math.Float32bits(got); bits != nanBits {
		t.Errorf("round-tripping NaN produced bits %#08x, want %#08x", bits, nanBits)
	}
}
