package canframe

import "testing"

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		id         uint16
		wantResp   bool
		wantString int
		wantGlobal int
		wantParity int
		wantPack   int
		wantInPack int
	}{
		{
			name:       "response frame from pack 1 bms 1",
			id:         0x4C3,
			wantResp:   true,
			wantString: 3,
			wantGlobal: 1,
			wantParity: 1,
			wantPack:   1,
			wantInPack: 1,
		},
		{
			// 0x440 = 0b100_0100_0000: bit 10 is set, bits 9..6 hold 1.
			name:       "query frame id 0x440 decodes with bit 10 set",
			id:         0x440,
			wantResp:   true,
			wantString: 1,
			wantGlobal: 0,
			wantParity: 0,
			wantPack:   0,
			wantInPack: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentifier(tt.id)
			if err != nil {
				t.Fatalf("ParseIdentifier(0x%03X) returned error: %v", tt.id, err)
			}
			if got.Response != tt.wantResp {
				t.Errorf("Response = %v, want %v", got.Response, tt.wantResp)
			}
			if got.StringID != tt.wantString {
				t.Errorf("StringID = %d, want %d", got.StringID, tt.wantString)
			}
			if got.BMSGlobalID != tt.wantGlobal {
				t.Errorf("BMSGlobalID = %d, want %d", got.BMSGlobalID, tt.wantGlobal)
			}
			if got.PackParity != tt.wantParity {
				t.Errorf("PackParity = %d, want %d", got.PackParity, tt.wantParity)
			}
			if got.PackID != tt.wantPack {
				t.Errorf("PackID = %d, want %d", got.PackID, tt.wantPack)
			}
			if got.BMSIDInPack != tt.wantInPack {
				t.Errorf("BMSIDInPack = %d, want %d", got.BMSIDInPack, tt.wantInPack)
			}
		})
	}
}

func TestParseIdentifierRejectsOutOfRange(t *testing.T) {
	if _, err := ParseIdentifier(0x800); err == nil {
		t.Fatal("expected error for 12-bit identifier, got nil")
	}
}

func TestIdentifierEncodeRoundTrip(t *testing.T) {
	for _, id := range []uint16{0x4C3, 0x440, 0x000, 0x7FF} {
		parsed, err := ParseIdentifier(id)
		if err != nil {
			t.Fatalf("ParseIdentifier(0x%03X): %v", id, err)
		}
		if got := parsed.Encode(); got != id {
			t.Errorf("Encode() after parsing 0x%03X = 0x%03X, want 0x%03X", id, got, id)
		}
	}
}

func TestDerivedPackAddressing(t *testing.T) {
	for global := 1; global <= 24; global++ {
		encoded := Identifier{Response: true, StringID: 1, BMSGlobalID: global, PackParity: 1}.Encode()
		parsed, err := ParseIdentifier(encoded)
		if err != nil {
			t.Fatalf("ParseIdentifier: %v", err)
		}
		wantPack := (global-1)/BMSPerPack + 1
		wantInPack := (global-1)%BMSPerPack + 1
		if parsed.PackID != wantPack || parsed.BMSIDInPack != wantInPack {
			t.Errorf("global=%d: got pack=%d inPack=%d, want pack=%d inPack=%d",
				global, parsed.PackID, parsed.BMSIDInPack, wantPack, wantInPack)
		}
	}
}
