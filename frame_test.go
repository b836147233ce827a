package websocket

import (
	"bytes"
	"errors"
	"testing"
)

func TestOpCodeClassification(t *testing.T) {
	tests := []struct {
		op        OpCode
		isControl bool
		isData    bool
		isValid   bool
	}{
		{OpContinuation, false, true, true},
		{OpText, false, true, true},
		{OpBinary, false, true, true},
		{OpClose, true, false, true},
		{OpPing, true, false, true},
		{OpPong, true, false, true},
		{OpCode(0x3), false, false, false},
		{OpCode(0xB), true, false, false},
		{OpCode(0xF), true, false, false},
	}

	for _, tt := range tests {
		if got := tt.op.IsControl(); got != tt.isControl {
			t.Errorf("OpCode(0x%X).IsControl() = %v, want %v", byte(tt.op), got, tt.isControl)
		}
		if got := tt.op.IsData(); got != tt.isData {
			t.Errorf("OpCode(0x%X).IsData() = %v, want %v", byte(tt.op), got, tt.isData)
		}
		if got := tt.op.IsValid(); got != tt.isValid {
			t.Errorf("OpCode(0x%X).IsValid() = %v, want %v", byte(tt.op), got, tt.isValid)
		}
	}
}

func TestCloseCodeValidOnWire(t *testing.T) {
	tests := []struct {
		code  CloseCode
		valid bool
	}{
		{999, false},
		{CloseNormalClosure, true},
		{CloseInternalServerErr, true},
		{closeReserved1004, false},
		{CloseNoStatusReceived, false},
		{CloseAbnormalClosure, false},
		{closeReserved1015, false},
		{4000, true}, // private-use range is valid on the wire
	}

	for _, tt := range tests {
		if got := tt.code.validOnWire(); got != tt.valid {
			t.Errorf("CloseCode(%d).validOnWire() = %v, want %v", tt.code, got, tt.valid)
		}
	}
}

// Mask symmetry: unmask(mask(data, m), m) == data for any m and data.
func TestApplyMaskSymmetry(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	const mask = 0xDEADBEEF

	masked := append([]byte(nil), data...)
	applyMask(masked, mask)
	if bytes.Equal(masked, data) {
		t.Fatal("masking did not change the data")
	}

	unmasked := append([]byte(nil), masked...)
	applyMask(unmasked, mask)
	if !bytes.Equal(unmasked, data) {
		t.Errorf("unmask(mask(data)) = %q, want %q", unmasked, data)
	}
}

func TestFrameValidateStructure(t *testing.T) {
	tests := []struct {
		name         string
		frame        Frame
		peerIsClient bool
		reservedBits byte
		wantErr      error
	}{
		{
			name:         "valid client frame seen by server",
			frame:        Frame{Fin: true, OpCode: OpText, Masked: true},
			peerIsClient: true,
		},
		{
			name:         "unmasked client frame is rejected",
			frame:        Frame{Fin: true, OpCode: OpText, Masked: false},
			peerIsClient: true,
			wantErr:      ErrProtocolViolation,
		},
		{
			name:         "masked server frame is rejected",
			frame:        Frame{Fin: true, OpCode: OpText, Masked: true},
			peerIsClient: false,
			wantErr:      ErrProtocolViolation,
		},
		{
			name:         "fragmented control frame is rejected",
			frame:        Frame{Fin: false, OpCode: OpPing},
			peerIsClient: false,
			wantErr:      ErrProtocolViolation,
		},
		{
			name:         "oversized control payload is rejected",
			frame:        Frame{Fin: true, OpCode: OpPing, Payload: make([]byte, 126)},
			peerIsClient: false,
			wantErr:      ErrProtocolViolation,
		},
		{
			name:         "reserved opcode is rejected",
			frame:        Frame{Fin: true, OpCode: OpCode(0x3)},
			peerIsClient: false,
			wantErr:      ErrProtocolViolation,
		},
		{
			name:         "rsv1 permitted by extension bit",
			frame:        Frame{Fin: true, OpCode: OpBinary, Rsv1: true},
			peerIsClient: false,
			reservedBits: 0x4,
		},
		{
			name:         "rsv1 without extension permission is rejected",
			frame:        Frame{Fin: true, OpCode: OpBinary, Rsv1: true},
			peerIsClient: false,
			wantErr:      ErrProtocolViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.validateStructure(tt.peerIsClient, tt.reservedBits)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validateStructure() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validateStructure() = %v, want error matching %v", err, tt.wantErr)
			}
		})
	}
}
