package websocket

import (
	"encoding/binary"
	"fmt"
)

// maxControlPayload is the RFC 6455 Section 5.5 limit on control frame
// payloads: 125 bytes, chosen so the length always fits the 7-bit
// inline encoding.
const maxControlPayload = 125

// Frame is one unit of the WebSocket base framing protocol (RFC 6455
// Section 5.2): header flags, the addressing/length fields, and the
// (already unmasked) application payload.
//
// A decoded Frame's Payload is always plaintext: the codec removes
// masking on decode and applies it on encode, so nothing above the
// codec ever handles masked bytes directly.
type Frame struct {
	Fin    bool   // last fragment of a message
	Rsv1   bool   // extension-reserved bit 1
	Rsv2   bool   // extension-reserved bit 2
	Rsv3   bool   // extension-reserved bit 3
	OpCode OpCode // frame kind

	Masked bool   // true for every client->server frame, false for server->client
	Mask   uint32 // masking key, meaningful only when Masked is true

	// Payload is the application data, always unmasked. Its length is
	// PayloadLength; callers must not rely on cap(Payload).
	Payload []byte

	// ExtensionData is reserved for negotiated extensions. This codec
	// never populates it; it exists so an extension layered on top can
	// round-trip a Frame without losing the field.
	ExtensionData []byte
}

// PayloadLength returns the exact length of Payload, matching the
// wire's payload-length field (spec: payload_length is the length of
// application_data after unmasking).
func (f *Frame) PayloadLength() uint64 {
	return uint64(len(f.Payload))
}

// maskKeyBytes returns the frame's 32-bit mask as its four big-endian
// wire bytes, the order XOR'd against payload byte i at i%4.
func maskKeyBytes(mask uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], mask)
	return b
}

// applyMask XORs data in place against mask, cycling through the four
// mask bytes. The same function masks and unmasks, since XOR is its
// own inverse (spec's mask-symmetry property).
func applyMask(data []byte, mask uint32) {
	if len(data) == 0 {
		return
	}
	key := maskKeyBytes(mask)
	for i := range data {
		data[i] ^= key[i%4]
	}
}

// validateStructure checks the cross-field invariants spec.md Section 3
// requires of every decoded (or about-to-be-encoded) Frame, given
// whether the peer on the other side of the wire is a client.
//
// peerIsClient is true when decoding frames sent BY a client (i.e. we
// are the server and must see Masked==true), and false when decoding
// frames sent by a server (we are the client and must see
// Masked==false). reservedBits is the extension-negotiated bitmask
// with bits {0x4=rsv1, 0x2=rsv2, 0x1=rsv3} permitted to be set.
func (f *Frame) validateStructure(peerIsClient bool, reservedBits byte) error {
	if !f.OpCode.IsValid() {
		return fmt.Errorf("%w: reserved opcode 0x%X", ErrProtocolViolation, byte(f.OpCode))
	}
	if f.Rsv1 && reservedBits&0x4 == 0 {
		return fmt.Errorf("%w: rsv1 set without extension permission", ErrProtocolViolation)
	}
	if f.Rsv2 && reservedBits&0x2 == 0 {
		return fmt.Errorf("%w: rsv2 set without extension permission", ErrProtocolViolation)
	}
	if f.Rsv3 && reservedBits&0x1 == 0 {
		return fmt.Errorf("%w: rsv3 set without extension permission", ErrProtocolViolation)
	}
	if f.OpCode.IsControl() {
		if !f.Fin {
			return fmt.Errorf("%w: control frame must not be fragmented", ErrProtocolViolation)
		}
		if len(f.Payload) > maxControlPayload {
			return fmt.Errorf("%w: control frame payload exceeds 125 bytes", ErrProtocolViolation)
		}
	}
	if peerIsClient && !f.Masked {
		return fmt.Errorf("%w: client frame received unmasked", ErrProtocolViolation)
	}
	if !peerIsClient && f.Masked {
		return fmt.Errorf("%w: server frame received masked", ErrProtocolViolation)
	}
	return nil
}
