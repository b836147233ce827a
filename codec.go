package websocket

import (
	"encoding/binary"
	"fmt"
)

// decodeState is the five-state machine driving Decoder.Decode (RFC
// 6455 Section 5.2), one state per header field the frame format
// self-describes: the two fixed header bytes, the (possibly extended)
// length, the mask key, and the payload.
type decodeState byte

const (
	stateNone decodeState = iota
	stateHeader
	stateLength
	stateMask
	stateFull
)

// Decoder is a resumable, streaming Base Frame Codec decoder. A
// single Decoder decodes one Connection's entire inbound stream, one
// Frame at a time; its state persists across Decode calls so a frame
// split across arbitrarily many transport reads decodes identically
// to one delivered whole.
type Decoder struct {
	peerIsClient bool
	reservedBits byte

	state decodeState

	fin, rsv1, rsv2, rsv3 bool
	opcode                OpCode
	masked                bool
	lengthCode            byte
	payloadLength         uint64
	mask                  uint32
}

// NewDecoder constructs a Decoder. peerIsClient is true when decoding
// frames sent by a client (i.e. this side is a server and must reject
// unmasked frames), false when decoding frames sent by a server.
// reservedBits is the extension-negotiated bitmask permitted in
// rsv1/rsv2/rsv3, using the {0x4, 0x2, 0x1} bit assignment.
func NewDecoder(peerIsClient bool, reservedBits byte) *Decoder {
	return &Decoder{peerIsClient: peerIsClient, reservedBits: reservedBits}
}

// Decode attempts to advance the state machine using buf, the bytes
// currently available but not yet consumed from the transport.
//
// It returns one of three outcomes:
//   - Ready: frame != nil, err == nil. consumed bytes of buf belong to
//     this frame and must not be presented again; the Decoder is reset
//     and ready to decode the next frame.
//   - NeedsMore: frame == nil, err == nil. consumed bytes were fully
//     committed (header/length/mask fields already parsed) and may be
//     discarded by the caller; the remainder of buf must be presented
//     again, followed by whatever new bytes arrive, on the next call.
//   - Fail: err != nil, matching one of the sentinel errors in
//     errors.go via errors.Is. The Decoder must not be reused.
func (d *Decoder) Decode(buf []byte) (frame *Frame, consumed int, err error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}

	for {
		switch d.state {
		case stateNone:
			if len(buf) < 2 {
				return nil, consumed, nil
			}
			first, second := buf[0], buf[1]

			d.fin = first&0x80 != 0
			d.rsv1 = first&0x40 != 0
			d.rsv2 = first&0x20 != 0
			d.rsv3 = first&0x10 != 0
			d.opcode = OpCode(first & 0x0F)
			d.masked = second&0x80 != 0
			d.lengthCode = second & 0x7F

			if !d.opcode.IsValid() {
				return nil, consumed, fmt.Errorf("%w: reserved opcode 0x%X", ErrProtocolViolation, byte(d.opcode))
			}
			if d.rsv1 && d.reservedBits&0x4 == 0 {
				return nil, consumed, fmt.Errorf("%w: rsv1 set without extension permission", ErrProtocolViolation)
			}
			if d.rsv2 && d.reservedBits&0x2 == 0 {
				return nil, consumed, fmt.Errorf("%w: rsv2 set without extension permission", ErrProtocolViolation)
			}
			if d.rsv3 && d.reservedBits&0x1 == 0 {
				return nil, consumed, fmt.Errorf("%w: rsv3 set without extension permission", ErrProtocolViolation)
			}
			if d.opcode.IsControl() && !d.fin {
				return nil, consumed, fmt.Errorf("%w: control frame must not be fragmented", ErrProtocolViolation)
			}
			if d.peerIsClient && !d.masked {
				return nil, consumed, fmt.Errorf("%w: client frame received unmasked", ErrProtocolViolation)
			}
			if !d.peerIsClient && d.masked {
				return nil, consumed, fmt.Errorf("%w: server frame received masked", ErrProtocolViolation)
			}

			buf = buf[2:]
			consumed += 2
			d.state = stateHeader

		case stateHeader:
			switch d.lengthCode {
			case 126:
				if len(buf) < 2 {
					return nil, consumed, nil
				}
				d.payloadLength = uint64(binary.BigEndian.Uint16(buf))
				buf = buf[2:]
				consumed += 2
			case 127:
				if len(buf) < 8 {
					return nil, consumed, nil
				}
				d.payloadLength = binary.BigEndian.Uint64(buf)
				buf = buf[8:]
				consumed += 8
			default:
				d.payloadLength = uint64(d.lengthCode)
			}
			if d.opcode.IsControl() && d.payloadLength > maxControlPayload {
				return nil, consumed, fmt.Errorf("%w: control frame payload exceeds 125 bytes", ErrProtocolViolation)
			}
			d.state = stateLength

		case stateLength:
			if d.masked {
				if len(buf) < 4 {
					return nil, consumed, nil
				}
				d.mask = binary.BigEndian.Uint32(buf)
				buf = buf[4:]
				consumed += 4
			} else {
				d.mask = 0
			}
			d.state = stateMask

		case stateMask:
			// Early UTF-8 rejection: peek at whatever prefix of the
			// payload is already available, without consuming it, so an
			// invalid Text frame fails well before the whole (possibly
			// huge) payload has arrived.
			if d.opcode == OpText && d.payloadLength > 0 {
				avail := uint64(len(buf))
				n := avail
				if n > d.payloadLength {
					n = d.payloadLength
				}
				if n > 0 {
					probe := append([]byte(nil), buf[:n]...)
					if d.masked {
						applyMask(probe, d.mask)
					}
					var v utf8Validator
					if _, ok := v.write(probe); !ok {
						return nil, consumed, fmt.Errorf("%w", ErrInvalidUTF8)
					}
				}
			}

			if uint64(len(buf)) < d.payloadLength {
				return nil, consumed, nil
			}

			var payload []byte
			if d.payloadLength > 0 {
				payload = append([]byte(nil), buf[:d.payloadLength]...)
				if d.masked {
					applyMask(payload, d.mask)
				}
				buf = buf[d.payloadLength:]
				consumed += int(d.payloadLength)
			}

			f := &Frame{
				Fin:     d.fin,
				Rsv1:    d.rsv1,
				Rsv2:    d.rsv2,
				Rsv3:    d.rsv3,
				OpCode:  d.opcode,
				Masked:  d.masked,
				Mask:    d.mask,
				Payload: payload,
			}
			d.reset()
			return f, consumed, nil
		}
	}
}

// reset returns the Decoder to stateNone so the next call to Decode
// starts a fresh frame. peerIsClient and reservedBits are preserved.
func (d *Decoder) reset() {
	d.fin, d.rsv1, d.rsv2, d.rsv3 = false, false, false, false
	d.opcode = 0
	d.masked = false
	d.lengthCode = 0
	d.payloadLength = 0
	d.mask = 0
	d.state = stateNone
}

// Encode appends the wire representation of frame to dst and returns
// the extended slice. It chooses the shortest length encoding that
// fits the payload, and if frame.Masked is true it performs the
// masking transform itself from frame.Mask against a copy of
// frame.Payload — callers always hand Encode plaintext, never
// pre-masked bytes (spec's resolution of the original design's
// caller-must-pre-mask ambiguity).
func Encode(dst []byte, frame *Frame) ([]byte, error) {
	if !frame.OpCode.IsValid() {
		return dst, fmt.Errorf("%w: reserved opcode 0x%X", ErrProtocolViolation, byte(frame.OpCode))
	}
	if frame.OpCode.IsControl() {
		if !frame.Fin {
			return dst, fmt.Errorf("%w: control frame must not be fragmented", ErrProtocolViolation)
		}
		if len(frame.Payload) > maxControlPayload {
			return dst, fmt.Errorf("%w", ErrControlPayloadTooLarge)
		}
	}

	var first byte
	if frame.Fin {
		first |= 0x80
	}
	if frame.Rsv1 {
		first |= 0x40
	}
	if frame.Rsv2 {
		first |= 0x20
	}
	if frame.Rsv3 {
		first |= 0x10
	}
	first |= byte(frame.OpCode)
	dst = append(dst, first)

	var second byte
	if frame.Masked {
		second |= 0x80
	}

	n := uint64(len(frame.Payload))
	switch {
	case n <= 125:
		dst = append(dst, second|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, second|126)
		var lb [2]byte
		binary.BigEndian.PutUint16(lb[:], uint16(n))
		dst = append(dst, lb[:]...)
	default:
		dst = append(dst, second|127)
		var lb [8]byte
		binary.BigEndian.PutUint64(lb[:], n)
		dst = append(dst, lb[:]...)
	}

	if frame.Masked {
		var mb [4]byte
		binary.BigEndian.PutUint32(mb[:], frame.Mask)
		dst = append(dst, mb[:]...)

		masked := append([]byte(nil), frame.Payload...)
		applyMask(masked, frame.Mask)
		dst = append(dst, masked...)
	} else {
		dst = append(dst, frame.Payload...)
	}

	return dst, nil
}
