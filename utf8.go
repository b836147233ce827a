package websocket

import "unicode/utf8"

// utf8Validator is a resumable validator for streamed UTF-8, used to
// check Text message payloads as they arrive fragment by fragment
// without buffering the whole message first (spec.md Section 4.2). It
// carries the 0-3 trailing bytes of a multi-byte sequence still in
// progress between calls to write, exactly the information
// unicode/utf8 needs to resume decoding once the rest arrives.
//
// The zero value is ready to use and represents an empty, valid,
// complete message.
type utf8Validator struct {
	carry   [utf8.UTFMax - 1]byte // trailing bytes of an in-progress sequence
	carryN  int                   // number of valid bytes in carry
	invalid bool                  // sticky once the stream is provably malformed
}

// reset returns the validator to its zero state, for reuse across messages.
func (v *utf8Validator) reset() {
	v.carryN = 0
	v.invalid = false
}

// complete reports whether the validator is currently at a character
// boundary with no pending continuation bytes, i.e. a message may
// legally end here.
func (v *utf8Validator) complete() bool {
	return !v.invalid && v.carryN == 0
}

// write feeds the next chunk of payload bytes to the validator.
//
// It returns ok=false as soon as the buffered-plus-chunk bytes are
// provably invalid UTF-8, and consumed = the offset within chunk just
// past the first byte of the invalid sequence (0 when that sequence
// began in bytes carried over from an earlier call), so never more
// than 3 bytes past the error position, per the codec's
// early-rejection property. On success it returns
// consumed = len(chunk); any trailing partial sequence is retained
// internally for the next call.
func (v *utf8Validator) write(chunk []byte) (consumed int, ok bool) {
	if v.invalid {
		return 0, false
	}
	if len(chunk) == 0 {
		return 0, true
	}

	carried := v.carryN
	buf := append(append([]byte(nil), v.carry[:carried]...), chunk...)
	off := 0 // bytes of buf (carry-prefixed) consumed so far

	for off < len(buf) {
		r, size := utf8.DecodeRune(buf[off:])
		// RuneError with size > 1 is a correctly encoded U+FFFD.
		if r != utf8.RuneError || size > 1 {
			off += size
			continue
		}
		if size == 0 {
			break // only when off == len(buf); loop exits naturally
		}

		// size == 1: either a genuinely invalid byte, or a valid-so-far
		// prefix that is simply incomplete because buf ends here.
		if !utf8.FullRune(buf[off:]) {
			v.carryN = copy(v.carry[:], buf[off:])
			return len(chunk), true
		}
		v.invalid = true
		// Byte position off+1 measured from the start of buf; translate
		// to a position within chunk, clamping at 0 since the error may
		// have been fully determined by previously-carried bytes.
		pos := off + 1 - carried
		if pos < 0 {
			pos = 0
		}
		if pos > len(chunk) {
			pos = len(chunk)
		}
		return pos, false
	}

	v.carryN = 0
	return len(chunk), true
}
