package websocket

import "testing"

func TestUTF8ValidatorWholeMessages(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"empty", []byte{}, true},
		{"ascii", []byte("hello, world"), true},
		{"two byte", []byte("café"), true},
		{"three byte", []byte("中文"), true},
		{"four byte emoji", []byte("\U0001F600"), true},
		{"lone continuation byte", []byte{0x80}, false},
		{"truncated two byte", []byte{0xC2}, false},
		{"overlong encoding of /", []byte{0xC0, 0xAF}, false},
		{"invalid lead byte", []byte{0xFF}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v utf8Validator
			_, ok := v.write(tt.data)
			if ok {
				ok = v.complete()
			}
			if ok != tt.ok {
				t.Errorf("write(%v) ok = %v, want %v", tt.data, ok, tt.ok)
			}
		})
	}
}

func TestUTF8ValidatorAcrossFragments(t *testing.T) {
	// A 4-byte codepoint split byte by byte across four writes: every
	// write must report ok=true with carried state, and complete() must
	// only report true once the final byte lands.
	full := []byte("\U0001F600") // F0 9F 98 80
	if len(full) != 4 {
		t.Fatalf("test setup: want 4-byte rune, got %d bytes", len(full))
	}

	var v utf8Validator
	for i, b := range full {
		consumed, ok := v.write([]byte{b})
		if !ok {
			t.Fatalf("byte %d: write failed unexpectedly", i)
		}
		if consumed != 1 {
			t.Errorf("byte %d: consumed = %d, want 1", i, consumed)
		}
		wantComplete := i == len(full)-1
		if v.complete() != wantComplete {
			t.Errorf("byte %d: complete() = %v, want %v", i, v.complete(), wantComplete)
		}
	}
}

func TestUTF8ValidatorSplitAtEveryBoundary(t *testing.T) {
	msg := []byte("hello 中文 \U0001F600 world")
	for split := 0; split <= len(msg); split++ {
		var v utf8Validator
		_, ok1 := v.write(msg[:split])
		if !ok1 {
			t.Fatalf("split=%d: first half rejected, want accepted-so-far", split)
		}
		_, ok2 := v.write(msg[split:])
		if !ok2 || !v.complete() {
			t.Errorf("split=%d: ok2=%v complete=%v, want true/true", split, ok2, v.complete())
		}
	}
}

func TestUTF8ValidatorRejectsIncompleteAtEnd(t *testing.T) {
	var v utf8Validator
	_, ok := v.write([]byte{'a', 0xE4, 0xB8}) // third byte of a 3-byte sequence missing
	if !ok {
		t.Fatal("write() = false, want true (incomplete is not yet invalid)")
	}
	if v.complete() {
		t.Error("complete() = true, want false: message must not end mid-sequence")
	}
}

func TestUTF8ValidatorStickyInvalid(t *testing.T) {
	var v utf8Validator
	if _, ok := v.write([]byte{0xFF}); ok {
		t.Fatal("write() = true, want false for invalid lead byte")
	}
	if _, ok := v.write([]byte("more")); ok {
		t.Error("write() after invalid = true, want false: invalid state is sticky")
	}
}

func TestUTF8ValidatorResetReusable(t *testing.T) {
	var v utf8Validator
	v.write([]byte{0xFF})
	v.reset()
	if !v.complete() {
		t.Fatal("complete() after reset = false, want true")
	}
	if _, ok := v.write([]byte("clean")); !ok {
		t.Error("write() after reset failed on valid input")
	}
}
