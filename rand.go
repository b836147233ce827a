package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// newMask draws a fresh, unpredictable 32-bit masking key from src.
// The Connection calls this once per outbound client frame (spec.md
// Section 4.4's "unpredictable" requirement) rather than relying on
// any hidden process-wide generator.
func newMask(src io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(src, b[:]); err != nil {
		return 0, fmt.Errorf("%w: generating mask: %v", ErrTransport, err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// defaultRandSource is the entropy source used when a Connection is
// constructed without one explicitly supplied.
var defaultRandSource io.Reader = rand.Reader
