package websocket

import "errors"

// Sentinel errors for the codec and connection layers. Callers should
// use errors.Is against these, since internal errors are frequently
// wrapped with additional context via fmt.Errorf("...: %w", err).
var (
	// ErrIncompleteInput names the need-more-bytes outcome of decoding.
	// Nothing in this package returns it: Decode reports that case as
	// NeedsMore (nil frame, nil error).
	ErrIncompleteInput = errors.New("websocket: incomplete input")

	// ErrProtocolViolation covers every structural rule violation: bad
	// RSV bits, reserved opcodes, a fragmented control frame, a client
	// frame received unmasked (or a server frame received masked), an
	// oversized control payload, a continuation without an opener, an
	// interleaved data opcode mid-fragmentation, and an invalid close
	// code. Surfaced to the peer as close code 1002.
	ErrProtocolViolation = errors.New("websocket: protocol violation")

	// ErrInvalidUTF8 indicates a text message's payload is not valid
	// UTF-8. Surfaced to the peer as close code 1007.
	ErrInvalidUTF8 = errors.New("websocket: invalid UTF-8 in text message")

	// ErrMessageTooBig indicates a message exceeded the configured
	// policy bound. Surfaced to the peer as close code 1009.
	ErrMessageTooBig = errors.New("websocket: message too big")

	// ErrTransport marks a fatal transport I/O failure. No close frame
	// is sent; the Connection transitions directly to Closed.
	ErrTransport = errors.New("websocket: transport error")

	// ErrConnClosed is returned by Connection operations attempted
	// after the close handshake has completed (or after a fatal error).
	ErrConnClosed = errors.New("websocket: connection closed")

	// ErrControlPayloadTooLarge indicates an outbound Ping/Pong/Close
	// payload exceeds the 125-byte control frame limit.
	ErrControlPayloadTooLarge = errors.New("websocket: control payload exceeds 125 bytes")

	// ErrInvalidMessageType is returned by Connection.Send when asked
	// to send an opcode other than OpText or OpBinary.
	ErrInvalidMessageType = errors.New("websocket: unexpected message type")
)
