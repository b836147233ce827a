// Package websocket implements the RFC 6455 WebSocket base framing
// protocol and the stateful connection built on top of it.
//
// The package is split by concern, following RFC 6455 itself:
//   - opcode.go and frame.go hold the pure data model (Section 5.2).
//   - utf8.go is a resumable UTF-8 validator (Section 8.1).
//   - codec.go is the streaming frame decoder/encoder (Section 5).
//   - assembler.go reassembles fragmented messages (Section 5.4).
//   - conn.go is the Connection: message I/O, control-frame handling,
//     and the closing handshake (Sections 5.5, 7).
//   - handshake.go is the opening handshake (Section 4).
//   - hub.go is a small connection registry for fan-out servers.
//
// RFC Reference: https://datatracker.ietf.org/doc/html/rfc6455
package websocket
