package websocket

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Mode identifies which side of the connection this process plays.
// It is set at construction and never changes.
type Mode int

const (
	// ModeServer means frames we send must be unmasked and frames we
	// receive must be masked.
	ModeServer Mode = iota
	// ModeClient means frames we send must be masked and frames we
	// receive must be unmasked.
	ModeClient
)

func (m Mode) String() string {
	if m == ModeClient {
		return "client"
	}
	return "server"
}

type closeState byte

const (
	closeOpen closeState = iota
	closeLocalClosing
	closeRemoteClosing
	closeClosed
)

// CloseInfo records the code and reason the peer (or we) gave when the
// closing handshake completed.
type CloseInfo struct {
	Code   CloseCode
	Reason string
}

// Connection is a duplex WebSocket message channel over an established
// transport (RFC 6455 Sections 4-8). It owns a Decoder configured for
// its Mode, an Assembler, and the four-state closing handshake; pings
// are answered automatically and Close frames drive the handshake
// without application intervention.
//
// A Connection is driven by a single goroutine calling Recv in a loop;
// Send/Ping/Close may be called concurrently from other goroutines and
// are serialized internally on the write side.
type Connection struct {
	mode Mode
	nc   net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	dec *Decoder
	asm *Assembler
	rnd io.Reader

	log zerolog.Logger

	readBuf []byte

	writeMu sync.Mutex

	closeMu    sync.Mutex
	closeState closeState
	closeInfo  CloseInfo
}

// Options configures a Connection at construction time. The zero
// value is valid: it yields a no-op logger, crypto/rand.Reader for
// masking, no reserved extension bits, and a 32 MiB message cap.
type Options struct {
	Logger         zerolog.Logger
	Rand           io.Reader
	ReservedBits   byte
	MaxMessageSize int
}

const defaultMaxMessageSize = 32 << 20

// NewConnection wraps an established net.Conn (already switched to
// the WebSocket protocol by a prior Upgrade or Dial) as a Connection
// in the given Mode.
func NewConnection(nc net.Conn, mode Mode, opts *Options) *Connection {
	if opts == nil {
		opts = &Options{}
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = defaultRandSource
	}
	maxSize := opts.MaxMessageSize
	if maxSize == 0 {
		maxSize = defaultMaxMessageSize
	}

	log := opts.Logger
	if reflect.DeepEqual(log, zerolog.Logger{}) {
		log = zerolog.Nop()
	}

	peerIsClient := mode == ModeServer
	return &Connection{
		mode: mode,
		nc:   nc,
		br:   bufio.NewReader(nc),
		bw:   bufio.NewWriter(nc),
		dec:  NewDecoder(peerIsClient, opts.ReservedBits),
		asm:  NewAssembler(maxSize),
		rnd:  rnd,
		log:  log,
	}
}

// Mode reports whether this Connection plays the client or server role.
func (c *Connection) Mode() Mode { return c.mode }

// CloseInfo returns the code and reason the closing handshake
// completed with, valid once Recv has returned ErrConnClosed.
func (c *Connection) CloseInfo() CloseInfo {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeInfo
}

// fill reads more bytes from the transport into readBuf.
func (c *Connection) fill() error {
	tmp := make([]byte, 4096)
	n, err := c.br.Read(tmp)
	if n > 0 {
		c.readBuf = append(c.readBuf, tmp[:n]...)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Recv blocks until a whole Text or Binary message surfaces, the
// connection finishes its closing handshake (ErrConnClosed, with
// CloseInfo populated), or a fatal error occurs. Ping/Pong/Close
// control frames are handled transparently and never surface here.
func (c *Connection) Recv() (*Message, error) {
	for {
		c.closeMu.Lock()
		terminal := c.closeState == closeClosed
		c.closeMu.Unlock()
		if terminal {
			return nil, ErrConnClosed
		}

		frame, consumed, err := c.dec.Decode(c.readBuf)
		c.readBuf = c.readBuf[consumed:]
		if err != nil {
			c.failAndClose(err)
			return nil, err
		}
		if frame == nil {
			if err := c.fill(); err != nil {
				c.failAndClose(err)
				return nil, err
			}
			continue
		}

		if frame.OpCode.IsControl() {
			if err := c.handleControl(frame); err != nil {
				return nil, err
			}
			continue
		}

		msg, err := c.asm.Feed(frame)
		if err != nil {
			c.failAndClose(err)
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

func (c *Connection) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeState == closeClosed
}

// handleControl routes a decoded control frame: Ping is answered with
// an identical-payload Pong, Pong is discarded, Close drives the
// closing handshake (returning ErrConnClosed once it completes).
func (c *Connection) handleControl(f *Frame) error {
	switch f.OpCode {
	case OpPing:
		c.log.Debug().Int("len", len(f.Payload)).Msg("answering ping with pong")
		return c.writeControl(OpPong, f.Payload)
	case OpPong:
		return nil
	case OpClose:
		return c.handleCloseFrame(f.Payload)
	default:
		return nil
	}
}

func parseClosePayload(payload []byte) (CloseCode, string, error) {
	if len(payload) == 0 {
		return CloseNoStatusReceived, "", nil
	}
	if len(payload) < 2 {
		return 0, "", fmt.Errorf("%w: close payload shorter than status code", ErrProtocolViolation)
	}
	code := CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	if !code.validOnWire() {
		return 0, "", fmt.Errorf("%w: invalid close code %d", ErrProtocolViolation, code)
	}
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", fmt.Errorf("%w: close reason is not valid UTF-8", ErrInvalidUTF8)
	}
	return code, string(reason), nil
}

// handleCloseFrame implements the Close column of the closing
// handshake table (spec.md Section 4.4): it applies the receive-side
// transition and, when we have not already initiated closing
// ourselves, echoes the peer's code back before tearing down.
func (c *Connection) handleCloseFrame(payload []byte) error {
	code, reason, perr := parseClosePayload(payload)
	if perr != nil {
		code = CloseProtocolError
		reason = ""
	}

	c.closeMu.Lock()
	prior := c.closeState
	switch prior {
	case closeOpen:
		c.closeState = closeRemoteClosing
	case closeLocalClosing:
		c.closeState = closeClosed
	}
	c.closeInfo = CloseInfo{Code: code, Reason: reason}
	c.closeMu.Unlock()

	if prior == closeOpen {
		// We had not initiated closing: echo the peer's code, which
		// completes RemoteClosing -> Closed. A Close without a status
		// code is answered with 1000, since 1005 may not be sent.
		echo := code
		if echo == CloseNoStatusReceived {
			echo = CloseNormalClosure
		}
		_ = c.sendClose(echo, "")
	}
	c.teardown()
	c.log.Debug().Int("code", int(code)).Str("reason", reason).Msg("closing handshake completed")

	if perr != nil {
		return perr
	}
	return ErrConnClosed
}

// writeControl serializes and writes a single control frame.
func (c *Connection) writeControl(op OpCode, payload []byte) error {
	f := &Frame{Fin: true, OpCode: op, Payload: payload}
	return c.writeFrame(f)
}

// writeFrame masks f (in Client mode, with a fresh random key) and
// writes it to the transport, serialized against concurrent writers.
func (c *Connection) writeFrame(f *Frame) error {
	if f.OpCode.IsControl() && len(f.Payload) > maxControlPayload {
		return ErrControlPayloadTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.mode == ModeClient {
		f.Masked = true
		mask, err := newMask(c.rnd)
		if err != nil {
			return err
		}
		f.Mask = mask
	}

	buf, err := Encode(nil, f)
	if err != nil {
		return err
	}
	_, err = c.bw.Write(buf)
	if err == nil {
		err = c.bw.Flush()
	}
	if err != nil {
		// A transport failure is fatal: no Close frame can follow it.
		c.closeMu.Lock()
		c.closeState = closeClosed
		c.closeMu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Send writes a whole Text or Binary message as a single unfragmented
// frame. Text payloads are rejected if not valid UTF-8.
func (c *Connection) Send(opcode OpCode, payload []byte) error {
	if opcode != OpText && opcode != OpBinary {
		return ErrInvalidMessageType
	}
	if opcode == OpText && !utf8.Valid(payload) {
		return fmt.Errorf("%w", ErrInvalidUTF8)
	}
	return c.writeFrame(&Frame{Fin: true, OpCode: opcode, Payload: payload})
}

// Ping sends a Ping control frame; payload must be 125 bytes or fewer.
func (c *Connection) Ping(payload []byte) error {
	if len(payload) > maxControlPayload {
		return ErrControlPayloadTooLarge
	}
	return c.writeControl(OpPing, payload)
}

// Close initiates the closing handshake with the given code and
// reason, applying the send-side transition of the closing handshake
// table. It is safe to call more than once; only the first call that
// finds the connection Open or RemoteClosing actually writes a frame.
func (c *Connection) Close(code CloseCode, reason string) error {
	err := c.sendClose(code, reason)
	if c.isClosed() {
		c.teardown()
	}
	return err
}

// sendClose applies the send-Close state transition and writes
// a Close frame to the wire when the transition calls for it.
func (c *Connection) sendClose(code CloseCode, reason string) error {
	c.closeMu.Lock()
	var shouldWrite bool
	switch c.closeState {
	case closeOpen:
		c.closeState = closeLocalClosing
		c.closeInfo = CloseInfo{Code: code, Reason: reason}
		shouldWrite = true
	case closeRemoteClosing:
		// closeInfo keeps the code and reason the peer sent.
		c.closeState = closeClosed
		shouldWrite = true
	default:
		shouldWrite = false
	}
	c.closeMu.Unlock()

	if !shouldWrite {
		return nil
	}

	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	return c.writeControl(OpClose, payload)
}

// failAndClose reports a fatal failure, attempts to close with the
// appropriate status code, moves the Connection to Closed, and tears
// down the transport. Per spec.md Section 7, transport errors never
// get a Close frame.
func (c *Connection) failAndClose(cause error) {
	c.log.Warn().Err(cause).Str("mode", c.mode.String()).Msg("websocket connection failing")

	switch {
	case errIsTransport(cause):
		// No Close frame after a transport failure.
	case errIsInvalidUTF8(cause):
		_ = c.sendClose(CloseInvalidFramePayloadData, "")
	case errIsMessageTooBig(cause):
		_ = c.sendClose(CloseMessageTooBig, "")
	default:
		_ = c.sendClose(CloseProtocolError, "")
	}
	c.closeMu.Lock()
	c.closeState = closeClosed
	c.closeMu.Unlock()
	c.teardown()
}

func errIsTransport(err error) bool     { return errors.Is(err, ErrTransport) }
func errIsInvalidUTF8(err error) bool   { return errors.Is(err, ErrInvalidUTF8) }
func errIsMessageTooBig(err error) bool { return errors.Is(err, ErrMessageTooBig) }

// teardown half-closes the write side (when supported) and then
// closes the transport outright, per spec.md Section 4.4's ordering:
// write side first, then the read side is released for the peer's FIN.
func (c *Connection) teardown() {
	if cw, ok := c.nc.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	_ = c.nc.Close()
}
