// Package wire provides message framing for telestream connections.
//
// A connection carries two kinds of frames: text frames holding plain JSON
// messages and binary frames holding columnar payloads. Two transports
// implement Conn:
//
//   - WebSocket (gorilla/websocket): the frame kind is the WebSocket
//     message type.
//   - Raw stream (TCP): frames are length-delimited with protobuf's standard
//     varint encoding: varint(len) | kind byte | payload, where len counts
//     the kind byte and the payload.
//
// Every frame is written in a single call so peers never observe a partial
// frame.
package wire

import (
	"fmt"

	"github.com/xtxerr/telestream/internal/constants"
)

// Kind is the type of a frame.
type Kind byte

const (
	KindText   Kind = Kind(constants.FrameKindText)
	KindBinary Kind = Kind(constants.FrameKindBinary)
)

// String returns a human-readable frame kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Valid reports whether k is a known frame kind.
func (k Kind) Valid() bool { return k == KindText || k == KindBinary }

// Frame is one complete message on the wire.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Text builds a text frame.
func Text(payload []byte) Frame { return Frame{Kind: KindText, Payload: payload} }

// Binary builds a binary frame.
func Binary(payload []byte) Frame { return Frame{Kind: KindBinary, Payload: payload} }

// IsBinary reports whether f carries a columnar payload.
func (f Frame) IsBinary() bool { return f.Kind == KindBinary }

// Conn is a bidirectional frame connection.
//
// ReadFrame is called from one goroutine only. WriteFrame is safe for
// concurrent use. Close is idempotent and unblocks a pending ReadFrame.
//
// Read and write failures are transport errors (errors.IsTransport);
// a clean close by the peer wraps errors.ErrPeerClosed. A frame that cannot
// be framed (unknown kind, too large) is a decode error and the connection
// stays usable.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
	RemoteAddr() string
}
