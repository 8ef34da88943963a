package wire

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xtxerr/telestream/config"
	"github.com/xtxerr/telestream/internal/errors"
)

// WSConn adapts a gorilla WebSocket connection to Conn.
//
// gorilla allows one concurrent writer; WriteFrame serializes writers with
// a mutex. Close does not take it.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewWSConn wraps conn. maxSize limits inbound messages (<= 0 selects
// DefaultMaxMessageSize); writeTimeout bounds each write (<= 0 selects
// DefaultWriteTimeout).
func NewWSConn(conn *websocket.Conn, maxSize int, writeTimeout time.Duration) *WSConn {
	if maxSize <= 0 {
		maxSize = config.DefaultMaxMessageSize
	}
	if writeTimeout <= 0 {
		writeTimeout = config.DefaultWriteTimeout
	}
	conn.SetReadLimit(int64(maxSize))
	return &WSConn{conn: conn, writeTimeout: writeTimeout}
}

// ReadFrame reads the next data message.
func (c *WSConn) ReadFrame() (Frame, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return Frame{}, errors.Transport("read message", errors.ErrPeerClosed)
		}
		return Frame{}, errors.Transport("read message", err)
	}

	switch mt {
	case websocket.TextMessage:
		return Text(data), nil
	case websocket.BinaryMessage:
		return Binary(data), nil
	default:
		return Frame{}, errors.Decodef(errors.ErrUnexpectedFrame, "websocket message type %d", mt)
	}
}

// WriteFrame writes f as one WebSocket message.
func (c *WSConn) WriteFrame(f Frame) error {
	if c.closed.Load() {
		return errors.Transport("write message", errors.ErrSessionClosed)
	}

	var mt int
	switch f.Kind {
	case KindText:
		mt = websocket.TextMessage
	case KindBinary:
		mt = websocket.BinaryMessage
	default:
		return errors.Encodef(errors.ErrUnexpectedFrame, "write %s frame", f.Kind)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(mt, f.Payload); err != nil {
		return errors.Transport("write message", err)
	}
	return nil
}

// Close sends a close message, best effort, and closes the connection.
func (c *WSConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// WriteControl and Close may run concurrently with a blocked writer.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
