package wire

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/telestream/config"
	"github.com/xtxerr/telestream/internal/errors"
)

// maxVarintLen is the longest encoding of a uint64 varint.
const maxVarintLen = 10

// StreamConn frames messages over a byte stream such as a TCP connection.
type StreamConn struct {
	rwc    io.ReadWriteCloser
	r      *bufio.Reader
	remote string

	maxSize int

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewStreamConn wraps a byte stream. If rwc is a net.Conn its remote address
// is reported by RemoteAddr. maxSize <= 0 selects DefaultMaxMessageSize.
func NewStreamConn(rwc io.ReadWriteCloser, maxSize int) *StreamConn {
	if maxSize <= 0 {
		maxSize = config.DefaultMaxMessageSize
	}
	remote := "stream"
	if nc, ok := rwc.(net.Conn); ok && nc.RemoteAddr() != nil {
		remote = nc.RemoteAddr().String()
	}
	return &StreamConn{
		rwc:     rwc,
		r:       bufio.NewReader(rwc),
		remote:  remote,
		maxSize: maxSize,
	}
}

// AppendFrame appends the encoded form of f to b.
func AppendFrame(b []byte, f Frame) []byte {
	b = protowire.AppendVarint(b, uint64(len(f.Payload)+1))
	b = append(b, byte(f.Kind))
	return append(b, f.Payload...)
}

// WriteFrame writes one frame with a single Write call.
func (c *StreamConn) WriteFrame(f Frame) error {
	if c.closed.Load() {
		return errors.Transport("write frame", errors.ErrSessionClosed)
	}
	if !f.Kind.Valid() {
		return errors.Encodef(errors.ErrUnexpectedFrame, "write %s frame", f.Kind)
	}
	if len(f.Payload)+1 > c.maxSize {
		return errors.Encodef(errors.ErrMessageTooLarge, "frame of %d bytes", len(f.Payload))
	}

	buf := AppendFrame(make([]byte, 0, len(f.Payload)+maxVarintLen+1), f)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rwc.Write(buf); err != nil {
		return errors.Transport("write frame", err)
	}
	return nil
}

// ReadFrame reads the next frame. Oversized or unknown-kind frames are
// skipped and reported as decode errors; the stream stays in sync.
func (c *StreamConn) ReadFrame() (Frame, error) {
	n, err := c.readLength()
	if err != nil {
		return Frame{}, err
	}
	if n == 0 {
		return Frame{}, errors.Decodef(errors.ErrEmptyFrame, "zero-length frame")
	}

	if n > uint64(c.maxSize) {
		if _, err := io.CopyN(io.Discard, c.r, int64(n)); err != nil {
			return Frame{}, c.readErr(err)
		}
		return Frame{}, errors.Decodef(errors.ErrMessageTooLarge, "frame of %d bytes exceeds %d", n, c.maxSize)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return Frame{}, c.readErr(err)
	}

	f := Frame{Kind: Kind(buf[0]), Payload: buf[1:]}
	if !f.Kind.Valid() {
		return Frame{}, errors.Decodef(errors.ErrUnexpectedFrame, "unknown frame %s", f.Kind)
	}
	return f, nil
}

func (c *StreamConn) readLength() (uint64, error) {
	var hdr [maxVarintLen]byte
	for i := 0; i < maxVarintLen; i++ {
		b, err := c.r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, c.readErr(err)
		}
		hdr[i] = b
		if b < 0x80 {
			v, m := protowire.ConsumeVarint(hdr[:i+1])
			if m < 0 {
				return 0, errors.Transport("read frame length", protowire.ParseError(m))
			}
			return v, nil
		}
	}
	return 0, errors.Transport("read frame length", protowire.ParseError(-1))
}

func (c *StreamConn) readErr(err error) error {
	if err == io.EOF || c.closed.Load() {
		return errors.Transport("read frame", errors.ErrPeerClosed)
	}
	return errors.Transport("read frame", err)
}

// Close closes the underlying stream.
func (c *StreamConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.rwc.Close()
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() string { return c.remote }
