package testutil

import (
	"sync"
	"time"

	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/wire"
)

const pipeBuffer = 4096

// Conn is one end of an in-memory wire.Conn pair. Frames written on one end
// are read on the other in order. Every written frame is also recorded.
type Conn struct {
	name   string
	in     chan wire.Frame
	peer   *Conn
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	written    []wire.Frame
	writeTimes []time.Time
	failWrites error
}

// Pipe returns two connected ends.
func Pipe() (*Conn, *Conn) {
	a := &Conn{name: "pipe-a", in: make(chan wire.Frame, pipeBuffer), closed: make(chan struct{})}
	b := &Conn{name: "pipe-b", in: make(chan wire.Frame, pipeBuffer), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// ReadFrame returns the next frame written by the peer.
func (c *Conn) ReadFrame() (wire.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return wire.Frame{}, errors.Transport("read frame", errors.ErrSessionClosed)
	case <-c.peer.closed:
		// Drain what the peer wrote before closing.
		select {
		case f := <-c.in:
			return f, nil
		default:
		}
		return wire.Frame{}, errors.Transport("read frame", errors.ErrPeerClosed)
	}
}

// WriteFrame delivers f to the peer.
func (c *Conn) WriteFrame(f wire.Frame) error {
	c.mu.Lock()
	failErr := c.failWrites
	c.mu.Unlock()

	if failErr != nil {
		return errors.Transport("write frame", failErr)
	}

	select {
	case <-c.closed:
		return errors.Transport("write frame", errors.ErrSessionClosed)
	case <-c.peer.closed:
		return errors.Transport("write frame", errors.ErrPeerClosed)
	default:
	}

	cp := wire.Frame{Kind: f.Kind, Payload: append([]byte(nil), f.Payload...)}

	c.mu.Lock()
	c.written = append(c.written, cp)
	c.writeTimes = append(c.writeTimes, time.Now())
	c.mu.Unlock()

	select {
	case c.peer.in <- cp:
		return nil
	case <-c.closed:
		return errors.Transport("write frame", errors.ErrSessionClosed)
	case <-c.peer.closed:
		return errors.Transport("write frame", errors.ErrPeerClosed)
	}
}

// Close closes this end. The peer's reads then fail with ErrPeerClosed.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// RemoteAddr returns a fixed name for the end.
func (c *Conn) RemoteAddr() string { return c.peer.name }

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done is closed when Close is called.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// FailWrites makes every later WriteFrame fail with err. nil restores writes.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.failWrites = err
	c.mu.Unlock()
}

// Written returns a snapshot of the frames written on this end.
func (c *Conn) Written() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Frame, len(c.written))
	copy(out, c.written)
	return out
}

// WriteTimes returns when each recorded frame was written.
func (c *Conn) WriteTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, len(c.writeTimes))
	copy(out, c.writeTimes)
	return out
}

var _ wire.Conn = (*Conn)(nil)
