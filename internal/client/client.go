// Package client connects to a telestream server.
//
// A Client sends sync requests and receives the streamed datapoints of its
// session. Replies carry no request id: the server answers requests in the
// order it read them, so the client matches replies to requests in FIFO
// order.
package client

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xtxerr/telestream/config"
	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/message"
	"github.com/xtxerr/telestream/internal/types"
	"github.com/xtxerr/telestream/internal/wire"
)

var log = logging.Component("client")

// =============================================================================
// State Machine
// =============================================================================

// State represents the connection state of a client.
type State int32

const (
	StateConnected State = iota
	StateDisconnected
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

type stateTransition struct {
	from State
	to   State
}

var validTransitions = map[stateTransition]bool{
	// Peer went away
	{StateConnected, StateDisconnected}: true,

	// Close
	{StateConnected, StateClosing}:    true,
	{StateDisconnected, StateClosing}: true,
	{StateClosing, StateClosed}:       true,
}

// =============================================================================
// Client
// =============================================================================

// Options configures a client.
type Options struct {
	// DialTimeout bounds connection setup when ctx has no deadline.
	DialTimeout time.Duration

	// WriteTimeout bounds a websocket frame write.
	WriteTimeout time.Duration

	// MaxMessageSize bounds inbound frames.
	MaxMessageSize int

	// BufferSize is the capacity of the Datapoints channel. When it is
	// full, new datapoints are dropped and counted.
	BufferSize int
}

// DefaultOptions returns default client options.
func DefaultOptions() Options {
	return Options{
		DialTimeout:    10 * time.Second,
		WriteTimeout:   config.DefaultWriteTimeout,
		MaxMessageSize: 64 * config.DefaultMaxMessageSize,
		BufferSize:     config.DefaultQueueSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	return o
}

type pendingReply struct {
	updates []message.Update
	err     error
}

// Client is a connection to a telestream server.
//
// Client is safe for concurrent use.
type Client struct {
	conn  wire.Conn
	state atomic.Int32

	// writeMu orders request writes with the pending queue.
	writeMu sync.Mutex
	pending []chan pendingReply

	datapoints chan types.Sample
	dropped    atomic.Uint64

	errMu sync.Mutex
	err   error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects over WebSocket to url, e.g. "ws://127.0.0.1:3030/datastore".
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	ctx, cancel := withDialTimeout(ctx, opts.DialTimeout)
	defer cancel()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(wire.NewWSConn(ws, opts.MaxMessageSize, opts.WriteTimeout), opts), nil
}

// DialTCP connects over the raw TCP transport.
func DialTCP(ctx context.Context, addr string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	ctx, cancel := withDialTimeout(ctx, opts.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(wire.NewStreamConn(conn, opts.MaxMessageSize), opts), nil
}

func withDialTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// New wraps an established connection and starts reading from it.
func New(conn wire.Conn, opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{
		conn:       conn,
		datapoints: make(chan types.Sample, opts.BufferSize),
		done:       make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))
	go c.readLoop()
	return c
}

// =============================================================================
// State
// =============================================================================

func (c *Client) getState() State {
	return State(c.state.Load())
}

func (c *Client) transitionFrom(from, to State) bool {
	if !validTransitions[stateTransition{from: from, to: to}] {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// State returns the current state.
func (c *Client) State() State { return c.getState() }

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Dropped returns how many datapoints were dropped on a full buffer.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Datapoints delivers streamed samples. The channel is closed when the
// connection ends.
func (c *Client) Datapoints() <-chan types.Sample { return c.datapoints }

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if !c.transitionFrom(StateConnected, StateClosing) {
			c.transitionFrom(StateDisconnected, StateClosing)
		}
		err = c.conn.Close()
		<-c.done
		c.transitionFrom(StateClosing, StateClosed)
	})
	return err
}

// =============================================================================
// Requests
// =============================================================================

// Sync sends req and waits for its reply. Topics the server does not know
// are absent from the result.
func (c *Client) Sync(ctx context.Context, req message.Request) ([]message.Update, error) {
	payload, err := message.Marshal(message.Message{Request: &req})
	if err != nil {
		return nil, err
	}

	ch := make(chan pendingReply, 1)

	c.writeMu.Lock()
	if st := c.getState(); st != StateConnected {
		c.writeMu.Unlock()
		return nil, fmt.Errorf("sync: %s: %w", st, errors.ErrNotConnected)
	}
	c.pending = append(c.pending, ch)
	err = c.conn.WriteFrame(wire.Text(payload))
	if err != nil {
		c.pending = c.pending[:len(c.pending)-1]
	}
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case r := <-ch:
		return r.updates, r.err
	case <-ctx.Done():
		// The reply slot stays queued so later replies still line up.
		return nil, ctx.Err()
	}
}

// Publish sends a sample to the server. The server stores it only when it
// accepts ingest.
func (c *Client) Publish(s types.Sample) error {
	payload, err := message.Marshal(message.NewDatapoint(s))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if st := c.getState(); st != StateConnected {
		return fmt.Errorf("publish: %s: %w", st, errors.ErrNotConnected)
	}
	return c.conn.WriteFrame(wire.Text(payload))
}

// =============================================================================
// Read Loop
// =============================================================================

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		c.errMu.Lock()
		c.err = readErr
		c.errMu.Unlock()

		c.transitionFrom(StateConnected, StateDisconnected)

		c.writeMu.Lock()
		for _, ch := range c.pending {
			ch <- pendingReply{err: errors.Transport("await reply", errors.ErrPeerClosed)}
		}
		c.pending = nil
		c.writeMu.Unlock()

		close(c.datapoints)
		close(c.done)
	}()

	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			if errors.KindOf(err) == errors.KindDecode {
				log.Warn("frame discarded", "error", err)
				continue
			}
			if st := c.getState(); st == StateConnected && !errors.Is(err, errors.ErrPeerClosed) {
				readErr = err
			}
			return
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f wire.Frame) {
	if f.IsBinary() {
		s, err := codec.DecodeColumnar(f.Payload)
		if err != nil {
			log.Warn("columnar frame discarded", "error", err)
			return
		}
		c.deliver(s)
		return
	}

	trimmed := bytes.TrimSpace(f.Payload)
	msgs, err := message.UnmarshalBatch(trimmed)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		c.reply(msgs, err)
		return
	}
	if err != nil {
		log.Warn("text frame discarded", "error", err)
		return
	}

	for _, m := range msgs {
		switch m.Kind() {
		case message.KindNewDatapoint:
			c.deliver(*m.NewDatapoint)
		case message.KindUpdate:
			for _, p := range m.Update.Data {
				c.deliver(types.Sample{Topic: m.Update.Topic, Time: p.Time, Value: p.Value})
			}
		default:
			log.Debug("unexpected message from server", "kind", m.Kind().String())
		}
	}
}

// reply hands a reply to the oldest waiting Sync.
func (c *Client) reply(msgs []message.Message, err error) {
	c.writeMu.Lock()
	if len(c.pending) == 0 {
		c.writeMu.Unlock()
		log.Warn("unsolicited reply discarded")
		return
	}
	ch := c.pending[0]
	c.pending = c.pending[1:]
	c.writeMu.Unlock()

	r := pendingReply{err: err}
	if err == nil {
		r.updates = make([]message.Update, 0, len(msgs))
		for _, m := range msgs {
			if m.Update != nil {
				r.updates = append(r.updates, *m.Update)
			}
		}
	}
	ch <- r
}

func (c *Client) deliver(s types.Sample) {
	select {
	case c.datapoints <- s:
	default:
		c.dropped.Add(1)
	}
}
