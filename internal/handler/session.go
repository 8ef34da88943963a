package handler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/telestream/config"
	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/metrics"
	"github.com/xtxerr/telestream/internal/wire"
)

var log = logging.Component("session")

// =============================================================================
// Session
// =============================================================================

// SessionConfig holds streaming options for one session.
type SessionConfig struct {
	// RateHz is the tick rate. Zero or negative disables streaming; the
	// session then only answers requests.
	RateHz float64

	// Encoding selects plain or columnar frames for streamed samples.
	Encoding codec.Encoding

	// QueueSize is the capacity of the frame queue between ticker and sender.
	QueueSize int

	// SendTimeout is how long an enqueue waits on a full queue before the
	// frame is dropped.
	SendTimeout time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = config.DefaultQueueSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = config.DefaultSendTimeout
	}
	return c
}

// Interval returns the send interval, floored at MinSendIntervalMs.
func (c SessionConfig) Interval() time.Duration {
	if c.RateHz <= 0 {
		return 0
	}
	d := time.Duration(float64(time.Second) / c.RateHz)
	if floor := time.Duration(config.MinSendIntervalMs) * time.Millisecond; d < floor {
		d = floor
	}
	return d
}

// Session is the per-connection pipeline.
//
// Four goroutines run under one errgroup:
//
//   - reader: reads inbound frames and hands them to the Handler
//   - ticker: produces one sample per interval and enqueues its frame
//   - sender: drains the queue in FIFO order and writes each frame
//   - closer: closes the connection once the group's context is done
//
// The ticker never touches the connection. Any transport error cancels the
// group; the session then closes its connection and returns.
type Session struct {
	// Immutable
	ID        string
	Remote    string
	CreatedAt time.Time

	conn    wire.Conn
	handler *Handler
	source  Source
	codec   *codec.Codec
	metrics *metrics.Metrics
	cfg     SessionConfig

	sendCh chan wire.Frame
	stats  *SessionStats

	// Owned by the ticker goroutine.
	start    time.Time
	lastSend uint64

	stopCh    chan struct{}
	stopOnce  sync.Once
	closed    atomic.Bool
	closeOnce sync.Once
	onClose   func(*Session)
}

// NewSession creates a session on conn. source may be nil when cfg.RateHz
// is zero. cd may be nil, in which case the session gets its own codec.
func NewSession(conn wire.Conn, h *Handler, source Source, cd *codec.Codec, m *metrics.Metrics, cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	if cd == nil {
		cd = codec.New()
	}
	return &Session{
		ID:        uuid.NewString(),
		Remote:    conn.RemoteAddr(),
		CreatedAt: time.Now(),
		conn:      conn,
		handler:   h,
		source:    source,
		codec:     cd,
		metrics:   m,
		cfg:       cfg,
		sendCh:    make(chan wire.Frame, cfg.QueueSize),
		stats:     newSessionStats(),
		stopCh:    make(chan struct{}),
	}
}

// Stats returns the session's counters.
func (s *Session) Stats() StatsSnapshot { return s.stats.Snapshot() }

// IsClosed reports whether the session has ended.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// Close asks a running session to stop. Run then returns nil.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Run drives the session until the peer disconnects, a transport error
// occurs, Close is called or ctx is cancelled. Only a transport error is
// returned; every other end returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx = logging.ContextWithSessionID(ctx, s.ID)
	ctx = logging.ContextWithRemote(ctx, s.Remote)
	logger := logging.WithContext(ctx)

	s.metrics.SessionStarted()
	logger.Info("session started",
		"rate_hz", s.cfg.RateHz,
		"encoding", s.cfg.Encoding.String())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.sendLoop(gctx) })
	if s.cfg.RateHz > 0 && s.source != nil {
		g.Go(func() error { return s.tickLoop(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stopCh:
		}
		s.conn.Close()
		return nil
	})

	err := g.Wait()
	s.finish()

	switch {
	case err == nil, ctx.Err() != nil, s.stopped(), errors.Is(err, errors.ErrPeerClosed):
		logger.Info("session ended", s.stats.Snapshot().LogArgs()...)
		return nil
	default:
		logger.Warn("session failed", append([]any{"error", err}, s.stats.Snapshot().LogArgs()...)...)
		return err
	}
}

func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.conn.Close()
		s.metrics.SessionEnded()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// =============================================================================
// Reader
// =============================================================================

func (s *Session) readLoop(ctx context.Context) error {
	for {
		f, err := s.conn.ReadFrame()
		if err != nil {
			if errIsRecoverable(err) {
				s.decodeError(ctx, err)
				continue
			}
			return err
		}

		replies, err := s.handler.HandleFrame(ctx, f)
		if err != nil {
			s.decodeError(ctx, err)
		}
		s.stats.add(&s.stats.requests, uint64(len(replies)))

		for _, r := range replies {
			if err := s.enqueueWait(ctx, r); err != nil {
				return err
			}
		}
	}
}

func (s *Session) decodeError(ctx context.Context, err error) {
	s.stats.add(&s.stats.decodeErrors, 1)
	s.metrics.DecodeError()
	logging.WithContext(ctx).Warn("inbound frame discarded", "error", err)
}

// =============================================================================
// Ticker
// =============================================================================

func (s *Session) tickLoop(ctx context.Context) error {
	interval := s.cfg.Interval()
	intervalMs := uint64(interval / time.Millisecond)
	if intervalMs == 0 {
		intervalMs = config.MinSendIntervalMs
	}

	s.start = time.Now()
	s.lastSend = 0

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		elapsed := uint64(time.Since(s.start) / time.Millisecond)
		if elapsed-s.lastSend >= intervalMs {
			s.tick(ctx, elapsed, intervalMs)
		}

		// Sleep until the next interval boundary, so time spent in the
		// loop body does not accumulate.
		next := s.start.Add(time.Duration(s.lastSend+intervalMs) * time.Millisecond)
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// tick fires once. lastSend is quantized to the interval grid; intervals
// missed while the ticker was behind are dropped, not replayed.
func (s *Session) tick(ctx context.Context, elapsed, intervalMs uint64) {
	boundary := elapsed / intervalMs * intervalMs
	if missed := (boundary-s.lastSend)/intervalMs - 1; missed > 0 {
		s.stats.add(&s.stats.ticksSkipped, missed)
		s.metrics.TicksSkipped(missed)
	}
	s.lastSend = boundary

	sample, ok := s.source.Sample(ctx, boundary)
	if !ok {
		return
	}

	payload, err := s.codec.Encode(sample, s.cfg.Encoding)
	binary := s.cfg.Encoding.Binary()
	if err != nil && binary && errors.IsEncode(err) {
		logging.WithContext(ctx).Warn("columnar encode failed, sending plain",
			"topic", sample.Topic,
			"time", sample.Time,
			"error", err)
		s.stats.add(&s.stats.fallbacks, 1)
		s.metrics.EncodeFallback()
		payload, err = codec.EncodePlain(sample)
		binary = false
	}
	if err != nil {
		logging.WithContext(ctx).Error("sample encode failed, tick skipped",
			"topic", sample.Topic,
			"error", err)
		return
	}

	f := wire.Text(payload)
	if binary {
		f = wire.Binary(payload)
	}
	s.enqueue(ctx, f)
}

// =============================================================================
// Queue
// =============================================================================

// enqueue queues a streamed frame. It never blocks longer than SendTimeout;
// on a full queue the frame is dropped.
func (s *Session) enqueue(ctx context.Context, f wire.Frame) bool {
	select {
	case s.sendCh <- f:
		return true
	default:
	}

	timer := time.NewTimer(s.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case s.sendCh <- f:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		s.stats.add(&s.stats.dropped, 1)
		s.metrics.FrameDropped()
		logging.WithContext(ctx).Warn("send queue full, dropping frame",
			"timeout", s.cfg.SendTimeout,
			"queue_size", s.cfg.QueueSize)
		return false
	}
}

// enqueueWait queues a reply frame, waiting as long as the session lives.
func (s *Session) enqueueWait(ctx context.Context, f wire.Frame) error {
	select {
	case s.sendCh <- f:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// =============================================================================
// Sender
// =============================================================================

func (s *Session) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-s.sendCh:
			start := time.Now()
			if err := s.conn.WriteFrame(f); err != nil {
				return err
			}
			took := time.Since(start)

			s.stats.recordWrite(len(f.Payload), took)
			enc := codec.EncodingPlain
			if f.IsBinary() {
				enc = codec.EncodingColumnar
			}
			s.metrics.FrameSent(enc.String(), len(f.Payload), took)
		}
	}
}

// =============================================================================
// Session Manager
// =============================================================================

// SessionManager tracks live sessions.
//
// SessionManager is safe for concurrent use.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closing  bool

	wg sync.WaitGroup
}

// NewSessionManager creates an empty manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Serve registers s, runs it and removes it when it ends. It blocks for
// the lifetime of the session. After CloseAll, s is closed without running.
func (sm *SessionManager) Serve(ctx context.Context, s *Session) error {
	sm.mu.Lock()
	if sm.closing {
		sm.mu.Unlock()
		s.conn.Close()
		return errors.ErrSessionClosed
	}
	sm.sessions[s.ID] = s
	sm.wg.Add(1)
	sm.mu.Unlock()

	s.onClose = sm.remove
	defer sm.wg.Done()
	return s.Run(ctx)
}

func (sm *SessionManager) remove(s *Session) {
	sm.mu.Lock()
	delete(sm.sessions, s.ID)
	sm.mu.Unlock()
	log.Debug("session removed", "session_id", s.ID)
}

// Get returns a session by ID.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll stops every live session and waits for them to end. The
// manager accepts no sessions afterwards.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sm.closing = true
	for _, s := range sm.sessions {
		s.Close()
	}
	sm.mu.Unlock()

	sm.wg.Wait()
}
