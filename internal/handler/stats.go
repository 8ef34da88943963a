package handler

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/telestream/config"
)

// SessionStats accumulates per-session counters and the write latency
// distribution. Safe for concurrent use.
type SessionStats struct {
	mu sync.Mutex

	framesSent   uint64
	bytesSent    uint64
	fallbacks    uint64
	ticksSkipped uint64
	dropped      uint64
	decodeErrors uint64
	requests     uint64

	// write latency in milliseconds
	latency *ddsketch.DDSketch
}

// StatsSnapshot is a point-in-time copy of SessionStats.
type StatsSnapshot struct {
	FramesSent   uint64
	BytesSent    uint64
	Fallbacks    uint64
	TicksSkipped uint64
	Dropped      uint64
	DecodeErrors uint64
	Requests     uint64

	// Write latency quantiles in milliseconds. Zero when nothing was written.
	WriteP50 float64
	WriteP90 float64
	WriteP99 float64
	WriteMax float64
}

func newSessionStats() *SessionStats {
	sketch, err := ddsketch.NewDefaultDDSketch(config.DefaultLatencySketchAccuracy)
	if err != nil {
		// Only fails for accuracy outside (0, 1).
		panic("session stats: " + err.Error())
	}
	return &SessionStats{latency: sketch}
}

func (s *SessionStats) recordWrite(bytes int, took time.Duration) {
	s.mu.Lock()
	s.framesSent++
	s.bytesSent += uint64(bytes)
	_ = s.latency.Add(float64(took) / float64(time.Millisecond))
	s.mu.Unlock()
}

func (s *SessionStats) add(field *uint64, n uint64) {
	s.mu.Lock()
	*field += n
	s.mu.Unlock()
}

// Snapshot returns the current values.
func (s *SessionStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		FramesSent:   s.framesSent,
		BytesSent:    s.bytesSent,
		Fallbacks:    s.fallbacks,
		TicksSkipped: s.ticksSkipped,
		Dropped:      s.dropped,
		DecodeErrors: s.decodeErrors,
		Requests:     s.requests,
	}
	if s.latency.GetCount() > 0 {
		snap.WriteP50, _ = s.latency.GetValueAtQuantile(0.50)
		snap.WriteP90, _ = s.latency.GetValueAtQuantile(0.90)
		snap.WriteP99, _ = s.latency.GetValueAtQuantile(0.99)
		snap.WriteMax, _ = s.latency.GetMaxValue()
	}
	return snap
}

// LogArgs renders the snapshot as slog key/value pairs.
func (s StatsSnapshot) LogArgs() []any {
	return []any{
		"frames_sent", s.FramesSent,
		"bytes_sent", s.BytesSent,
		"fallbacks", s.Fallbacks,
		"ticks_skipped", s.TicksSkipped,
		"dropped", s.Dropped,
		"decode_errors", s.DecodeErrors,
		"requests", s.Requests,
		"write_p50_ms", s.WriteP50,
		"write_p99_ms", s.WriteP99,
	}
}
