package handler

import (
	"context"
	"math"

	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/types"
)

// Source produces the sample a session streams on each tick.
//
// elapsed is the tick's quantized session time in milliseconds. A Source
// returns false when it has nothing to send for this tick; the tick is then
// skipped without a frame.
type Source interface {
	Sample(ctx context.Context, elapsed uint64) (types.Sample, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, elapsed uint64) (types.Sample, bool)

// Sample calls f.
func (f SourceFunc) Sample(ctx context.Context, elapsed uint64) (types.Sample, bool) {
	return f(ctx, elapsed)
}

// =============================================================================
// Synthetic
// =============================================================================

// Vec3 is a 3-component vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose is a position and a rotation.
type Pose struct {
	Position Vec3 `json:"position"`
	Rotation Vec3 `json:"rotation"`
}

// Motion is the nested telemetry record the synthetic source emits.
type Motion struct {
	Pose         Pose `json:"pose"`
	Velocity     Vec3 `json:"velocity"`
	Acceleration Vec3 `json:"acceleration"`
}

// MotionAt returns the synthetic motion at t seconds.
func MotionAt(t float64) Motion {
	return Motion{
		Pose: Pose{
			Position: Vec3{X: math.Sin(t), Y: math.Cos(t), Z: math.Tan(t)},
			Rotation: Vec3{X: math.Cos(t), Y: math.Sin(t), Z: math.Tan(t)},
		},
		Velocity:     Vec3{X: math.Tan(t), Y: math.Sin(t), Z: math.Cos(t)},
		Acceleration: Vec3{X: math.Cos(t), Y: math.Tan(t), Z: math.Sin(t)},
	}
}

// SyntheticSource emits a Motion record for the session clock. If Store is
// set, every sample is also recorded there.
type SyntheticSource struct {
	Topic string
	Store *store.Store
}

// Sample implements Source.
func (s *SyntheticSource) Sample(ctx context.Context, elapsed uint64) (types.Sample, bool) {
	rec, err := codec.ToRecord(MotionAt(float64(elapsed) / 1000))
	if err != nil {
		// Motion only has float leaves.
		log.Error("synthetic record", "error", err)
		return types.Sample{}, false
	}
	sample := types.Sample{Topic: s.Topic, Time: elapsed, Value: rec}
	if s.Store != nil {
		s.Store.Add(sample)
	}
	return sample, true
}

// =============================================================================
// Store replay
// =============================================================================

// StoreSource streams the last known value of a topic as of Origin plus the
// session clock, so data on an absolute timeline (epoch milliseconds) can be
// replayed. With FromFirst set, Origin is taken from the topic's first point
// on the first tick that finds one. Ticks before the first point send
// nothing. A StoreSource is used by one session's ticker only.
type StoreSource struct {
	Topic     string
	Store     *store.Store
	Origin    uint64
	FromFirst bool

	resolved bool
}

// Sample implements Source.
func (s *StoreSource) Sample(ctx context.Context, elapsed uint64) (types.Sample, bool) {
	if s.FromFirst && !s.resolved {
		first, ok := s.Store.First(s.Topic)
		if !ok {
			return types.Sample{}, false
		}
		s.Origin = first.Time
		s.resolved = true
	}

	at := s.Origin + elapsed
	v, ok := s.Store.AtOrBefore(s.Topic, at)
	if !ok {
		return types.Sample{}, false
	}
	return types.Sample{Topic: s.Topic, Time: at, Value: v}, true
}
