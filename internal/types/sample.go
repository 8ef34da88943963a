package types

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Sample is a single time-stamped value on a topic.
// This is the primary data unit flowing through the store and sessions.
type Sample struct {
	Topic string `json:"topic"`
	Time  uint64 `json:"time"` // milliseconds
	Value Value  `json:"value"`
}

// Equal reports whether two samples carry the same topic, time and value.
func (s Sample) Equal(o Sample) bool {
	return s.Topic == o.Topic && s.Time == o.Time && s.Value.Equal(o.Value)
}

// String renders the sample for logs.
func (s Sample) String() string {
	return fmt.Sprintf("%s@%d=%s", s.Topic, s.Time, s.Value)
}

// Point is one entry of a topic's series.
type Point struct {
	Time  uint64
	Value Value
}

// MarshalJSON encodes a point as a [time, value] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Time, p.Value})
}

// UnmarshalJSON decodes a [time, value] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("point must be a [time, value] pair, got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Time); err != nil {
		return fmt.Errorf("point time: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Value); err != nil {
		return fmt.Errorf("point value: %w", err)
	}
	return nil
}

// Series is a topic's points in ascending time order.
type Series []Point

// Equal compares two series point by point.
func (s Series) Equal(o Series) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i].Time != o[i].Time || !s[i].Value.Equal(o[i].Value) {
			return false
		}
	}
	return true
}

// Times returns the timestamps of the series.
func (s Series) Times() []uint64 {
	out := make([]uint64, len(s))
	for i, p := range s {
		out[i] = p.Time
	}
	return out
}
