// Package store provides the in-memory time series store.
//
// The store maps each topic to an ordered map of timestamp to value. It is
// the only state shared between connections: one Store is constructed at
// startup and handed to every component that needs it.
//
// Locking: every operation takes the store lock for exactly one tree
// operation. No lock is held across network I/O or sleeps.
package store

import (
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/xtxerr/telestream/config"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/types"
)

var log = logging.Component("store")

// Store is a per-topic ordered time series map.
//
// Invariants:
//   - a topic entry never holds an empty series
//   - a (topic, time) pair holds at most one value; later inserts overwrite
//   - iteration over a series is ascending by time
//
// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	topics map[string]*btree.BTreeG[types.Point]
	degree int
}

// Stats summarizes the store contents.
type Stats struct {
	Topics int
	Points int
}

// New creates an empty store.
func New() *Store {
	return NewWithDegree(config.DefaultBTreeDegree)
}

// NewWithDegree creates an empty store whose per-topic trees use the given
// branching factor.
func NewWithDegree(degree int) *Store {
	if degree < 2 {
		degree = config.DefaultBTreeDegree
	}
	return &Store{
		topics: make(map[string]*btree.BTreeG[types.Point]),
		degree: degree,
	}
}

func pointLess(a, b types.Point) bool {
	return a.Time < b.Time
}

// AddSample inserts value at (topic, time), overwriting any value already
// stored at that timestamp. The topic is created on first insert.
func (s *Store) AddSample(topic string, time uint64, value types.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.topics[topic]
	if !ok {
		tree = btree.NewG[types.Point](s.degree, pointLess)
		s.topics[topic] = tree
		log.Debug("topic created", "topic", topic)
	}
	tree.ReplaceOrInsert(types.Point{Time: time, Value: value})
}

// Add inserts a sample. See AddSample.
func (s *Store) Add(sample types.Sample) {
	s.AddSample(sample.Topic, sample.Time, sample.Value)
}

// Series returns a snapshot of the topic's full series in ascending order.
// Returns false if the topic is unknown.
func (s *Store) Series(topic string) (types.Series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.topics[topic]
	if !ok {
		return nil, false
	}

	out := make(types.Series, 0, tree.Len())
	tree.Ascend(func(p types.Point) bool {
		out = append(out, p)
		return true
	})
	return out, true
}

// AtOrBefore returns the value with the greatest timestamp <= time, i.e. the
// last known value as of time. Returns false if the topic is unknown or has
// no entry at or before time.
func (s *Store) AtOrBefore(topic string, time uint64) (types.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.topics[topic]
	if !ok {
		return types.Value{}, false
	}

	var (
		found types.Point
		hit   bool
	)
	tree.DescendLessOrEqual(types.Point{Time: time}, func(p types.Point) bool {
		found, hit = p, true
		return false
	})
	if !hit {
		return types.Value{}, false
	}
	return found.Value, true
}

// Range returns all entries with start <= time <= end, ascending.
// The result is empty (never nil-with-meaning) when the topic is unknown,
// when nothing falls in range, or when start > end.
func (s *Store) Range(topic string, start, end uint64) types.Series {
	out := types.Series{}
	if start > end {
		return out
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.topics[topic]
	if !ok {
		return out
	}

	tree.AscendGreaterOrEqual(types.Point{Time: start}, func(p types.Point) bool {
		if p.Time > end {
			return false
		}
		out = append(out, p)
		return true
	})
	return out
}

// First returns the oldest point of a topic.
func (s *Store) First(topic string) (types.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.topics[topic]
	if !ok {
		return types.Point{}, false
	}
	return tree.Min()
}

// Latest returns the newest point of a topic.
func (s *Store) Latest(topic string) (types.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.topics[topic]
	if !ok {
		return types.Point{}, false
	}
	return tree.Max()
}

// Len returns the number of points stored for topic.
func (s *Store) Len(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tree, ok := s.topics[topic]; ok {
		return tree.Len()
	}
	return 0
}

// Topics returns all known topic names, sorted.
func (s *Store) Topics() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Stats returns topic and point counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Topics: len(s.topics)}
	for _, tree := range s.topics {
		st.Points += tree.Len()
	}
	return st
}
