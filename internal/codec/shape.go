package codec

import (
	"sync"

	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/types"
)

// shape is the column layout a topic's Records are pinned to.
type shape struct {
	paths []string
	kinds []types.Kind
	index map[string]int
}

func newShape(fields []types.Field) *shape {
	s := &shape{
		paths: make([]string, len(fields)),
		kinds: make([]types.Kind, len(fields)),
		index: make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		s.paths[i] = f.Path
		s.kinds[i] = f.Value.Kind()
		s.index[f.Path] = i
	}
	return s
}

// ShapeCache pins the column order of Record samples per topic.
//
// The first Record seen for a topic fixes its path set, leaf kinds and column
// order. Later Records on that topic are reordered to match. A Record that
// adds, drops or retypes a leaf is rejected with ErrShapeMismatch so that a
// consumer caching the schema never sees it change.
//
// ShapeCache is safe for concurrent use.
type ShapeCache struct {
	mu     sync.RWMutex
	shapes map[string]*shape
}

// NewShapeCache creates an empty cache.
func NewShapeCache() *ShapeCache {
	return &ShapeCache{shapes: make(map[string]*shape)}
}

// Conform returns the Record's fields in the topic's pinned order, pinning
// the shape on first use. fields must already be validated.
func (c *ShapeCache) Conform(topic string, fields []types.Field) ([]types.Field, error) {
	c.mu.RLock()
	sh, ok := c.shapes[topic]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if sh, ok = c.shapes[topic]; !ok {
			c.shapes[topic] = newShape(fields)
			c.mu.Unlock()
			return fields, nil
		}
		c.mu.Unlock()
	}

	if len(fields) != len(sh.paths) {
		return nil, errors.Encodef(errors.ErrShapeMismatch,
			"topic %q: got %d leaves, want %s", topic, len(fields), describeShape(sh.paths))
	}

	ordered := make([]types.Field, len(fields))
	for _, f := range fields {
		i, ok := sh.index[f.Path]
		if !ok {
			return nil, errors.Encodef(errors.ErrShapeMismatch,
				"topic %q: unexpected leaf %q, want %s", topic, f.Path, describeShape(sh.paths))
		}
		if f.Value.Kind() != sh.kinds[i] {
			return nil, errors.Encodef(errors.ErrShapeMismatch,
				"topic %q: leaf %q is %s, pinned as %s", topic, f.Path, f.Value.Kind(), sh.kinds[i])
		}
		ordered[i] = f
	}
	return ordered, nil
}

// Paths returns the pinned column order of a topic.
func (c *ShapeCache) Paths(topic string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sh, ok := c.shapes[topic]
	if !ok {
		return nil, false
	}
	out := make([]string, len(sh.paths))
	copy(out, sh.paths)
	return out, true
}

// Forget drops the pinned shape of a topic.
func (c *ShapeCache) Forget(topic string) {
	c.mu.Lock()
	delete(c.shapes, topic)
	c.mu.Unlock()
}

// Len returns the number of pinned topics.
func (c *ShapeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.shapes)
}
