// Package codec turns samples into wire payloads and back.
//
// Two encodings exist:
//
//   - Plain: the tagged JSON NewDatapoint message (see package message).
//     Always succeeds for a valid sample and is the fallback.
//   - Columnar: a self-describing Arrow IPC file holding exactly one row.
//     The schema is topic (Utf8), time (Uint64), then either a single
//     "data" column or one column per flattened Record leaf.
//
// Record column order is pinned per topic by a ShapeCache so that consumers
// caching the schema see a stable layout.
package codec

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/message"
	"github.com/xtxerr/telestream/internal/types"
)

var log = logging.Component("codec")

// =============================================================================
// Encoding / Compression
// =============================================================================

// Encoding selects how a session encodes streamed samples.
type Encoding uint8

const (
	EncodingPlain Encoding = iota
	EncodingColumnar
)

// EncodingFor maps the use_binary_encoding flag to an Encoding.
func EncodingFor(useBinary bool) Encoding {
	if useBinary {
		return EncodingColumnar
	}
	return EncodingPlain
}

// String returns the config name of the encoding.
func (e Encoding) String() string {
	if e == EncodingColumnar {
		return constants.EncodingColumnar
	}
	return constants.EncodingPlain
}

// Binary reports whether payloads of this encoding travel in binary frames.
func (e Encoding) Binary() bool { return e == EncodingColumnar }

// Compression is the IPC body compression of columnar frames.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

// ParseCompression maps a config string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", constants.CompressionNone:
		return CompressionNone, nil
	case constants.CompressionLZ4:
		return CompressionLZ4, nil
	case constants.CompressionZstd:
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("compression %q: %w", s, errors.ErrInvalidConfig)
	}
}

// String returns the config name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionLZ4:
		return constants.CompressionLZ4
	case CompressionZstd:
		return constants.CompressionZstd
	default:
		return constants.CompressionNone
	}
}

func (c Compression) ipcOptions() []ipc.Option {
	switch c {
	case CompressionLZ4:
		return []ipc.Option{ipc.WithLZ4()}
	case CompressionZstd:
		return []ipc.Option{ipc.WithZstd()}
	default:
		return nil
	}
}

// =============================================================================
// Codec
// =============================================================================

// Option configures a Codec.
type Option func(*Codec)

// WithCompression sets IPC body compression for columnar frames.
func WithCompression(c Compression) Option {
	return func(cd *Codec) { cd.compression = c }
}

// WithAllocator sets the Arrow allocator. Tests use a checked allocator.
func WithAllocator(mem memory.Allocator) Option {
	return func(cd *Codec) { cd.mem = mem }
}

// WithShapeCache shares a shape cache between codecs.
func WithShapeCache(sc *ShapeCache) Option {
	return func(cd *Codec) { cd.shapes = sc }
}

// Codec encodes samples. One Codec is owned by each session; its shape
// cache is the only state and is safe for concurrent use.
type Codec struct {
	mem         memory.Allocator
	compression Compression
	shapes      *ShapeCache
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		mem:    memory.NewGoAllocator(),
		shapes: NewShapeCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Shapes returns the codec's shape cache.
func (c *Codec) Shapes() *ShapeCache { return c.shapes }

// Encode encodes s with the given encoding.
func (c *Codec) Encode(s types.Sample, enc Encoding) ([]byte, error) {
	if enc == EncodingColumnar {
		return c.EncodeColumnar(s)
	}
	return EncodePlain(s)
}

// EncodeColumnar encodes s as a single-row Arrow IPC file.
//
// Errors are encode errors (errors.IsEncode): the Record is malformed, or
// its shape differs from the one pinned for the topic.
func (c *Codec) EncodeColumnar(s types.Sample) ([]byte, error) {
	var fields []types.Field

	switch s.Value.Kind() {
	case types.KindNumber, types.KindText:
	case types.KindRecord:
		if err := ValidateRecord(s.Value); err != nil {
			return nil, err
		}
		var err error
		fields, err = c.shapes.Conform(s.Topic, s.Value.Fields())
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Encodef(errors.ErrInvalidValueType, "sample %s@%d", s.Topic, s.Time)
	}

	b, err := encodeColumnar(c.mem, c.compression.ipcOptions(), s, fields)
	if err != nil {
		log.Debug("columnar encode failed", "topic", s.Topic, "error", err)
		return nil, err
	}
	return b, nil
}

// EncodePlain encodes s as a tagged NewDatapoint message.
func EncodePlain(s types.Sample) ([]byte, error) {
	return message.Marshal(message.NewDatapoint(s))
}

// DecodePlain decodes a NewDatapoint message.
func DecodePlain(b []byte) (types.Sample, error) {
	m, err := message.Unmarshal(b)
	if err != nil {
		return types.Sample{}, err
	}
	if m.Kind() != message.KindNewDatapoint {
		return types.Sample{}, errors.Decodef(errors.ErrUnexpectedFrame, "want NewDatapoint, got %s", m.Kind())
	}
	return *m.NewDatapoint, nil
}

// Decode decodes a payload produced by Encode.
func Decode(b []byte, binary bool) (types.Sample, error) {
	if binary {
		return DecodeColumnar(b)
	}
	return DecodePlain(b)
}
