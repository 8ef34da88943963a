// Package constants provides centralized domain-specific constants
// for the entire telestream application.
//
// Config strings, schema metadata keys and wire tags live here so that
// the loader, codec and server agree on them.
package constants

// =============================================================================
// Encodings - How a session encodes streamed samples
// =============================================================================

const (
	// EncodingPlain is the tagged JSON form, sent in text frames.
	EncodingPlain = "plain"

	// EncodingColumnar is the single-row Arrow IPC file, sent in binary frames.
	EncodingColumnar = "columnar"
)

// =============================================================================
// Compression - IPC body compression of columnar frames
// =============================================================================

const (
	// CompressionNone writes uncompressed IPC buffers
	CompressionNone = "none"

	// CompressionLZ4 writes LZ4 frame compressed buffers
	CompressionLZ4 = "lz4"

	// CompressionZstd writes zstd compressed buffers
	CompressionZstd = "zstd"
)

// ValidCompressions contains all valid compression values
var ValidCompressions = []string{CompressionNone, CompressionLZ4, CompressionZstd}

// IsValidCompression checks if a compression name is valid
func IsValidCompression(c string) bool {
	return contains(ValidCompressions, c)
}

// =============================================================================
// Sources - What a streaming session emits each tick
// =============================================================================

const (
	// SourceSynthetic generates a pose/velocity/acceleration record from
	// the session clock.
	SourceSynthetic = "synthetic"

	// SourceStore replays the last known value of the topic from the store.
	SourceStore = "store"
)

// ValidSources contains all valid source values
var ValidSources = []string{SourceSynthetic, SourceStore}

// IsValidSource checks if a source is valid
func IsValidSource(s string) bool {
	return contains(ValidSources, s)
}

// =============================================================================
// Log formats
// =============================================================================

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// =============================================================================
// Columnar schema
// =============================================================================

const (
	// ColumnTopic is the first fixed column (Utf8).
	ColumnTopic = "topic"

	// ColumnTime is the second fixed column (Uint64, milliseconds).
	ColumnTime = "time"

	// ColumnData holds the value of a Number or Text sample.
	ColumnData = "data"

	// MetadataKind is the schema metadata key naming the value variant.
	MetadataKind = "telestream.kind"

	// PathSeparator joins nested field names into column names.
	PathSeparator = "."
)

// =============================================================================
// Wire frame kinds (raw TCP transport)
// =============================================================================

const (
	// FrameKindText marks a plain JSON payload
	FrameKindText byte = 1

	// FrameKindBinary marks a columnar payload
	FrameKindBinary byte = 2
)

// =============================================================================
// Topics
// =============================================================================

const (
	// SNMPTopicPrefix prefixes topics produced by the SNMP poller:
	// snmp/<target>/<name>
	SNMPTopicPrefix = "snmp"
)

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
