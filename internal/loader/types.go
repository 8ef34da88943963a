// Package loader - Configuration Types
//
// Defines the YAML configuration structure for telestreamd.
//
//	server:   HTTP/WebSocket listener, optional raw TCP listener
//	stream:   per-session streaming (rate, encoding, source)
//	handler:  sync protocol options
//	log:      level and format
//	seed:     data loaded into the store at startup
//	snmp:     devices polled into the store while running
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/telestream/config"
	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/ingest"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for telestreamd.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Stream  StreamConfig   `yaml:"stream"`
	Handler HandlerSection `yaml:"handler"`
	Log     LogConfig      `yaml:"log"`
	Seed    SeedConfig     `yaml:"seed"`
	SNMP    SNMPConfig     `yaml:"snmp"`
}

// =============================================================================
// Server Configuration
// =============================================================================

// ServerConfig configures the listeners.
type ServerConfig struct {
	// BindAddress is the HTTP/WebSocket listen host.
	// Default: "127.0.0.1"
	BindAddress string `yaml:"bind_address"`

	// BindPort is the HTTP/WebSocket listen port.
	// Default: 3030
	BindPort int `yaml:"bind_port"`

	// Path is the URL path that upgrades to a streaming session.
	// Default: "/datastore"
	Path string `yaml:"path"`

	// TCPListen enables the raw TCP transport on this address when set.
	// Format: "host:port" or ":port"
	TCPListen string `yaml:"tcp_listen"`

	// MaxMessageSize bounds inbound frames. Supports "1MB" style values.
	MaxMessageSize ByteSize `yaml:"max_message_size"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// Metrics enables the Prometheus endpoint.
	Metrics bool `yaml:"metrics"`
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.BindPort)
}

// =============================================================================
// Stream Configuration
// =============================================================================

// StreamConfig configures what every session streams.
type StreamConfig struct {
	// SendRateHz is the tick rate. 0 disables streaming.
	SendRateHz float64 `yaml:"send_rate_hz"`

	// UseBinaryEncoding selects columnar frames.
	UseBinaryEncoding bool `yaml:"use_binary_encoding"`

	// Topic is the streamed topic.
	Topic string `yaml:"topic"`

	// Source is "synthetic" (generated motion records) or "store"
	// (replay of Topic from the store).
	Source string `yaml:"source"`

	// Compression of columnar frames: "none", "lz4" or "zstd".
	Compression string `yaml:"compression"`

	// QueueSize is the per-session frame queue capacity.
	QueueSize int `yaml:"queue_size"`

	// SendTimeout is how long a full queue may block a tick.
	SendTimeout Duration `yaml:"send_timeout"`

	// RecordToStore adds synthetic samples to the store as they are sent.
	RecordToStore bool `yaml:"record_to_store"`

	// ReplayOrigin is added to the session clock when replaying from the
	// store, e.g. an epoch millisecond timestamp.
	ReplayOrigin uint64 `yaml:"replay_origin"`

	// ReplayFromFirst starts the replay at the topic's first point and
	// overrides ReplayOrigin.
	ReplayFromFirst bool `yaml:"replay_from_first"`
}

// =============================================================================
// Handler, Log, Seed, SNMP
// =============================================================================

// HandlerSection configures the sync protocol.
type HandlerSection struct {
	// AcceptIngest stores inbound Update and NewDatapoint messages.
	AcceptIngest bool `yaml:"accept_ingest"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SeedConfig lists data loaded into the store at startup.
type SeedConfig struct {
	CSV       []string        `yaml:"csv"`
	Parquet   []string        `yaml:"parquet"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
}

// SyntheticConfig generates keyN demo points.
type SyntheticConfig struct {
	Topics int `yaml:"topics"`
	Count  int `yaml:"count"`
}

// SNMPConfig configures the SNMP producer. It runs when Targets is not empty.
type SNMPConfig struct {
	Interval Duration        `yaml:"interval"`
	Targets  []ingest.Target `yaml:"targets"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:     config.DefaultBindAddress,
			BindPort:        config.DefaultBindPort,
			Path:            config.DefaultStreamPath,
			MaxMessageSize:  config.DefaultMaxMessageSize,
			WriteTimeout:    Duration(config.DefaultWriteTimeout),
			ShutdownTimeout: Duration(config.DefaultShutdownTimeout),
			Metrics:         true,
		},
		Stream: StreamConfig{
			SendRateHz:  config.DefaultSendRateHz,
			Topic:       config.DefaultStreamTopic,
			Source:      constants.SourceSynthetic,
			Compression: constants.CompressionNone,
			QueueSize:   config.DefaultQueueSize,
			SendTimeout: Duration(config.DefaultSendTimeout),
		},
		Log: LogConfig{
			Level:  "info",
			Format: constants.LogFormatText,
		},
		SNMP: SNMPConfig{
			Interval: Duration(config.DefaultSNMPInterval),
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "1MB", "512KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var i int64
		if err := unmarshal(&i); err != nil {
			return err
		}
		*b = ByteSize(i)
		return nil
	}
	size, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// Longest suffix first so "MB" is not read as "B".
var byteUnits = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.mult, nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
