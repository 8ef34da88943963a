// Package loader handles configuration file loading, validation, and
// conversion into the runtime options of each component.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the result
//   - Seeding the store from the files the config names
package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/handler"
	"github.com/xtxerr/telestream/internal/ingest"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/validation"
)

var log = logging.Component("loader")

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML on top of the defaults. Environment variables are
// expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// Server validation
	if cfg.Server.BindAddress == "" {
		errs.AddField("server.bind_address", "cannot be empty")
	}
	if cfg.Server.BindPort < 0 || cfg.Server.BindPort > 65535 {
		errs.AddField("server.bind_port", "must be between 0 and 65535")
	}
	if len(cfg.Server.Path) == 0 || cfg.Server.Path[0] != '/' {
		errs.AddField("server.path", "must start with /")
	}
	if cfg.Server.MaxMessageSize <= 0 {
		errs.AddField("server.max_message_size", "must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errs.AddField("server.write_timeout", "must be positive")
	}

	// Stream validation
	if cfg.Stream.SendRateHz < 0 {
		errs.Add(fmt.Errorf("stream.send_rate_hz %v: %w", cfg.Stream.SendRateHz, errors.ErrInvalidRate))
	}
	if cfg.Stream.SendRateHz > 0 {
		if err := validation.ValidateTopic(cfg.Stream.Topic); err != nil {
			errs.Add(fmt.Errorf("stream.topic: %v: %w", err, errors.ErrInvalidTopic))
		}
	}
	if !constants.IsValidSource(cfg.Stream.Source) {
		errs.AddField("stream.source", fmt.Sprintf("must be one of %v", constants.ValidSources))
	}
	if !constants.IsValidCompression(cfg.Stream.Compression) {
		errs.AddField("stream.compression", fmt.Sprintf("must be one of %v", constants.ValidCompressions))
	}
	if cfg.Stream.QueueSize <= 0 {
		errs.AddField("stream.queue_size", "must be positive")
	}

	// Log validation
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs.AddField("log.level", err.Error())
	}
	if cfg.Log.Format != constants.LogFormatText && cfg.Log.Format != constants.LogFormatJSON {
		errs.AddField("log.format", "must be text or json")
	}

	// Seed validation
	if cfg.Seed.Synthetic.Count < 0 || cfg.Seed.Synthetic.Topics < 0 {
		errs.AddField("seed.synthetic", "topics and count cannot be negative")
	}

	// SNMP validation
	seen := make(map[string]struct{}, len(cfg.SNMP.Targets))
	for _, t := range cfg.SNMP.Targets {
		errs.Add(t.Validate())
		if _, dup := seen[t.Name]; dup {
			errs.AddField("snmp.targets", fmt.Sprintf("duplicate target %q", t.Name))
		}
		seen[t.Name] = struct{}{}
	}

	return errs.Err()
}

// =============================================================================
// Conversion
// =============================================================================

// SessionConfig converts the stream section to session options.
func SessionConfig(cfg *Config) handler.SessionConfig {
	return handler.SessionConfig{
		RateHz:      cfg.Stream.SendRateHz,
		Encoding:    codec.EncodingFor(cfg.Stream.UseBinaryEncoding),
		QueueSize:   cfg.Stream.QueueSize,
		SendTimeout: cfg.Stream.SendTimeout.Duration(),
	}
}

// HandlerConfig converts the handler section.
func HandlerConfig(cfg *Config) handler.Config {
	return handler.Config{AcceptIngest: cfg.Handler.AcceptIngest}
}

// Compression returns the configured columnar compression.
func Compression(cfg *Config) (codec.Compression, error) {
	return codec.ParseCompression(cfg.Stream.Compression)
}

// =============================================================================
// Seed
// =============================================================================

// Seed loads every file and generator named in cfg.Seed into st.
func Seed(cfg *Config, st *store.Store) (ingest.LoadStats, error) {
	var total ingest.LoadStats
	add := func(kind, name string, s ingest.LoadStats) {
		total.Loaded += s.Loaded
		total.Skipped += s.Skipped
		log.Info("seed loaded", "kind", kind, "source", name, "loaded", s.Loaded, "skipped", s.Skipped)
	}

	for _, path := range cfg.Seed.CSV {
		f, err := os.Open(path)
		if err != nil {
			return total, fmt.Errorf("open seed %s: %w", path, err)
		}
		s, err := ingest.LoadCSV(f, st)
		f.Close()
		if err != nil {
			return total, fmt.Errorf("load seed %s: %w", path, err)
		}
		add("csv", path, s)
	}

	for _, path := range cfg.Seed.Parquet {
		s, err := ingest.LoadParquet(path, st)
		if err != nil {
			return total, fmt.Errorf("load seed %s: %w", path, err)
		}
		add("parquet", path, s)
	}

	if cfg.Seed.Synthetic.Count > 0 {
		add("synthetic", "keyN", ingest.Synthetic(st, cfg.Seed.Synthetic.Topics, cfg.Seed.Synthetic.Count))
	}

	return total, nil
}
