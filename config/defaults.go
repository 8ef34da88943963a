// Package config provides configuration defaults and utilities
// for the telestream application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultBindAddress is the default address the HTTP/WebSocket server binds to.
	// Override via config: server.bind_address
	DefaultBindAddress = "127.0.0.1"

	// DefaultBindPort is the default HTTP/WebSocket port.
	// Override via config: server.bind_port
	DefaultBindPort = 3030

	// DefaultStreamPath is the URL path that upgrades to a WebSocket session.
	// Override via config: server.path
	DefaultStreamPath = "/datastore"

	// DefaultMaxMessageSize limits inbound frame size to prevent OOM.
	// Requests are tiny; 1 MiB leaves room for ingest frames.
	// Override via config: server.max_message_size
	DefaultMaxMessageSize = 1024 * 1024

	// DefaultShutdownTimeout bounds how long the HTTP server waits for
	// in-flight handlers during shutdown.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds a single frame write. A peer that cannot
	// take a frame within this time is treated as dead.
	// Override via config: server.write_timeout
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadHeaderTimeout bounds HTTP header reads before the upgrade.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultMetricsPath serves Prometheus metrics.
	DefaultMetricsPath = "/metrics"

	// DefaultHealthPath serves the liveness probe.
	DefaultHealthPath = "/healthz"
)

// =============================================================================
// Streaming Defaults
// =============================================================================

const (
	// DefaultSendRateHz is the per-session tick rate.
	// Override via config: stream.send_rate_hz
	DefaultSendRateHz = 10.0

	// DefaultStreamTopic is the topic a session streams when none is configured.
	// Override via config: stream.topic
	DefaultStreamTopic = "test/topic"

	// DefaultQueueSize is the capacity of the per-session frame queue.
	// It absorbs transient write stalls between ticker and sender.
	// Range: 16-100000
	// Override via config: stream.queue_size
	DefaultQueueSize = 512

	// DefaultSendTimeout is how long an enqueue waits when the queue is full.
	// After this timeout, the frame is dropped.
	// Override via config: stream.send_timeout
	DefaultSendTimeout = 100 * time.Millisecond

	// MinSendIntervalMs is the floor for the computed tick interval.
	MinSendIntervalMs = 1
)

// =============================================================================
// Session Defaults
// =============================================================================

const (
	// DefaultLatencySketchAccuracy is the relative accuracy of the per-session
	// write latency sketch (0.01 = 1% error).
	DefaultLatencySketchAccuracy = 0.01
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultBTreeDegree is the branching factor of each topic's ordered map.
	DefaultBTreeDegree = 32
)

// =============================================================================
// SNMP Producer Defaults
// =============================================================================

const (
	// DefaultSNMPTimeoutMs is the timeout for a single SNMP request.
	// Override via config: snmp.timeout_ms
	DefaultSNMPTimeoutMs = 5000

	// DefaultSNMPRetries is the number of retry attempts after timeout.
	// Override via config: snmp.retries
	DefaultSNMPRetries = 2

	// DefaultSNMPInterval is the default polling interval.
	// Override via config: snmp.interval
	DefaultSNMPInterval = 10 * time.Second
)
