// telestreamd is the telemetry distribution server daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/ingest"
	"github.com/xtxerr/telestream/internal/loader"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/server"
	"github.com/xtxerr/telestream/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "telestreamd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "", "config file path")
	listen := flag.String("listen", "", "bind address (overrides config)")
	port := flag.Int("port", 0, "bind port (overrides config)")
	tcpListen := flag.String("tcp", "", "raw TCP listen address (overrides config)")
	rate := flag.Float64("rate", -1, "send rate in Hz, 0 disables streaming (overrides config)")
	binary := flag.Bool("binary", false, "use columnar encoding (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		return err
	}

	// CLI overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.BindAddress = *listen
		case "port":
			cfg.Server.BindPort = *port
		case "tcp":
			cfg.Server.TCPListen = *tcpListen
		case "rate":
			cfg.Stream.SendRateHz = *rate
		case "binary":
			cfg.Stream.UseBinaryEncoding = *binary
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := loader.Validate(cfg); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logging.Init(level, cfg.Log.Format == constants.LogFormatJSON)
	log := logging.Component("main")
	log.Info("telestreamd starting", "version", Version)

	// =========================================================================
	// Store and seed data
	// =========================================================================

	st := store.New()
	seeded, err := loader.Seed(cfg, st)
	if err != nil {
		return err
	}
	if seeded.Loaded > 0 {
		log.Info("store seeded", "points", seeded.Loaded, "skipped", seeded.Skipped, "topics", len(st.Topics()))
	}

	// =========================================================================
	// Server
	// =========================================================================

	var reg *prometheus.Registry
	if cfg.Server.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	compression, err := loader.Compression(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Store:           st,
		Addr:            cfg.Server.Addr(),
		Path:            cfg.Server.Path,
		TCPListen:       cfg.Server.TCPListen,
		MaxMessageSize:  int(cfg.Server.MaxMessageSize.Bytes()),
		WriteTimeout:    cfg.Server.WriteTimeout.Duration(),
		Handler:         loader.HandlerConfig(cfg),
		Session:         loader.SessionConfig(cfg),
		Topic:           cfg.Stream.Topic,
		Source:          cfg.Stream.Source,
		RecordToStore:   cfg.Stream.RecordToStore,
		ReplayOrigin:    cfg.Stream.ReplayOrigin,
		ReplayFromFirst: cfg.Stream.ReplayFromFirst,
		Compression:     compression,
		Registry:        reg,
	})
	if err != nil {
		return err
	}

	// =========================================================================
	// Signal Handling and Run
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.ShutdownTimeout.Duration())
	})

	if len(cfg.SNMP.Targets) > 0 {
		producer := ingest.NewProducer(st, srv.Metrics(), cfg.SNMP.Targets, cfg.SNMP.Interval.Duration())
		g.Go(func() error { return producer.Run(gctx) })
	}

	log.Info("serving",
		"address", cfg.Server.Addr(),
		"path", cfg.Server.Path,
		"rate_hz", cfg.Stream.SendRateHz,
		"binary", cfg.Stream.UseBinaryEncoding,
		"source", cfg.Stream.Source)

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("telestreamd stopped")
	return nil
}
