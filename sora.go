package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soradb/sora/cfg"
	"github.com/soradb/sora/engine"
	"github.com/soradb/sora/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("engine_id", cfg.Config.EngineID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Sora - NUMA-aware OCC transaction engine")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	if cfg.Config.Prometheus.Enabled {
		go serveMetrics()
	}

	eng := engine.New(*cfg.Config)
	if err := eng.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
		return
	}

	log.Info().
		Int("numa_nodes", cfg.Config.Thread.NumaNodes).
		Int("threads_per_node", cfg.Config.Thread.ThreadsPerNode).
		Msg("Engine is operational")

	// Run until interrupted
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := eng.Uninitialize(); err != nil {
		log.Error().Err(err).Msg("Engine shutdown reported errors")
		os.Exit(1)
	}
}

func serveMetrics() {
	addr := fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.GetMetricsHandler())

	log.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server stopped")
	}
}
