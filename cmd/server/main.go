package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openvigil/vigil/detection-server/internal/api"
	"github.com/openvigil/vigil/detection-server/internal/capture"
	"github.com/openvigil/vigil/detection-server/internal/config"
	"github.com/openvigil/vigil/detection-server/internal/engine"
	"github.com/openvigil/vigil/detection-server/internal/eventlog"
	"github.com/openvigil/vigil/detection-server/internal/feed"
	"github.com/openvigil/vigil/detection-server/internal/frameslot"
	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/internal/metrics"
	"github.com/openvigil/vigil/detection-server/internal/notify"
	"github.com/openvigil/vigil/detection-server/internal/session"
	"github.com/openvigil/vigil/detection-server/internal/snapshot"
)

var (
	// Command-line flags; non-empty values override the loaded config
	configPath  = flag.String("config", "", "Path to YAML config file")
	httpAddr    = flag.String("http", "", "HTTP server address")
	metricsAddr = flag.String("metrics", "", "Metrics server address")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "Detection server starting...")
	logger.Info("Main", "Log level: %s", level)
	logger.Info("Main", "Inference engine: %s (model %s)", cfg.EngineEndpoint, cfg.ModelPath)

	m := metrics.New()
	slot := frameslot.New(m)
	hub := feed.NewHub()
	eng := engine.NewRemote(cfg.EngineEndpoint, cfg.ModelPath)

	sinks, closeSinks := buildSinks(cfg)
	defer closeSinks()

	deps := session.Deps{
		Engine:      eng,
		Open:        capture.OpenSource,
		Notifier:    notify.New(cfg.NtfyBaseURL),
		StaticSinks: sinks,
		Slot:        slot,
		Feed:        hub,
		Metrics:     m,
	}
	if cfg.Snapshots.Enabled() {
		store, err := snapshot.New(context.Background(),
			cfg.Snapshots.Endpoint, cfg.Snapshots.AccessKey, cfg.Snapshots.SecretKey,
			cfg.Snapshots.Bucket, cfg.Snapshots.UseSSL)
		if err != nil {
			logger.Error("Main", "Snapshot store unavailable: %v", err)
		} else {
			logger.Info("Main", "Snapshot uploads enabled (bucket %s)", cfg.Snapshots.Bucket)
			deps.Snapshots = store
		}
	}

	sup := session.New(session.Config{
		DetectionInterval:   cfg.DetectionInterval,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	}, deps)

	// Preload the model so the first start request does not pay for it.
	// A failure here is retried by the next session start.
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Load(loadCtx); err != nil {
		logger.Warn("Main", "Model preload failed: %v", err)
	}
	cancelLoad()

	go func() {
		logger.Info("Main", "Metrics server listening on %s", cfg.MetricsAddr)
		if err := m.StartServer(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "Metrics server error: %v", err)
		}
	}()

	apiServer := api.NewServer(sup, slot, hub, capture.OpenSource)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Handler(),
	}
	go func() {
		logger.Info("Main", "HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}

	if err := sup.Stop(); err != nil && !errors.Is(err, session.ErrNotRunning) {
		logger.Warn("Main", "Stopping session: %v", err)
	}
	sup.StopMonitor()

	logger.Info("Main", "Server stopped")
}

// buildSinks assembles the operator-configured event sinks. Sinks that fail
// to come up are skipped; detection never depends on them.
func buildSinks(cfg *config.Config) ([]eventlog.Sink, func()) {
	var sinks []eventlog.Sink

	if cfg.DB.Enabled() {
		pg, err := eventlog.NewPostgres(cfg.DB.DSN())
		if err != nil {
			logger.Error("Main", "Postgres sink unavailable (%s): %v", cfg.DB.DSNForLog(), err)
		} else {
			logger.Info("Main", "Postgres event sink enabled (%s)", cfg.DB.DSNForLog())
			sinks = append(sinks, pg)
		}
	}
	if cfg.MQTT.Enabled() {
		mq, err := eventlog.NewMQTT(cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.Username, cfg.MQTT.Password, cfg.MQTT.Topic)
		if err != nil {
			logger.Error("Main", "MQTT sink unavailable (%s:%d): %v", cfg.MQTT.Broker, cfg.MQTT.Port, err)
		} else {
			logger.Info("Main", "MQTT event sink enabled (%s:%d, topic %s)", cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.Topic)
			sinks = append(sinks, mq)
		}
	}
	if cfg.Kafka.Enabled() {
		k, err := eventlog.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Error("Main", "Kafka sink unavailable (%v): %v", cfg.Kafka.Brokers, err)
		} else {
			logger.Info("Main", "Kafka event sink enabled (%v, topic %s)", cfg.Kafka.Brokers, cfg.Kafka.Topic)
			sinks = append(sinks, k)
		}
	}

	return sinks, func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("Main", "Closing %s sink: %v", s.Name(), err)
			}
		}
	}
}
