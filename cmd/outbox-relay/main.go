package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-availability-engine/internal/config"
	"github.com/hackgods/clinic-availability-engine/internal/db"
	"github.com/hackgods/clinic-availability-engine/internal/events"
	"github.com/hackgods/clinic-availability-engine/internal/logging"
	"github.com/hackgods/clinic-availability-engine/internal/telemetry"
)

// outbox-relay publishes committed event_logs rows to Kafka. Delivery is at
// least once; consumers dedupe on the event_id header.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "err", err)
		os.Exit(1)
	}

	logger := logging.New("outbox-relay", cfg.Env)
	slog.SetDefault(logger)
	logger.Info("outbox-relay starting up",
		"env", cfg.Env,
		"interval", cfg.Relay.Interval,
		"batch_size", cfg.Relay.BatchSize,
		"topic", cfg.Kafka.Topic,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:       cfg.Telemetry.Enabled,
		ServiceName:   "clinic-outbox-relay",
		Version:       cfg.Version,
		Environment:   cfg.Env,
		Endpoint:      cfg.Telemetry.Endpoint,
		SamplingRatio: cfg.Telemetry.SamplingRatio,
	})
	if err != nil {
		logger.Error("telemetry setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{AppName: "clinic-outbox-relay", MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "err", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("error closing kafka writer", "err", err)
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(rootCtx, 5*time.Second)
	if err := publisher.Ping(pingCtx); err != nil {
		// The writer reconnects on its own; unpublished rows wait in the outbox.
		logger.Warn("kafka not reachable yet", "brokers", cfg.Kafka.Brokers, "err", err)
	}
	cancelPing()

	relay := events.NewRelay(events.NewPgOutbox(pgPool), publisher, logger, events.RelayConfig{
		Interval:  cfg.Relay.Interval,
		BatchSize: cfg.Relay.BatchSize,
	})
	relay.Run(rootCtx)
}
