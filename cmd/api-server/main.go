package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-availability-engine/internal/api"
	"github.com/hackgods/clinic-availability-engine/internal/availability"
	"github.com/hackgods/clinic-availability-engine/internal/booking"
	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/config"
	"github.com/hackgods/clinic-availability-engine/internal/db"
	"github.com/hackgods/clinic-availability-engine/internal/logging"
	"github.com/hackgods/clinic-availability-engine/internal/recurrence"
	redisclient "github.com/hackgods/clinic-availability-engine/internal/redis"
	"github.com/hackgods/clinic-availability-engine/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api-server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New("api-server", cfg.Env)
	slog.SetDefault(logger)
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", cfg.Version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:       cfg.Telemetry.Enabled,
		ServiceName:   "clinic-api",
		Version:       cfg.Version,
		Environment:   cfg.Env,
		Endpoint:      cfg.Telemetry.Endpoint,
		SamplingRatio: cfg.Telemetry.SamplingRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{AppName: "clinic-api", MaxConns: cfg.PostgresMaxConn})
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		return err
	}

	// Redis only sheds contention; without it bookings still serialise on the
	// practitioner row lock.
	var locker redisclient.Locker
	health := api.HealthChecks{Postgres: pgPool.Ping}
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, practitioner lock disabled", "addr", cfg.RedisAddr, "err", err)
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "err", err)
			}
		}()
		locker = redisclient.NewRedisPractitionerLocker(rdb, cfg.LockTTL, cfg.LockWait)
		health.Redis = func(ctx context.Context) error { return pingRedis(ctx, rdb) }
		logger.Info("connected to Redis")
	}

	limits := recurrence.DefaultLimits
	limits.MaxIterations = cfg.Limits.RecurrenceMaxIterations
	limits.MaxOccurrences = cfg.Limits.RecurrenceMaxOccurrence

	store := calendar.NewPgStore(pgPool)
	avail := availability.NewService(store, logger, availability.Options{
		Limits:       limits,
		MaxQuerySpan: cfg.Limits.MaxQuerySpan,
		Cache:        availability.NewCache(cfg.Cache.Size, cfg.Cache.TTL),
	})
	bookings := booking.NewService(store, locker, avail, logger, booking.Options{
		Limits:       limits,
		GuardHorizon: cfg.Limits.GuardHorizon,
	})

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Availability: avail,
			Bookings:     bookings,
			Health:       health,
			Logger:       logger,
			Env:          cfg.Env,
			Version:      cfg.Version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api-server")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	return g.Wait()
}

func pingRedis(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}
