package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
)

type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay moves committed event log rows to the publisher. Delivery is at least
// once: a crash between publish and commit republishes the batch.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(outbox Outbox, publisher Publisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Run drains the outbox once at startup and then on every tick until ctx ends.
func (r *Relay) Run(ctx context.Context) {
	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutdown signal received, stopping relay")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	start := time.Now()
	n, err := r.Drain(ctx)
	if err != nil {
		r.logger.Error("relay run failed", "published", n, "err", err)
		return
	}
	if n > 0 {
		r.logger.Info("relay run complete", "published", n, "duration", time.Since(start))
	}
}

// Drain publishes full batches until the outbox runs short.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.outbox.Claim(ctx, r.batchSize, func(ctx context.Context, batch []calendar.EventLog) error {
			return r.publisher.Publish(ctx, batch)
		})
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batchSize {
			return total, nil
		}
	}
}
