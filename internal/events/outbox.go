package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
)

// Outbox hands out unpublished event log rows.
type Outbox interface {
	// Claim passes up to limit unpublished events, oldest first, to fn and marks
	// them published once fn returns nil. A failed batch stays unpublished.
	Claim(ctx context.Context, limit int, fn func(ctx context.Context, batch []calendar.EventLog) error) (int, error)
}

type PgOutbox struct {
	pool *pgxpool.Pool
}

func NewPgOutbox(pool *pgxpool.Pool) *PgOutbox {
	return &PgOutbox{pool: pool}
}

// Claim locks the batch with SKIP LOCKED so several relays can run side by side.
func (o *PgOutbox) Claim(ctx context.Context, limit int, fn func(ctx context.Context, batch []calendar.EventLog) error) (int, error) {
	tx, err := o.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch, err := fetchUnpublished(ctx, tx, limit)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	if err := fn(ctx, batch); err != nil {
		return 0, err
	}

	ids := make([]int64, len(batch))
	for i, ev := range batch {
		ids[i] = ev.ID
	}
	if _, err := tx.Exec(ctx, `
		UPDATE event_logs
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	return len(batch), nil
}

func fetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]calendar.EventLog, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_type, booking_id, practitioner_id, payload, traceparent, tracestate, created_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished events: %w", err)
	}
	defer rows.Close()

	var out []calendar.EventLog
	for rows.Next() {
		var ev calendar.EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.BookingID, &ev.PractitionerID, &ev.Payload,
			&ev.Traceparent, &ev.Tracestate, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
