package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q querier
}

type PgStore struct {
	pgReader
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgReader: pgReader{q: pool}, pool: pool}
}

type pgTx struct {
	pgReader
	tx pgx.Tx
}

func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{pgReader: pgReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isExclusionViolation(err) {
			return &ConflictError{Reason: "overlaps an existing booking", With: "booking"}
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

const (
	practitionerColumns   = `id, name, time_zone, buffer_minutes, min_lead_minutes, grid_step_minutes, default_slot_minutes, active, created_at, updated_at`
	serviceColumns        = `s.id, s.name, s.duration_minutes, s.buffer_override_minutes, s.created_at, s.updated_at`
	templateColumns       = `id, practitioner_id, weekdays, start_minute, end_minute, created_at`
	openingColumns        = `id, practitioner_id, start_at, end_at, created_at, updated_at`
	exceptionColumns      = `id, practitioner_id, start_at, end_at, reason, created_at, updated_at`
	unavailabilityColumns = `id, practitioner_id, type, reason, start_at, end_at, rule, recurrence_end, time_zone, created_at, updated_at`
	bookingColumns        = `id, practitioner_id, service_id, client_id, guest_name, guest_email, guest_phone, start_at, end_at, status, note, origin, created_at, updated_at`
)

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.TimeZone,
		&p.BufferMinutes,
		&p.MinLeadMinutes,
		&p.GridStepMinutes,
		&p.DefaultSlotMinutes,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrPractitionerNotFound)
	}
	return &p, nil
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.DurationMinutes,
		&s.BufferOverrideMinutes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrServiceNotLinked)
	}
	return &s, nil
}

func scanTemplate(row pgx.Row) (*WeeklyTemplate, error) {
	var t WeeklyTemplate
	var days []int16
	var start, end int
	if err := row.Scan(&t.ID, &t.PractitionerID, &days, &start, &end, &t.CreatedAt); err != nil {
		return nil, notFound(err, ErrTemplateNotFound)
	}
	t.Weekdays = make([]time.Weekday, 0, len(days))
	for _, d := range days {
		t.Weekdays = append(t.Weekdays, time.Weekday(d))
	}
	t.StartMinute = localtime.Clock(start)
	t.EndMinute = localtime.Clock(end)
	return &t, nil
}

func scanOpening(row pgx.Row) (*Opening, error) {
	var o Opening
	if err := row.Scan(&o.ID, &o.PractitionerID, &o.StartAt, &o.EndAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, notFound(err, ErrOpeningNotFound)
	}
	return &o, nil
}

func scanException(row pgx.Row) (*Exception, error) {
	var e Exception
	if err := row.Scan(&e.ID, &e.PractitionerID, &e.StartAt, &e.EndAt, &e.Reason, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, notFound(err, ErrExceptionNotFound)
	}
	return &e, nil
}

func scanUnavailability(row pgx.Row) (*Unavailability, error) {
	var u Unavailability
	err := row.Scan(
		&u.ID,
		&u.PractitionerID,
		&u.Type,
		&u.Reason,
		&u.StartAt,
		&u.EndAt,
		&u.Rule,
		&u.RecurrenceEnd,
		&u.TimeZone,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrUnavailabilityNotFound)
	}
	return &u, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.PractitionerID,
		&b.ServiceID,
		&b.ClientID,
		&b.GuestName,
		&b.GuestEmail,
		&b.GuestPhone,
		&b.StartAt,
		&b.EndAt,
		&b.Status,
		&b.Note,
		&b.Origin,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrBookingNotFound)
	}
	return &b, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	result := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Reads

func (r *pgReader) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *pgReader) GetLinkedService(ctx context.Context, practitionerID, serviceID uuid.UUID) (*Service, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services s
		JOIN practitioner_services ps ON ps.service_id = s.id
		WHERE ps.practitioner_id = $1
		  AND ps.service_id = $2
		  AND ps.active
	`, practitionerID, serviceID)
	return scanService(row)
}

func (r *pgReader) ListWeeklyTemplates(ctx context.Context, practitionerID uuid.UUID) ([]WeeklyTemplate, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+templateColumns+`
		FROM weekly_templates
		WHERE practitioner_id = $1
		ORDER BY start_minute, id
	`, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("list weekly templates: %w", err)
	}
	return collect(rows, scanTemplate)
}

func (r *pgReader) ListOpenings(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Opening, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+openingColumns+`
		FROM openings
		WHERE practitioner_id = $1
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at, id
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list openings: %w", err)
	}
	return collect(rows, scanOpening)
}

func (r *pgReader) ListExceptions(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Exception, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE practitioner_id = $1
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at, id
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	return collect(rows, scanException)
}

func (r *pgReader) ListUnavailabilities(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Unavailability, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+unavailabilityColumns+`
		FROM unavailabilities
		WHERE practitioner_id = $1
		  AND start_at < $3
		  AND (
		        end_at > $2
		     OR (rule IS NOT NULL AND (recurrence_end IS NULL OR recurrence_end + (end_at - start_at) > $2))
		  )
		ORDER BY start_at, id
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list unavailabilities: %w", err)
	}
	return collect(rows, scanUnavailability)
}

func (r *pgReader) ListActiveBookings(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE practitioner_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at, id
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}
	return collect(rows, scanBooking)
}

func (s *PgStore) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

// Writes

func (t *pgTx) LockPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanPractitioner(row)
}

func (t *pgTx) InsertPractitioner(ctx context.Context, p *Practitioner) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO practitioners (id, name, time_zone, buffer_minutes, min_lead_minutes, grid_step_minutes, default_slot_minutes, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.TimeZone, p.BufferMinutes, p.MinLeadMinutes, p.GridStepMinutes, p.DefaultSlotMinutes, p.Active).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (t *pgTx) InsertService(ctx context.Context, s *Service) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO services (id, name, duration_minutes, buffer_override_minutes)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, s.ID, s.Name, s.DurationMinutes, s.BufferOverrideMinutes).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (t *pgTx) LinkService(ctx context.Context, link ServiceLink) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO practitioner_services (practitioner_id, service_id, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (practitioner_id, service_id) DO UPDATE SET active = EXCLUDED.active
	`, link.PractitionerID, link.ServiceID, link.Active)
	if err != nil {
		return fmt.Errorf("link service: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTemplate(ctx context.Context, tpl *WeeklyTemplate) error {
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	days := make([]int16, len(tpl.Weekdays))
	for i, d := range tpl.Weekdays {
		days[i] = int16(d)
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO weekly_templates (id, practitioner_id, weekdays, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, tpl.ID, tpl.PractitionerID, days, int(tpl.StartMinute), int(tpl.EndMinute)).Scan(&tpl.CreatedAt)
}

func (t *pgTx) DeleteTemplate(ctx context.Context, practitionerID, id uuid.UUID) error {
	return t.deleteRow(ctx, "weekly_templates", practitionerID, id, ErrTemplateNotFound)
}

func (t *pgTx) deleteRow(ctx context.Context, table string, practitionerID, id uuid.UUID, sentinel error) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1 AND practitioner_id = $2`, id, practitionerID)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel
	}
	return nil
}

func (t *pgTx) GetOpening(ctx context.Context, practitionerID, id uuid.UUID) (*Opening, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+openingColumns+`
		FROM openings
		WHERE id = $1 AND practitioner_id = $2
		FOR UPDATE
	`, id, practitionerID)
	return scanOpening(row)
}

func (t *pgTx) InsertOpening(ctx context.Context, o *Opening) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO openings (id, practitioner_id, start_at, end_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, o.ID, o.PractitionerID, o.StartAt, o.EndAt).Scan(&o.CreatedAt, &o.UpdatedAt)
	return openingWriteError(err)
}

func (t *pgTx) UpdateOpening(ctx context.Context, o *Opening) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE openings
		SET start_at = $3,
		    end_at = $4,
		    updated_at = now()
		WHERE id = $1 AND practitioner_id = $2
		RETURNING created_at, updated_at
	`, o.ID, o.PractitionerID, o.StartAt, o.EndAt).Scan(&o.CreatedAt, &o.UpdatedAt)
	return openingWriteError(notFound(err, ErrOpeningNotFound))
}

func openingWriteError(err error) error {
	if err == nil {
		return nil
	}
	if isExclusionViolation(err) {
		return &ConflictError{Reason: "overlaps another opening", With: "opening"}
	}
	if errors.Is(err, ErrOpeningNotFound) {
		return err
	}
	return fmt.Errorf("write opening: %w", err)
}

func (t *pgTx) DeleteOpening(ctx context.Context, practitionerID, id uuid.UUID) error {
	return t.deleteRow(ctx, "openings", practitionerID, id, ErrOpeningNotFound)
}

func (t *pgTx) GetException(ctx context.Context, practitionerID, id uuid.UUID) (*Exception, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE id = $1 AND practitioner_id = $2
		FOR UPDATE
	`, id, practitionerID)
	return scanException(row)
}

func (t *pgTx) InsertException(ctx context.Context, e *Exception) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO exceptions (id, practitioner_id, start_at, end_at, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, e.ID, e.PractitionerID, e.StartAt, e.EndAt, e.Reason).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (t *pgTx) UpdateException(ctx context.Context, e *Exception) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE exceptions
		SET start_at = $3,
		    end_at = $4,
		    reason = $5,
		    updated_at = now()
		WHERE id = $1 AND practitioner_id = $2
		RETURNING created_at, updated_at
	`, e.ID, e.PractitionerID, e.StartAt, e.EndAt, e.Reason).Scan(&e.CreatedAt, &e.UpdatedAt)
	return notFound(err, ErrExceptionNotFound)
}

func (t *pgTx) DeleteException(ctx context.Context, practitionerID, id uuid.UUID) error {
	return t.deleteRow(ctx, "exceptions", practitionerID, id, ErrExceptionNotFound)
}

func (t *pgTx) GetUnavailability(ctx context.Context, practitionerID, id uuid.UUID) (*Unavailability, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+unavailabilityColumns+`
		FROM unavailabilities
		WHERE id = $1 AND practitioner_id = $2
		FOR UPDATE
	`, id, practitionerID)
	return scanUnavailability(row)
}

func (t *pgTx) InsertUnavailability(ctx context.Context, u *Unavailability) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO unavailabilities (id, practitioner_id, type, reason, start_at, end_at, rule, recurrence_end, time_zone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, u.ID, u.PractitionerID, u.Type, u.Reason, u.StartAt, u.EndAt, u.Rule, u.RecurrenceEnd, u.TimeZone).
		Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (t *pgTx) UpdateUnavailability(ctx context.Context, u *Unavailability) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE unavailabilities
		SET type = $3,
		    reason = $4,
		    start_at = $5,
		    end_at = $6,
		    rule = $7,
		    recurrence_end = $8,
		    time_zone = $9,
		    updated_at = now()
		WHERE id = $1 AND practitioner_id = $2
		RETURNING created_at, updated_at
	`, u.ID, u.PractitionerID, u.Type, u.Reason, u.StartAt, u.EndAt, u.Rule, u.RecurrenceEnd, u.TimeZone).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	return notFound(err, ErrUnavailabilityNotFound)
}

func (t *pgTx) DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error {
	return t.deleteRow(ctx, "unavailabilities", practitionerID, id, ErrUnavailabilityNotFound)
}

func (t *pgTx) InsertBooking(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bookings (id, practitioner_id, service_id, client_id, guest_name, guest_email, guest_phone,
		                      start_at, end_at, status, note, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, b.ID, b.PractitionerID, b.ServiceID, b.ClientID, b.GuestName, b.GuestEmail, b.GuestPhone,
		b.StartAt, b.EndAt, b.Status, b.Note, b.Origin).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return &ConflictError{Reason: "overlaps an existing booking", With: "booking"}
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanBooking(row)
}

// UpdateBookingStatus only succeeds while the row still has status from.
func (t *pgTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns+`
	`, id, to, from)
	return scanBooking(row)
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, practitioner_id, payload, traceparent, tracestate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, ev.EventType, ev.BookingID, ev.PractitionerID, ev.Payload, ev.Traceparent, ev.Tracestate, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
