package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-availability-engine/internal/availability"
	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/interval"
	"github.com/hackgods/clinic-availability-engine/internal/recurrence"
	redisclient "github.com/hackgods/clinic-availability-engine/internal/redis"
)

const (
	EventBookingCreated       = "booking.created"
	EventBookingStatusChanged = "booking.status_changed"
	EventCalendarChanged      = "calendar.changed"
)

const DefaultGuardHorizon = 365 * 24 * time.Hour

// Invalidator drops derived availability for a practitioner after a write.
type Invalidator interface {
	Invalidate(practitionerID uuid.UUID)
}

type Options struct {
	Limits recurrence.Limits
	// GuardHorizon bounds how far a recurring closure is expanded when checking
	// it against existing bookings.
	GuardHorizon time.Duration
	Now          func() time.Time
}

type Service struct {
	store        calendar.Store
	agg          *availability.Aggregator
	locker       redisclient.Locker
	cache        Invalidator
	logger       *slog.Logger
	tracer       trace.Tracer
	guardHorizon time.Duration
	now          func() time.Time
}

// NewService wires the validator. locker and cache may be nil.
func NewService(store calendar.Store, locker redisclient.Locker, cache Invalidator, logger *slog.Logger, opts Options) *Service {
	if opts.GuardHorizon <= 0 {
		opts.GuardHorizon = DefaultGuardHorizon
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		agg:          availability.NewAggregator(opts.Limits),
		locker:       locker,
		cache:        cache,
		logger:       logger.With("component", "booking"),
		tracer:       otel.Tracer("github.com/hackgods/clinic-availability-engine/internal/booking"),
		guardHorizon: opts.GuardHorizon,
		now:          opts.Now,
	}
}

type CreateBookingInput struct {
	PractitionerID uuid.UUID
	ServiceID      uuid.UUID
	Start          time.Time
	ClientID       *uuid.UUID
	GuestName      *string
	GuestEmail     *string
	GuestPhone     *string
	Note           *string
	Origin         calendar.Origin
}

// CreateBooking validates a candidate interval against the live calendar and
// persists it. Checks run in a fixed order and the first failure decides the
// error kind:
//
//  1. the service must be actively offered by the practitioner (Not Found)
//  2. self-service bookings must respect the lead time (Validation)
//  3. an opening must fully cover [start, end) (Conflict)
//  4. no active booking may overlap, buffer included (Conflict)
//  5. no exception or unavailability occurrence may overlap (Conflict)
//
// Steps 3 to 5 and the insert run in one transaction holding the practitioner row.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (created *calendar.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.create", trace.WithAttributes(
		attribute.String("practitioner.id", in.PractitionerID.String()),
		attribute.String("service.id", in.ServiceID.String()),
	))
	defer func() { endSpan(span, err) }()

	if in.Origin == "" {
		in.Origin = calendar.OriginSelfService
	}
	if in.Origin != calendar.OriginSelfService && in.Origin != calendar.OriginOperator {
		return nil, calendar.Validationf("unknown origin %q", in.Origin)
	}
	if in.Start.IsZero() {
		return nil, calendar.Validationf("start is required")
	}
	in.Start = in.Start.UTC()

	err = s.withLock(ctx, in.PractitionerID, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx calendar.Tx) error {
			b, err := s.validateAndInsert(ctx, tx, in)
			if err != nil {
				return err
			}
			created = b
			return nil
		})
	})
	if err != nil {
		return nil, calendar.Internal("create booking", err)
	}

	s.invalidate(in.PractitionerID)
	s.logger.Info("booking created",
		"booking_id", created.ID,
		"practitioner_id", created.PractitionerID,
		"start", created.StartAt,
		"status", created.Status,
	)
	return created, nil
}

func (s *Service) validateAndInsert(ctx context.Context, tx calendar.Tx, in CreateBookingInput) (*calendar.Booking, error) {
	p, err := tx.LockPractitioner(ctx, in.PractitionerID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, calendar.ErrPractitionerNotFound
	}
	svc, err := tx.GetLinkedService(ctx, p.ID, in.ServiceID)
	if err != nil {
		return nil, err
	}

	candidate := interval.New(in.Start, in.Start.Add(svc.Duration()))

	if in.Origin == calendar.OriginSelfService {
		earliest := s.now().Add(time.Duration(p.MinLeadMinutes) * time.Minute)
		if candidate.Start.Before(earliest) {
			return nil, calendar.Validationf("start must be at least %d minutes from now", p.MinLeadMinutes)
		}
	}

	buffer := calendar.EffectiveBuffer(p, svc)
	snap, err := availability.Load(ctx, tx, p, candidate, buffer, false)
	if err != nil {
		return nil, err
	}

	if err := s.checkCandidate(snap, candidate, buffer); err != nil {
		return nil, err
	}

	b := &calendar.Booking{
		ID:             uuid.New(),
		PractitionerID: p.ID,
		ServiceID:      svc.ID,
		ClientID:       in.ClientID,
		GuestName:      in.GuestName,
		GuestEmail:     in.GuestEmail,
		GuestPhone:     in.GuestPhone,
		StartAt:        candidate.Start,
		EndAt:          candidate.End,
		Status:         calendar.InitialStatus(in.Origin),
		Note:           in.Note,
		Origin:         in.Origin,
	}
	if err := tx.InsertBooking(ctx, b); err != nil {
		return nil, err
	}

	if err := s.logEvent(ctx, tx, EventBookingCreated, &b.ID, p.ID, map[string]any{
		"service_id": svc.ID.String(),
		"start_at":   b.StartAt,
		"end_at":     b.EndAt,
		"status":     b.Status,
		"origin":     b.Origin,
	}); err != nil {
		return nil, err
	}
	return b, nil
}

// checkCandidate runs the covering, booking and closure checks in that order.
func (s *Service) checkCandidate(snap *availability.Snapshot, candidate interval.Interval, buffer time.Duration) error {
	covered := false
	for _, open := range s.agg.Openings(snap) {
		if interval.Contains(open, candidate) {
			covered = true
			break
		}
	}
	if !covered {
		return &calendar.ConflictError{Reason: "interval is not fully inside opening hours", With: "opening"}
	}

	for _, blk := range s.agg.BookingBlocks(snap, buffer) {
		if interval.Overlaps(blk.Interval, candidate) {
			return &calendar.ConflictError{Reason: "overlaps an existing booking", With: string(blk.Kind), ID: blk.ID}
		}
	}

	closures, err := s.agg.Closures(snap)
	if err != nil {
		return err
	}
	for _, c := range closures {
		if interval.Overlaps(c.Interval, candidate) {
			return &calendar.ConflictError{Reason: "practitioner is unavailable", With: string(c.Kind), ID: c.ID}
		}
	}
	return nil
}

// TransitionStatus moves a booking along the status machine. A rejected
// transition leaves the stored status untouched.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, to calendar.BookingStatus) (updated *calendar.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.transition", trace.WithAttributes(
		attribute.String("booking.id", id.String()),
		attribute.String("booking.to", string(to)),
	))
	defer func() { endSpan(span, err) }()

	if !to.Valid() {
		return nil, calendar.Validationf("unknown status %q", to)
	}

	var from calendar.BookingStatus
	err = s.store.InTx(ctx, func(tx calendar.Tx) error {
		b, err := tx.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = b.Status
		if err := calendar.CheckTransition(b.Status, to); err != nil {
			return err
		}

		updated, err = tx.UpdateBookingStatus(ctx, id, b.Status, to)
		if err != nil {
			return err
		}
		return s.logEvent(ctx, tx, EventBookingStatusChanged, &updated.ID, updated.PractitionerID, map[string]any{
			"from": from,
			"to":   to,
		})
	})
	if err != nil {
		return nil, calendar.Internal("transition booking", err)
	}

	if from.Active() != to.Active() {
		s.invalidate(updated.PractitionerID)
	}
	s.logger.Info("booking status changed", "booking_id", id, "from", from, "to", to)
	return updated, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*calendar.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, calendar.Internal("get booking", err)
	}
	return b, nil
}

// withLock takes the advisory Redis lock when one is configured. Redis being
// down degrades to the database guarantees alone.
func (s *Service) withLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	ran := false
	err := s.locker.WithPractitionerLock(ctx, practitionerID, func(lockCtx context.Context) error {
		ran = true
		return fn(lockCtx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return &calendar.ConflictError{Reason: "practitioner calendar is busy, please retry", With: "lock"}
	case errors.Is(err, redisclient.ErrLockUnavailable) && !ran:
		s.logger.Warn("advisory lock unavailable, continuing without it", "practitioner_id", practitionerID, "err", err)
		return fn(ctx)
	default:
		return err
	}
}

func (s *Service) invalidate(practitionerID uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(practitionerID)
	}
}

// logEvent writes to the event log inside tx so the event commits with the change.
func (s *Service) logEvent(ctx context.Context, tx calendar.Tx, eventType string, bookingID *uuid.UUID, practitionerID uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	pid := practitionerID
	ev := calendar.EventLog{
		EventType:      eventType,
		BookingID:      bookingID,
		PractitionerID: &pid,
		Payload:        data,
		Traceparent:    carrier.Get("traceparent"),
		Tracestate:     carrier.Get("tracestate"),
		CreatedAt:      s.now().UTC(),
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("log %s: %w", eventType, err)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
