package availability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/interval"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
	"github.com/hackgods/clinic-availability-engine/internal/recurrence"
)

const DefaultMaxQuerySpan = 93 * 24 * time.Hour

type Options struct {
	Limits       recurrence.Limits
	MaxQuerySpan time.Duration
	Cache        *Cache
	Now          func() time.Time
}

type Service struct {
	store   calendar.Reader
	agg     *Aggregator
	cache   *Cache
	maxSpan time.Duration
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewService(store calendar.Reader, logger *slog.Logger, opts Options) *Service {
	if opts.MaxQuerySpan <= 0 {
		opts.MaxQuerySpan = DefaultMaxQuerySpan
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		agg:     NewAggregator(opts.Limits),
		cache:   opts.Cache,
		maxSpan: opts.MaxQuerySpan,
		now:     opts.Now,
		logger:  logger.With("component", "availability"),
		tracer:  otel.Tracer("github.com/hackgods/clinic-availability-engine/internal/availability"),
	}
}

func (s *Service) Aggregator() *Aggregator { return s.agg }

// Invalidate drops cached free windows after a calendar write.
func (s *Service) Invalidate(practitionerID uuid.UUID) {
	s.cache.Invalidate(practitionerID)
}

type SlotQuery struct {
	PractitionerID uuid.UUID
	ServiceID      uuid.UUID
	Date           localtime.Date
	// TimeZone selects the zone the Date is read in; empty means the practitioner's.
	TimeZone        string
	GridStepMinutes *int
	MinLeadMinutes  *int
}

// EffectivePolicy echoes the values the slots were computed with.
type EffectivePolicy struct {
	DurationMinutes int
	BufferMinutes   int
	GridStepMinutes int
	MinLeadMinutes  int
	TimeZone        string
}

type SlotResult struct {
	Slots  []Slot
	Policy EffectivePolicy
	Window interval.Interval
}

func (s *Service) ListSlots(ctx context.Context, q SlotQuery) (res *SlotResult, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.list_slots", trace.WithAttributes(
		attribute.String("practitioner.id", q.PractitionerID.String()),
		attribute.String("service.id", q.ServiceID.String()),
		attribute.String("date", q.Date.String()),
	))
	defer func() { endSpan(span, err) }()

	p, err := s.activePractitioner(ctx, q.PractitionerID)
	if err != nil {
		return nil, err
	}
	svc, err := s.store.GetLinkedService(ctx, p.ID, q.ServiceID)
	if err != nil {
		return nil, calendar.Internal("load service", err)
	}

	loc, err := p.Location()
	if err != nil {
		return nil, calendar.Validationf("practitioner %s: %v", p.ID, err)
	}
	dayLoc := loc
	if q.TimeZone != "" {
		if dayLoc, err = localtime.LoadLocation(q.TimeZone); err != nil {
			return nil, calendar.Validationf("%v", err)
		}
	}

	policy := EffectivePolicy{
		DurationMinutes: svc.DurationMinutes,
		BufferMinutes:   int(calendar.EffectiveBuffer(p, svc) / time.Minute),
		GridStepMinutes: p.GridStepMinutes,
		MinLeadMinutes:  p.MinLeadMinutes,
		TimeZone:        loc.String(),
	}
	if q.GridStepMinutes != nil {
		if *q.GridStepMinutes <= 0 || *q.GridStepMinutes > 24*60 {
			return nil, calendar.Validationf("grid_step must be between 1 and 1440 minutes")
		}
		policy.GridStepMinutes = *q.GridStepMinutes
	}
	if q.MinLeadMinutes != nil {
		if *q.MinLeadMinutes < 0 {
			return nil, calendar.Validationf("min_lead must not be negative")
		}
		policy.MinLeadMinutes = *q.MinLeadMinutes
	}

	window := interval.New(localtime.DayStart(q.Date, dayLoc), localtime.DayStart(q.Date.AddDays(1), dayLoc))
	buffer := time.Duration(policy.BufferMinutes) * time.Minute

	free, err := s.freeWindows(ctx, p, buffer, window)
	if err != nil {
		return nil, err
	}

	slots := GenerateSlots(free, Policy{
		Duration: svc.Duration(),
		Buffer:   buffer,
		GridStep: time.Duration(policy.GridStepMinutes) * time.Minute,
		MinLead:  time.Duration(policy.MinLeadMinutes) * time.Minute,
		Loc:      loc,
	}, s.now())

	span.SetAttributes(attribute.Int("slots.count", len(slots)))
	return &SlotResult{Slots: slots, Policy: policy, Window: window}, nil
}

func (s *Service) freeWindows(ctx context.Context, p *calendar.Practitioner, buffer time.Duration, window interval.Interval) ([]interval.Interval, error) {
	if cached, ok := s.cache.Get(p.ID, buffer, window); ok {
		s.logger.Debug("free windows cache hit", "practitioner_id", p.ID, "windows", len(cached))
		return cached, nil
	}
	generation := s.cache.Generation(p.ID)

	snap, err := Load(ctx, s.store, p, window, buffer, true)
	if err != nil {
		return nil, err
	}
	free, err := s.agg.FreeWindows(snap, buffer)
	if err != nil {
		return nil, err
	}
	s.cache.Put(p.ID, buffer, window, generation, free)
	return free, nil
}

// ListCalendar renders the calendar entries overlapping [from, to).
func (s *Service) ListCalendar(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) (events []calendar.CalendarEvent, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.list_calendar", trace.WithAttributes(
		attribute.String("practitioner.id", practitionerID.String()),
	))
	defer func() { endSpan(span, err) }()

	window := interval.New(from.UTC(), to.UTC())
	if err := s.checkSpan(window); err != nil {
		return nil, err
	}
	p, err := s.store.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, calendar.Internal("load practitioner", err)
	}
	snap, err := Load(ctx, s.store, p, window, 0, true)
	if err != nil {
		return nil, err
	}
	return s.agg.CalendarEvents(snap)
}

func (s *Service) checkSpan(window interval.Interval) error {
	if !window.Valid() {
		return calendar.Validationf("range start must be before its end")
	}
	if window.Duration() > s.maxSpan {
		return calendar.Validationf("range exceeds %s", s.maxSpan)
	}
	return nil
}

func (s *Service) activePractitioner(ctx context.Context, id uuid.UUID) (*calendar.Practitioner, error) {
	p, err := s.store.GetPractitioner(ctx, id)
	if err != nil {
		return nil, calendar.Internal("load practitioner", err)
	}
	if !p.Active {
		return nil, calendar.ErrPractitionerNotFound
	}
	return p, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
