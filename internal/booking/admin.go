package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/interval"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
	"github.com/hackgods/clinic-availability-engine/internal/recurrence"
)

// Calendar edits. Each runs in one transaction holding the practitioner row and
// re-checks the active bookings it could strand: an opening that holds a booking
// cannot change, and a closure over a booking is rejected, never truncated.

func (s *Service) CreateTemplate(ctx context.Context, t *calendar.WeeklyTemplate) error {
	if len(t.Weekdays) == 0 {
		return calendar.Validationf("weekdays are required")
	}
	for _, wd := range t.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return calendar.Validationf("invalid weekday %d", wd)
		}
	}
	if !t.StartMinute.Valid() || !t.EndMinute.Valid() || t.StartMinute >= t.EndMinute {
		return calendar.Validationf("template hours %s-%s are invalid", t.StartMinute, t.EndMinute)
	}

	return s.edit(ctx, t.PractitionerID, "template", "created", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		if err := tx.InsertTemplate(ctx, t); err != nil {
			return uuid.Nil, err
		}
		return t.ID, nil
	})
}

// DeleteTemplate is not guarded: manual openings are the tool for keeping
// individual days open.
func (s *Service) DeleteTemplate(ctx context.Context, practitionerID, id uuid.UUID) error {
	return s.edit(ctx, practitionerID, "template", "deleted", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		return id, tx.DeleteTemplate(ctx, practitionerID, id)
	})
}

func (s *Service) CreateOpening(ctx context.Context, o *calendar.Opening) error {
	if err := checkRange(o.StartAt, o.EndAt); err != nil {
		return err
	}
	o.StartAt, o.EndAt = o.StartAt.UTC(), o.EndAt.UTC()
	return s.edit(ctx, o.PractitionerID, "opening", "created", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		if err := tx.InsertOpening(ctx, o); err != nil {
			return uuid.Nil, err
		}
		return o.ID, nil
	})
}

func (s *Service) UpdateOpening(ctx context.Context, o *calendar.Opening) error {
	if err := checkRange(o.StartAt, o.EndAt); err != nil {
		return err
	}
	o.StartAt, o.EndAt = o.StartAt.UTC(), o.EndAt.UTC()
	return s.edit(ctx, o.PractitionerID, "opening", "updated", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		old, err := tx.GetOpening(ctx, o.PractitionerID, o.ID)
		if err != nil {
			return uuid.Nil, err
		}
		if err := guardOpening(ctx, tx, old); err != nil {
			return uuid.Nil, err
		}
		return o.ID, tx.UpdateOpening(ctx, o)
	})
}

func (s *Service) DeleteOpening(ctx context.Context, practitionerID, id uuid.UUID) error {
	return s.edit(ctx, practitionerID, "opening", "deleted", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		old, err := tx.GetOpening(ctx, practitionerID, id)
		if err != nil {
			return uuid.Nil, err
		}
		if err := guardOpening(ctx, tx, old); err != nil {
			return uuid.Nil, err
		}
		return id, tx.DeleteOpening(ctx, practitionerID, id)
	})
}

func (s *Service) CreateException(ctx context.Context, e *calendar.Exception) error {
	if err := checkRange(e.StartAt, e.EndAt); err != nil {
		return err
	}
	e.StartAt, e.EndAt = e.StartAt.UTC(), e.EndAt.UTC()
	return s.edit(ctx, e.PractitionerID, "exception", "created", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		if err := s.guardClosure(ctx, tx, e.PractitionerID, []interval.Interval{e.Interval()}, calendar.KindException); err != nil {
			return uuid.Nil, err
		}
		if err := tx.InsertException(ctx, e); err != nil {
			return uuid.Nil, err
		}
		return e.ID, nil
	})
}

func (s *Service) UpdateException(ctx context.Context, e *calendar.Exception) error {
	if err := checkRange(e.StartAt, e.EndAt); err != nil {
		return err
	}
	e.StartAt, e.EndAt = e.StartAt.UTC(), e.EndAt.UTC()
	return s.edit(ctx, e.PractitionerID, "exception", "updated", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		if _, err := tx.GetException(ctx, e.PractitionerID, e.ID); err != nil {
			return uuid.Nil, err
		}
		if err := s.guardClosure(ctx, tx, e.PractitionerID, []interval.Interval{e.Interval()}, calendar.KindException); err != nil {
			return uuid.Nil, err
		}
		return e.ID, tx.UpdateException(ctx, e)
	})
}

// DeleteException only reopens time, so nothing needs re-checking.
func (s *Service) DeleteException(ctx context.Context, practitionerID, id uuid.UUID) error {
	return s.edit(ctx, practitionerID, "exception", "deleted", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		return id, tx.DeleteException(ctx, practitionerID, id)
	})
}

func (s *Service) CreateUnavailability(ctx context.Context, u *calendar.Unavailability) error {
	return s.edit(ctx, u.PractitionerID, "unavailability", "created", func(tx calendar.Tx, p *calendar.Practitioner) (uuid.UUID, error) {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		if err := s.prepareUnavailability(ctx, tx, p, u); err != nil {
			return uuid.Nil, err
		}
		if err := tx.InsertUnavailability(ctx, u); err != nil {
			return uuid.Nil, err
		}
		return u.ID, nil
	})
}

func (s *Service) UpdateUnavailability(ctx context.Context, u *calendar.Unavailability) error {
	return s.edit(ctx, u.PractitionerID, "unavailability", "updated", func(tx calendar.Tx, p *calendar.Practitioner) (uuid.UUID, error) {
		if _, err := tx.GetUnavailability(ctx, u.PractitionerID, u.ID); err != nil {
			return uuid.Nil, err
		}
		if err := s.prepareUnavailability(ctx, tx, p, u); err != nil {
			return uuid.Nil, err
		}
		return u.ID, tx.UpdateUnavailability(ctx, u)
	})
}

func (s *Service) DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error {
	return s.edit(ctx, practitionerID, "unavailability", "deleted", func(tx calendar.Tx, _ *calendar.Practitioner) (uuid.UUID, error) {
		return id, tx.DeleteUnavailability(ctx, practitionerID, id)
	})
}

// prepareUnavailability validates u, normalises it to UTC and checks the series
// against active bookings up to the guard horizon.
func (s *Service) prepareUnavailability(ctx context.Context, tx calendar.Tx, p *calendar.Practitioner, u *calendar.Unavailability) error {
	if !u.Type.Valid() {
		return calendar.Validationf("unknown unavailability type %q", u.Type)
	}
	if err := checkRange(u.StartAt, u.EndAt); err != nil {
		return err
	}
	if u.TimeZone == "" {
		u.TimeZone = p.TimeZone
	}
	if _, err := localtime.LoadLocation(u.TimeZone); err != nil {
		return calendar.Validationf("%v", err)
	}
	if u.Rule != nil && *u.Rule != "" {
		rule, err := recurrence.Parse(*u.Rule)
		if err != nil {
			return calendar.RecurrenceError(u.ID, err)
		}
		canonical := rule.String()
		u.Rule = &canonical

		// The expander works in whole local minutes.
		if !u.StartAt.Truncate(time.Minute).Equal(u.StartAt) || u.EndAt.Sub(u.StartAt)%time.Minute != 0 {
			return calendar.Validationf("recurring unavailability must start and last whole minutes")
		}
	}
	if u.RecurrenceEnd != nil {
		if u.Rule == nil || *u.Rule == "" {
			return calendar.Validationf("recurrence_end requires a rule")
		}
		if u.RecurrenceEnd.Before(u.StartAt) {
			return calendar.Validationf("recurrence_end is before start_at")
		}
		end := u.RecurrenceEnd.UTC()
		u.RecurrenceEnd = &end
	}
	u.StartAt, u.EndAt = u.StartAt.UTC(), u.EndAt.UTC()

	horizon := u.StartAt
	if now := s.now(); now.After(horizon) {
		horizon = now
	}
	return s.guardSeries(ctx, tx, u, horizon.Add(s.guardHorizon))
}

// guardSeries checks the series only where active bookings sit, so the
// expansion stays small however far back the series starts.
func (s *Service) guardSeries(ctx context.Context, tx calendar.Tx, u *calendar.Unavailability, until time.Time) error {
	if !u.StartAt.Before(until) {
		return nil
	}
	bookings, err := tx.ListActiveBookings(ctx, u.PractitionerID, u.StartAt, until)
	if err != nil {
		return err
	}
	for _, b := range bookings {
		occ, err := s.agg.Occurrences(u, b.StartAt, b.EndAt)
		if err != nil {
			return err
		}
		if len(occ) > 0 {
			return &calendar.ConflictError{
				Reason: "active booking " + b.ID.String() + " falls inside the new " + string(calendar.KindUnavailability),
				With:   string(calendar.KindBooking),
				ID:     b.ID,
			}
		}
	}
	return nil
}

// guardClosure rejects closing time that an active booking already holds.
func (s *Service) guardClosure(ctx context.Context, tx calendar.Tx, practitionerID uuid.UUID, blocks []interval.Interval, kind calendar.EntryKind) error {
	merged := interval.Merge(blocks)
	if len(merged) == 0 {
		return nil
	}
	span := interval.New(merged[0].Start, merged[len(merged)-1].End)
	bookings, err := tx.ListActiveBookings(ctx, practitionerID, span.Start, span.End)
	if err != nil {
		return err
	}
	for _, b := range bookings {
		if interval.OverlapsAny(b.Interval(), merged) >= 0 {
			return &calendar.ConflictError{
				Reason: "active booking " + b.ID.String() + " falls inside the new " + string(kind),
				With:   string(calendar.KindBooking),
				ID:     b.ID,
			}
		}
	}
	return nil
}

// guardOpening rejects editing or removing an opening while an active booking
// intersects it.
func guardOpening(ctx context.Context, tx calendar.Tx, o *calendar.Opening) error {
	bookings, err := tx.ListActiveBookings(ctx, o.PractitionerID, o.StartAt, o.EndAt)
	if err != nil {
		return err
	}
	for _, b := range bookings {
		if interval.Overlaps(b.Interval(), o.Interval()) {
			return &calendar.ConflictError{
				Reason: "active booking " + b.ID.String() + " intersects the opening",
				With:   string(calendar.KindBooking),
				ID:     b.ID,
			}
		}
	}
	return nil
}

// edit runs fn under the practitioner row lock, logs a calendar.changed event
// and drops cached availability once committed.
func (s *Service) edit(ctx context.Context, practitionerID uuid.UUID, entity, action string, fn func(tx calendar.Tx, p *calendar.Practitioner) (uuid.UUID, error)) (err error) {
	ctx, span := s.tracer.Start(ctx, "calendar."+entity+"."+action)
	defer func() { endSpan(span, err) }()

	err = s.store.InTx(ctx, func(tx calendar.Tx) error {
		p, err := tx.LockPractitioner(ctx, practitionerID)
		if err != nil {
			return err
		}
		id, err := fn(tx, p)
		if err != nil {
			return err
		}
		return s.logEvent(ctx, tx, EventCalendarChanged, nil, practitionerID, map[string]any{
			"entity": entity,
			"action": action,
			"id":     id.String(),
		})
	})
	if err != nil {
		return calendar.Internal(entity+" "+action, err)
	}

	s.invalidate(practitionerID)
	s.logger.Info("calendar changed", "practitioner_id", practitionerID, "entity", entity, "action", action)
	return nil
}

func checkRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return calendar.Validationf("start_at and end_at are required")
	}
	if !start.Before(end) {
		return calendar.Validationf("start_at must be before end_at")
	}
	return nil
}
