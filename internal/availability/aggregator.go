package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/interval"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
	"github.com/hackgods/clinic-availability-engine/internal/recurrence"
)

// Closure is one blocking interval with the entry that produced it.
type Closure struct {
	Kind calendar.EntryKind
	ID   uuid.UUID
	interval.Interval
}

type Aggregator struct {
	limits recurrence.Limits
}

func NewAggregator(limits recurrence.Limits) *Aggregator {
	return &Aggregator{limits: limits}
}

// TemplateOpenings materialises weekly templates for every local day touching
// the window, clipped to it.
func (a *Aggregator) TemplateOpenings(s *Snapshot) []calendar.CalendarEvent {
	var out []calendar.CalendarEvent
	for _, day := range localtime.Days(s.Window.Start, s.Window.End, s.Loc) {
		wd := day.Weekday()
		for _, tpl := range s.Templates {
			if !tpl.OnWeekday(wd) {
				continue
			}
			iv := interval.New(
				localtime.At(day, tpl.StartMinute, s.Loc),
				localtime.At(day, tpl.EndMinute, s.Loc),
			)
			clipped := interval.Clip([]interval.Interval{iv}, s.Window)
			if len(clipped) == 0 || !clipped[0].Valid() {
				continue
			}
			out = append(out, calendar.CalendarEvent{
				Kind:     calendar.KindTemplateOpening,
				SourceID: tpl.ID,
				Start:    clipped[0].Start,
				End:      clipped[0].End,
			})
		}
	}
	return out
}

// Openings is the union of template and manual openings inside the window.
func (a *Aggregator) Openings(s *Snapshot) []interval.Interval {
	var all []interval.Interval
	for _, ev := range a.TemplateOpenings(s) {
		all = append(all, ev.Interval())
	}
	for _, o := range s.Openings {
		all = append(all, o.Interval())
	}
	return interval.Merge(interval.Clip(all, s.Window))
}

// Occurrences expands one unavailability row over [from, to).
func (a *Aggregator) Occurrences(u *calendar.Unavailability, from, to time.Time) ([]interval.Interval, error) {
	window := interval.New(from, to)
	if u.Rule == nil || *u.Rule == "" {
		first := u.FirstOccurrence()
		if !interval.Overlaps(first, window) {
			return []interval.Interval{}, nil
		}
		return []interval.Interval{first}, nil
	}

	rule, err := recurrence.Parse(*u.Rule)
	if err != nil {
		return nil, calendar.RecurrenceError(u.ID, err)
	}
	loc, err := localtime.LoadLocation(u.TimeZone)
	if err != nil {
		return nil, calendar.Validationf("unavailability %s: %v", u.ID, err)
	}
	tpl := recurrence.Template{
		Start:    u.StartAt,
		Duration: u.EndAt.Sub(u.StartAt),
		Loc:      loc,
	}
	if u.RecurrenceEnd != nil {
		tpl.End = *u.RecurrenceEnd
	}
	occ, err := recurrence.Expand(rule, tpl, from, to, a.limits)
	if err != nil {
		return nil, calendar.RecurrenceError(u.ID, err)
	}
	return occ, nil
}

// Closures lists exceptions and unavailability occurrences overlapping the window.
// A malformed recurrence rule fails the whole call rather than being ignored.
func (a *Aggregator) Closures(s *Snapshot) ([]Closure, error) {
	var out []Closure
	for _, e := range s.Exceptions {
		out = append(out, Closure{Kind: calendar.KindException, ID: e.ID, Interval: e.Interval()})
	}
	for i := range s.Unavailabilities {
		u := &s.Unavailabilities[i]
		occ, err := a.Occurrences(u, s.Window.Start, s.Window.End)
		if err != nil {
			return nil, err
		}
		for _, iv := range occ {
			out = append(out, Closure{Kind: calendar.KindUnavailability, ID: u.ID, Interval: iv})
		}
	}
	return out, nil
}

// BookingBlocks returns active bookings padded by buffer on both sides.
func (a *Aggregator) BookingBlocks(s *Snapshot, buffer time.Duration) []Closure {
	out := make([]Closure, 0, len(s.Bookings))
	for _, b := range s.Bookings {
		out = append(out, Closure{
			Kind:     calendar.KindBooking,
			ID:       b.ID,
			Interval: b.Interval().Pad(buffer, buffer),
		})
	}
	return out
}

// FreeWindows subtracts closures and padded bookings from the openings.
func (a *Aggregator) FreeWindows(s *Snapshot, buffer time.Duration) ([]interval.Interval, error) {
	closures, err := a.Closures(s)
	if err != nil {
		return nil, err
	}
	exclusions := make([]interval.Interval, 0, len(closures)+len(s.Bookings))
	for _, c := range closures {
		exclusions = append(exclusions, c.Interval)
	}
	for _, c := range a.BookingBlocks(s, buffer) {
		exclusions = append(exclusions, c.Interval)
	}
	return interval.Subtract(a.Openings(s), interval.Merge(exclusions)), nil
}

// CalendarEvents renders every source as tagged entries, sorted by start.
func (a *Aggregator) CalendarEvents(s *Snapshot) ([]calendar.CalendarEvent, error) {
	events := a.TemplateOpenings(s)
	for _, o := range s.Openings {
		events = append(events, calendar.CalendarEvent{
			Kind:     calendar.KindManualOpening,
			SourceID: o.ID,
			Start:    o.StartAt,
			End:      o.EndAt,
		})
	}
	for _, e := range s.Exceptions {
		events = append(events, calendar.CalendarEvent{
			Kind:     calendar.KindException,
			SourceID: e.ID,
			Start:    e.StartAt,
			End:      e.EndAt,
			Reason:   e.Reason,
		})
	}
	for i := range s.Unavailabilities {
		u := &s.Unavailabilities[i]
		occ, err := a.Occurrences(u, s.Window.Start, s.Window.End)
		if err != nil {
			return nil, err
		}
		for _, iv := range occ {
			events = append(events, calendar.CalendarEvent{
				Kind:               calendar.KindUnavailability,
				SourceID:           u.ID,
				Start:              iv.Start,
				End:                iv.End,
				Reason:             u.Reason,
				UnavailabilityType: u.Type,
			})
		}
	}
	for _, b := range s.Bookings {
		if !interval.Overlaps(b.Interval(), s.Window) {
			continue
		}
		serviceID := b.ServiceID
		events = append(events, calendar.CalendarEvent{
			Kind:          calendar.KindBooking,
			SourceID:      b.ID,
			Start:         b.StartAt,
			End:           b.EndAt,
			BookingStatus: b.Status,
			ServiceID:     &serviceID,
		})
	}
	calendar.SortEvents(events)
	return events, nil
}
