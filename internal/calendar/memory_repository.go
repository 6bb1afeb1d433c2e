package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/interval"
)

// MemoryStore keeps the calendar in process. Transactions run one at a time on a
// copy of the state that replaces the original only on success, which gives the
// same all-or-nothing and per-practitioner serialisation guarantees as PgStore.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), now: time.Now}
}

type memState struct {
	practitioners    map[uuid.UUID]Practitioner
	services         map[uuid.UUID]Service
	links            map[ServiceLink]bool
	templates        map[uuid.UUID]WeeklyTemplate
	openings         map[uuid.UUID]Opening
	exceptions       map[uuid.UUID]Exception
	unavailabilities map[uuid.UUID]Unavailability
	bookings         map[uuid.UUID]Booking
	events           []EventLog
}

func newMemState() *memState {
	return &memState{
		practitioners:    map[uuid.UUID]Practitioner{},
		services:         map[uuid.UUID]Service{},
		links:            map[ServiceLink]bool{},
		templates:        map[uuid.UUID]WeeklyTemplate{},
		openings:         map[uuid.UUID]Opening{},
		exceptions:       map[uuid.UUID]Exception{},
		unavailabilities: map[uuid.UUID]Unavailability{},
		bookings:         map[uuid.UUID]Booking{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		practitioners:    cloneMap(s.practitioners),
		services:         cloneMap(s.services),
		links:            cloneMap(s.links),
		templates:        cloneMap(s.templates),
		openings:         cloneMap(s.openings),
		exceptions:       cloneMap(s.exceptions),
		unavailabilities: cloneMap(s.unavailabilities),
		bookings:         cloneMap(s.bookings),
		events:           append([]EventLog(nil), s.events...),
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&memTx{memReader: memReader{state: work}, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) reader() memReader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memReader{state: s.state}
}

// Events returns the event log in insertion order.
func (s *MemoryStore) Events() []EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventLog(nil), s.state.events...)
}

func (s *MemoryStore) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	r := s.reader()
	return r.GetPractitioner(ctx, id)
}

func (s *MemoryStore) GetLinkedService(ctx context.Context, practitionerID, serviceID uuid.UUID) (*Service, error) {
	r := s.reader()
	return r.GetLinkedService(ctx, practitionerID, serviceID)
}

func (s *MemoryStore) ListWeeklyTemplates(ctx context.Context, practitionerID uuid.UUID) ([]WeeklyTemplate, error) {
	r := s.reader()
	return r.ListWeeklyTemplates(ctx, practitionerID)
}

func (s *MemoryStore) ListOpenings(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Opening, error) {
	r := s.reader()
	return r.ListOpenings(ctx, practitionerID, from, to)
}

func (s *MemoryStore) ListExceptions(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Exception, error) {
	r := s.reader()
	return r.ListExceptions(ctx, practitionerID, from, to)
}

func (s *MemoryStore) ListUnavailabilities(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Unavailability, error) {
	r := s.reader()
	return r.ListUnavailabilities(ctx, practitionerID, from, to)
}

func (s *MemoryStore) ListActiveBookings(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Booking, error) {
	r := s.reader()
	return r.ListActiveBookings(ctx, practitionerID, from, to)
}

func (s *MemoryStore) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

// memReader reads a state snapshot. Committed states are never mutated, so a
// reader obtained under the lock stays consistent after it is released.
type memReader struct {
	state *memState
}

func (r memReader) GetPractitioner(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	p, ok := r.state.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return &p, nil
}

func (r memReader) GetLinkedService(_ context.Context, practitionerID, serviceID uuid.UUID) (*Service, error) {
	if !r.state.links[ServiceLink{PractitionerID: practitionerID, ServiceID: serviceID, Active: true}] {
		return nil, ErrServiceNotLinked
	}
	svc, ok := r.state.services[serviceID]
	if !ok {
		return nil, ErrServiceNotLinked
	}
	return &svc, nil
}

func (r memReader) ListWeeklyTemplates(_ context.Context, practitionerID uuid.UUID) ([]WeeklyTemplate, error) {
	out := []WeeklyTemplate{}
	for _, t := range r.state.templates {
		if t.PractitionerID == practitionerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartMinute != out[j].StartMinute {
			return out[i].StartMinute < out[j].StartMinute
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func inRange(start, end, from, to time.Time) bool {
	return interval.Overlaps(interval.New(start, end), interval.New(from, to))
}

func sortByStart[T any](xs []T, start func(T) time.Time, id func(T) uuid.UUID) {
	sort.Slice(xs, func(i, j int) bool {
		si, sj := start(xs[i]), start(xs[j])
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return id(xs[i]).String() < id(xs[j]).String()
	})
}

func (r memReader) ListOpenings(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Opening, error) {
	out := []Opening{}
	for _, o := range r.state.openings {
		if o.PractitionerID == practitionerID && inRange(o.StartAt, o.EndAt, from, to) {
			out = append(out, o)
		}
	}
	sortByStart(out, func(o Opening) time.Time { return o.StartAt }, func(o Opening) uuid.UUID { return o.ID })
	return out, nil
}

func (r memReader) ListExceptions(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Exception, error) {
	out := []Exception{}
	for _, e := range r.state.exceptions {
		if e.PractitionerID == practitionerID && inRange(e.StartAt, e.EndAt, from, to) {
			out = append(out, e)
		}
	}
	sortByStart(out, func(e Exception) time.Time { return e.StartAt }, func(e Exception) uuid.UUID { return e.ID })
	return out, nil
}

func (r memReader) ListUnavailabilities(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Unavailability, error) {
	out := []Unavailability{}
	for _, u := range r.state.unavailabilities {
		if u.PractitionerID != practitionerID || !u.StartAt.Before(to) {
			continue
		}
		reaches := u.EndAt.After(from)
		if u.Rule != nil {
			reaches = u.RecurrenceEnd == nil || u.RecurrenceEnd.Add(u.EndAt.Sub(u.StartAt)).After(from)
		}
		if reaches {
			out = append(out, u)
		}
	}
	sortByStart(out, func(u Unavailability) time.Time { return u.StartAt }, func(u Unavailability) uuid.UUID { return u.ID })
	return out, nil
}

func (r memReader) ListActiveBookings(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Booking, error) {
	out := []Booking{}
	for _, b := range r.state.bookings {
		if b.PractitionerID == practitionerID && b.Status.Active() && inRange(b.StartAt, b.EndAt, from, to) {
			out = append(out, b)
		}
	}
	sortByStart(out, func(b Booking) time.Time { return b.StartAt }, func(b Booking) uuid.UUID { return b.ID })
	return out, nil
}

type memTx struct {
	memReader
	now func() time.Time
}

func (t *memTx) LockPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return t.GetPractitioner(ctx, id)
}

func (t *memTx) stamp(created, updated *time.Time) {
	now := t.now().UTC()
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

func (t *memTx) InsertPractitioner(_ context.Context, p *Practitioner) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	t.stamp(&p.CreatedAt, &p.UpdatedAt)
	t.state.practitioners[p.ID] = *p
	return nil
}

func (t *memTx) InsertService(_ context.Context, s *Service) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	t.stamp(&s.CreatedAt, &s.UpdatedAt)
	t.state.services[s.ID] = *s
	return nil
}

func (t *memTx) LinkService(_ context.Context, link ServiceLink) error {
	active := link
	active.Active = true
	inactive := link
	inactive.Active = false
	delete(t.state.links, active)
	delete(t.state.links, inactive)
	if link.Active {
		t.state.links[active] = true
	}
	return nil
}

func (t *memTx) InsertTemplate(_ context.Context, tpl *WeeklyTemplate) error {
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	t.stamp(&tpl.CreatedAt, nil)
	t.state.templates[tpl.ID] = *tpl
	return nil
}

func (t *memTx) DeleteTemplate(_ context.Context, practitionerID, id uuid.UUID) error {
	tpl, ok := t.state.templates[id]
	if !ok || tpl.PractitionerID != practitionerID {
		return ErrTemplateNotFound
	}
	delete(t.state.templates, id)
	return nil
}

func (t *memTx) GetOpening(_ context.Context, practitionerID, id uuid.UUID) (*Opening, error) {
	o, ok := t.state.openings[id]
	if !ok || o.PractitionerID != practitionerID {
		return nil, ErrOpeningNotFound
	}
	return &o, nil
}

func (t *memTx) checkOpeningOverlap(o *Opening) error {
	for _, other := range t.state.openings {
		if other.ID == o.ID || other.PractitionerID != o.PractitionerID {
			continue
		}
		if interval.Overlaps(other.Interval(), o.Interval()) {
			return &ConflictError{Reason: "overlaps another opening", With: "opening"}
		}
	}
	return nil
}

func (t *memTx) InsertOpening(_ context.Context, o *Opening) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if err := t.checkOpeningOverlap(o); err != nil {
		return err
	}
	t.stamp(&o.CreatedAt, &o.UpdatedAt)
	t.state.openings[o.ID] = *o
	return nil
}

func (t *memTx) UpdateOpening(ctx context.Context, o *Opening) error {
	old, err := t.GetOpening(ctx, o.PractitionerID, o.ID)
	if err != nil {
		return err
	}
	if err := t.checkOpeningOverlap(o); err != nil {
		return err
	}
	o.CreatedAt = old.CreatedAt
	t.stamp(nil, &o.UpdatedAt)
	t.state.openings[o.ID] = *o
	return nil
}

func (t *memTx) DeleteOpening(ctx context.Context, practitionerID, id uuid.UUID) error {
	if _, err := t.GetOpening(ctx, practitionerID, id); err != nil {
		return err
	}
	delete(t.state.openings, id)
	return nil
}

func (t *memTx) GetException(_ context.Context, practitionerID, id uuid.UUID) (*Exception, error) {
	e, ok := t.state.exceptions[id]
	if !ok || e.PractitionerID != practitionerID {
		return nil, ErrExceptionNotFound
	}
	return &e, nil
}

func (t *memTx) InsertException(_ context.Context, e *Exception) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	t.stamp(&e.CreatedAt, &e.UpdatedAt)
	t.state.exceptions[e.ID] = *e
	return nil
}

func (t *memTx) UpdateException(ctx context.Context, e *Exception) error {
	old, err := t.GetException(ctx, e.PractitionerID, e.ID)
	if err != nil {
		return err
	}
	e.CreatedAt = old.CreatedAt
	t.stamp(nil, &e.UpdatedAt)
	t.state.exceptions[e.ID] = *e
	return nil
}

func (t *memTx) DeleteException(ctx context.Context, practitionerID, id uuid.UUID) error {
	if _, err := t.GetException(ctx, practitionerID, id); err != nil {
		return err
	}
	delete(t.state.exceptions, id)
	return nil
}

func (t *memTx) GetUnavailability(_ context.Context, practitionerID, id uuid.UUID) (*Unavailability, error) {
	u, ok := t.state.unavailabilities[id]
	if !ok || u.PractitionerID != practitionerID {
		return nil, ErrUnavailabilityNotFound
	}
	return &u, nil
}

func (t *memTx) InsertUnavailability(_ context.Context, u *Unavailability) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	t.stamp(&u.CreatedAt, &u.UpdatedAt)
	t.state.unavailabilities[u.ID] = *u
	return nil
}

func (t *memTx) UpdateUnavailability(ctx context.Context, u *Unavailability) error {
	old, err := t.GetUnavailability(ctx, u.PractitionerID, u.ID)
	if err != nil {
		return err
	}
	u.CreatedAt = old.CreatedAt
	t.stamp(nil, &u.UpdatedAt)
	t.state.unavailabilities[u.ID] = *u
	return nil
}

func (t *memTx) DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error {
	if _, err := t.GetUnavailability(ctx, practitionerID, id); err != nil {
		return err
	}
	delete(t.state.unavailabilities, id)
	return nil
}

func (t *memTx) InsertBooking(_ context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status.Active() {
		for _, other := range t.state.bookings {
			if other.PractitionerID == b.PractitionerID && other.Status.Active() &&
				interval.Overlaps(other.Interval(), b.Interval()) {
				return &ConflictError{Reason: "overlaps an existing booking", With: "booking", ID: other.ID}
			}
		}
	}
	t.stamp(&b.CreatedAt, &b.UpdatedAt)
	t.state.bookings[b.ID] = *b
	return nil
}

func (t *memTx) GetBookingForUpdate(_ context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := t.state.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (t *memTx) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	b, ok := t.state.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	t.stamp(nil, &b.UpdatedAt)
	t.state.bookings[id] = b
	return &b, nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	ev.ID = int64(len(t.state.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.now().UTC()
	}
	t.state.events = append(t.state.events, ev)
	return nil
}
