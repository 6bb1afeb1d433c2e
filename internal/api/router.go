package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/clinic-availability-engine/internal/availability"
	"github.com/hackgods/clinic-availability-engine/internal/booking"
	"github.com/hackgods/clinic-availability-engine/internal/calendar"
)

type AvailabilityService interface {
	ListSlots(ctx context.Context, q availability.SlotQuery) (*availability.SlotResult, error)
	ListCalendar(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]calendar.CalendarEvent, error)
}

type BookingService interface {
	CreateBooking(ctx context.Context, in booking.CreateBookingInput) (*calendar.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*calendar.Booking, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to calendar.BookingStatus) (*calendar.Booking, error)

	CreateTemplate(ctx context.Context, t *calendar.WeeklyTemplate) error
	DeleteTemplate(ctx context.Context, practitionerID, id uuid.UUID) error
	CreateOpening(ctx context.Context, o *calendar.Opening) error
	UpdateOpening(ctx context.Context, o *calendar.Opening) error
	DeleteOpening(ctx context.Context, practitionerID, id uuid.UUID) error
	CreateException(ctx context.Context, e *calendar.Exception) error
	UpdateException(ctx context.Context, e *calendar.Exception) error
	DeleteException(ctx context.Context, practitionerID, id uuid.UUID) error
	CreateUnavailability(ctx context.Context, u *calendar.Unavailability) error
	UpdateUnavailability(ctx context.Context, u *calendar.Unavailability) error
	DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error
}

type RouterConfig struct {
	Availability AvailabilityService
	Bookings     BookingService
	Health       HealthChecks
	Logger       *slog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Health, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/practitioners/{id}", func(r chi.Router) {
		r.Get("/slots", listSlotsHandler(cfg.Availability, logger))
		r.Get("/calendar", listCalendarHandler(cfg.Availability, logger))

		r.Post("/templates", createTemplateHandler(cfg.Bookings, logger))
		r.Delete("/templates/{entryID}", deleteHandler(cfg.Bookings.DeleteTemplate, logger))

		r.Post("/openings", createOpeningHandler(cfg.Bookings, logger))
		r.Put("/openings/{entryID}", updateOpeningHandler(cfg.Bookings, logger))
		r.Delete("/openings/{entryID}", deleteHandler(cfg.Bookings.DeleteOpening, logger))

		r.Post("/exceptions", createExceptionHandler(cfg.Bookings, logger))
		r.Put("/exceptions/{entryID}", updateExceptionHandler(cfg.Bookings, logger))
		r.Delete("/exceptions/{entryID}", deleteHandler(cfg.Bookings.DeleteException, logger))

		r.Post("/unavailabilities", createUnavailabilityHandler(cfg.Bookings, logger))
		r.Put("/unavailabilities/{entryID}", updateUnavailabilityHandler(cfg.Bookings, logger))
		r.Delete("/unavailabilities/{entryID}", deleteHandler(cfg.Bookings.DeleteUnavailability, logger))
	})

	// Booking endpoints
	r.Post("/bookings", createBookingHandler(cfg.Bookings, logger))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Bookings, logger))
	r.Post("/bookings/{id}/status", transitionStatusHandler(cfg.Bookings, logger))

	return otelhttp.NewHandler(r, "clinic-api")
}
