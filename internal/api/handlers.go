package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/booking"
	"github.com/hackgods/clinic-availability-engine/internal/calendar"
)

func createBookingHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if !decode(w, r, &req) {
			return
		}

		in := booking.CreateBookingInput{
			PractitionerID: uuid.MustParse(req.PractitionerID),
			ServiceID:      uuid.MustParse(req.ServiceID),
			Start:          req.Start,
			GuestName:      req.GuestName,
			GuestEmail:     req.GuestEmail,
			GuestPhone:     req.GuestPhone,
			Note:           req.Note,
			Origin:         calendar.Origin(req.Origin),
		}
		if req.ClientID != nil {
			id := uuid.MustParse(*req.ClientID)
			in.ClientID = &id
		}

		b, err := svc.CreateBooking(r.Context(), in)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(b))
	}
}

func getBookingHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		b, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func transitionStatusHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req TransitionStatusRequest
		if !decode(w, r, &req) {
			return
		}

		b, err := svc.TransitionStatus(r.Context(), id, calendar.BookingStatus(req.Status))
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}
