package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/availability"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

// listSlotsHandler serves GET /practitioners/{id}/slots. Every failure still
// answers with an empty slots array next to the error.
func listSlotsHandler(svc AvailabilityService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fail := func(status int, msg string) {
			writeJSON(w, status, SlotsResponse{Slots: []SlotResponse{}, Error: msg})
		}

		q := r.URL.Query()
		pid, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			fail(http.StatusBadRequest, "id must be a valid UUID")
			return
		}
		sid, err := uuid.Parse(q.Get("service_id"))
		if err != nil {
			fail(http.StatusBadRequest, "service_id must be a valid UUID")
			return
		}
		date, err := localtime.ParseDate(q.Get("date"))
		if err != nil {
			fail(http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		query := availability.SlotQuery{
			PractitionerID: pid,
			ServiceID:      sid,
			Date:           date,
			TimeZone:       q.Get("tz"),
		}
		if query.GridStepMinutes, err = optionalInt(q.Get("grid_step")); err != nil {
			fail(http.StatusBadRequest, "grid_step must be an integer")
			return
		}
		if query.MinLeadMinutes, err = optionalInt(q.Get("min_lead")); err != nil {
			fail(http.StatusBadRequest, "min_lead must be an integer")
			return
		}

		res, err := svc.ListSlots(r.Context(), query)
		if err != nil {
			status, _ := statusFor(err)
			msg := err.Error()
			if status == http.StatusInternalServerError {
				logger.Error("list slots failed", "request_id", GetRequestID(r.Context()), "err", err)
				msg = "internal error"
			}
			fail(status, msg)
			return
		}

		writeJSON(w, http.StatusOK, toSlotsResponse(res))
	}
}

func listCalendarHandler(svc AvailabilityService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		q := r.URL.Query()
		from, err := time.Parse(time.RFC3339, q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
			return
		}
		to, err := time.Parse(time.RFC3339, q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
			return
		}

		events, err := svc.ListCalendar(r.Context(), pid, from.UTC(), to.UTC())
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toCalendarResponse(events))
	}
}

func optionalInt(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
