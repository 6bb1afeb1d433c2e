package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
	"github.com/hackgods/clinic-availability-engine/internal/localtime"
)

func createTemplateHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req TemplateRequest
		if !decode(w, r, &req) {
			return
		}
		start, err := localtime.ParseClock(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "start: "+err.Error())
			return
		}
		end, err := localtime.ParseClock(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "end: "+err.Error())
			return
		}

		tpl := &calendar.WeeklyTemplate{PractitionerID: pid, StartMinute: start, EndMinute: end}
		for _, wd := range req.Weekdays {
			tpl.Weekdays = append(tpl.Weekdays, time.Weekday(wd))
		}
		if err := svc.CreateTemplate(r.Context(), tpl); err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, CreatedResponse{ID: tpl.ID})
	}
}

func createOpeningHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req IntervalRequest
		if !decode(w, r, &req) {
			return
		}
		o := &calendar.Opening{PractitionerID: pid, StartAt: req.StartAt, EndAt: req.EndAt}
		if err := svc.CreateOpening(r.Context(), o); err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, CreatedResponse{ID: o.ID})
	}
}

func updateOpeningHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, id, ok := entryParams(w, r)
		if !ok {
			return
		}
		var req IntervalRequest
		if !decode(w, r, &req) {
			return
		}
		o := &calendar.Opening{ID: id, PractitionerID: pid, StartAt: req.StartAt, EndAt: req.EndAt}
		if err := svc.UpdateOpening(r.Context(), o); err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, CreatedResponse{ID: o.ID})
	}
}

func createExceptionHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req IntervalRequest
		if !decode(w, r, &req) {
			return
		}
		e := &calendar.Exception{PractitionerID: pid, StartAt: req.StartAt, EndAt: req.EndAt, Reason: req.Reason}
		if err := svc.CreateException(r.Context(), e); err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, CreatedResponse{ID: e.ID})
	}
}

func updateExceptionHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, id, ok := entryParams(w, r)
		if !ok {
			return
		}
		var req IntervalRequest
		if !decode(w, r, &req) {
			return
		}
		e := &calendar.Exception{ID: id, PractitionerID: pid, StartAt: req.StartAt, EndAt: req.EndAt, Reason: req.Reason}
		if err := svc.UpdateException(r.Context(), e); err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, CreatedResponse{ID: e.ID})
	}
}

func unavailabilityFrom(pid uuid.UUID, req UnavailabilityRequest) *calendar.Unavailability {
	return &calendar.Unavailability{
		PractitionerID: pid,
		Type:           calendar.UnavailabilityType(req.Type),
		Reason:         req.Reason,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		Rule:           req.Rule,
		RecurrenceEnd:  req.RecurrenceEnd,
		TimeZone:       req.TimeZone,
	}
}

func createUnavailabilityHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req UnavailabilityRequest
		if !decode(w, r, &req) {
			return
		}
		u := unavailabilityFrom(pid, req)
		if err := svc.CreateUnavailability(r.Context(), u); err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, CreatedResponse{ID: u.ID})
	}
}

func updateUnavailabilityHandler(svc BookingService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, id, ok := entryParams(w, r)
		if !ok {
			return
		}
		var req UnavailabilityRequest
		if !decode(w, r, &req) {
			return
		}
		u := unavailabilityFrom(pid, req)
		u.ID = id
		if err := svc.UpdateUnavailability(r.Context(), u); err != nil {
			handleError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, CreatedResponse{ID: u.ID})
	}
}

// deleteHandler serves every DELETE /practitioners/{id}/<entries>/{entryID}.
func deleteHandler(del func(ctx context.Context, practitionerID, id uuid.UUID) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, id, ok := entryParams(w, r)
		if !ok {
			return
		}
		if err := del(r.Context(), pid, id); err != nil {
			handleError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func entryParams(w http.ResponseWriter, r *http.Request) (pid, id uuid.UUID, ok bool) {
	if pid, ok = uuidParam(w, r, "id"); !ok {
		return
	}
	id, ok = uuidParam(w, r, "entryID")
	return
}
