package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaxpoint/vaccine-slot-booking/internal/booking"
)

// BookingService is the slice of the booking core the handlers need.
type BookingService interface {
	CreateAppointment(ctx context.Context, userID, vaccineID, centerID, dateSlotID uuid.UUID, notes *string) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetail, error)
	ListAppointmentsForUser(ctx context.Context, userID uuid.UUID) ([]booking.AppointmentDetail, error)
	ListAppointmentsForCenter(ctx context.Context, centerID uuid.UUID, filter booking.CenterAppointmentsFilter) ([]booking.AppointmentDetail, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
}

func createAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a valid UUID")
			return
		}

		vaccineID, err := uuid.Parse(req.VaccineID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_vaccine_id", "vaccine_id must be a valid UUID")
			return
		}

		centerID, err := uuid.Parse(req.CenterID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_center_id", "center_id must be a valid UUID")
			return
		}

		dateSlotID, err := uuid.Parse(req.DateSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_slot_id", "date_slot_id must be a valid UUID")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), userID, vaccineID, centerID, dateSlotID, req.Notes)
		if err != nil {
			recordBookingOutcome(err)
			handleBookingError(w, err)
			return
		}

		recordBookingOutcome(nil)
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

func listUserAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "id must be a valid UUID")
			return
		}

		details, err := svc.ListAppointmentsForUser(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func listCenterAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		centerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_center_id", "id must be a valid UUID")
			return
		}

		var filter booking.CenterAppointmentsFilter

		if v := r.URL.Query().Get("date"); v != "" {
			date, err := time.Parse(dateFormat, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			filter.Date = &date
		}

		if v := r.URL.Query().Get("status"); v != "" {
			status := booking.AppointmentStatus(v)
			switch status {
			case booking.StatusPending, booking.StatusCompleted, booking.StatusNoShow, booking.StatusCancelled:
				filter.Status = &status
			default:
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown appointment status")
				return
			}
		}

		details, err := svc.ListAppointmentsForCenter(r.Context(), centerID, filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func completeAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.CompleteAppointment(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrAppointmentNotFound):
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
			case errors.Is(err, booking.ErrInvalidStatusTransition):
				writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// handleBookingError maps booking-core sentinels to HTTP. SlotFull and
// SlotUnavailable are expected business outcomes, not server faults.
func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, booking.ErrVaccineNotFound):
		writeError(w, http.StatusNotFound, "vaccine_not_found", err.Error())
	case errors.Is(err, booking.ErrCenterNotFound):
		writeError(w, http.StatusNotFound, "center_not_found", err.Error())
	case errors.Is(err, booking.ErrDateSlotNotFound):
		writeError(w, http.StatusNotFound, "date_slot_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrSlotFull):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.Is(err, booking.ErrBookingConflict):
		writeError(w, http.StatusConflict, "booking_conflict", "another booking is in flight for this slot, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
