package api

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vaxpoint/vaccine-slot-booking/internal/booking"
)

var bookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vaxpoint",
	Subsystem: "booking",
	Name:      "attempts_total",
	Help:      "Booking attempts by outcome.",
}, []string{"outcome"})

func recordBookingOutcome(err error) {
	bookingsTotal.WithLabelValues(bookingOutcome(err)).Inc()
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, booking.ErrSlotFull):
		return "slot_full"
	case errors.Is(err, booking.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, booking.ErrBookingConflict):
		return "conflict"
	case errors.Is(err, booking.ErrUserNotFound),
		errors.Is(err, booking.ErrVaccineNotFound),
		errors.Is(err, booking.ErrCenterNotFound),
		errors.Is(err, booking.ErrDateSlotNotFound):
		return "not_found"
	default:
		return "error"
	}
}
