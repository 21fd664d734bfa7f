package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxpoint/vaccine-slot-booking/internal/booking"
)

const dateFormat = "2006-01-02"

type CreateAppointmentRequest struct {
	UserID     string  `json:"user_id"`
	VaccineID  string  `json:"vaccine_id"`
	CenterID   string  `json:"center_id"`
	DateSlotID string  `json:"date_slot_id"`
	Notes      *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	CenterID    uuid.UUID  `json:"center_id"`
	DateSlotID  uuid.UUID  `json:"date_slot_id"`
	TimeSlotID  uuid.UUID  `json:"time_slot_id"`
	VaccineID   uuid.UUID  `json:"vaccine_id"`
	Date        string     `json:"date"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Status      string     `json:"status"`
	Notes       *string    `json:"notes,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	VaccineName  string `json:"vaccine_name"`
	Manufacturer string `json:"manufacturer"`
	CenterName   string `json:"center_name"`
	CenterCity   string `json:"center_city"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		UserID:      a.UserID,
		CenterID:    a.CenterID,
		DateSlotID:  a.DateSlotID,
		TimeSlotID:  a.TimeSlotID,
		VaccineID:   a.VaccineID,
		Date:        a.Date.Format(dateFormat),
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Status:      string(a.Status),
		Notes:       a.Notes,
		CompletedAt: a.CompletedAt,
		CreatedAt:   a.CreatedAt,
	}
}

func toDetailResponse(d *booking.AppointmentDetail) AppointmentDetailResponse {
	return AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
		VaccineName:         d.VaccineName,
		Manufacturer:        d.Manufacturer,
		CenterName:          d.CenterName,
		CenterCity:          d.CenterCity,
	}
}

func toDetailResponses(details []booking.AppointmentDetail) []AppointmentDetailResponse {
	out := make([]AppointmentDetailResponse, 0, len(details))
	for i := range details {
		out = append(out, toDetailResponse(&details[i]))
	}
	return out
}
