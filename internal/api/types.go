package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/appointment"
	"github.com/hackgods/medibook/internal/availability"
)

type CreateAppointmentRequest struct {
	PatientID       uuid.UUID        `json:"patientId"`
	DoctorID        uuid.UUID        `json:"doctorId"`
	AppointmentDate time.Time        `json:"appointmentDate"`
	Reason          string           `json:"reason"`
	Type            appointment.Type `json:"type"`
	Duration        int              `json:"duration"`
}

func (r CreateAppointmentRequest) booking() appointment.BookingRequest {
	return appointment.BookingRequest{
		PatientID:       r.PatientID,
		DoctorID:        r.DoctorID,
		AppointmentDate: r.AppointmentDate,
		Reason:          r.Reason,
		Type:            r.Type,
		DurationMinutes: r.Duration,
	}
}

type CreateReviewRequest struct {
	DoctorID      uuid.UUID  `json:"doctorId"`
	AppointmentID *uuid.UUID `json:"appointmentId"`
	Rating        int        `json:"rating"`
	Comment       string     `json:"comment"`
}

type PublishSlotsRequest struct {
	Slots []availability.SlotRange `json:"slots"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listOf[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

type WebhookResponse struct {
	Received    bool                     `json:"received"`
	Applied     bool                     `json:"applied"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
}
