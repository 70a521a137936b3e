package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusScheduled:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

type Type string

const (
	TypeInPerson Type = "in-person"
	TypeVideo    Type = "video"
	TypePhone    Type = "phone"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInPerson, TypeVideo, TypePhone:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentRefunded:
		return true
	}
	return false
}

// CanTransition allows pending -> paid and paid -> refunded.
func (p PaymentStatus) CanTransition(to PaymentStatus) bool {
	return (p == PaymentPending && to == PaymentPaid) || (p == PaymentPaid && to == PaymentRefunded)
}

type Appointment struct {
	ID               uuid.UUID     `json:"id"`
	PatientID        uuid.UUID     `json:"patientId"`
	DoctorID         uuid.UUID     `json:"doctorId"`
	AppointmentDate  time.Time     `json:"appointmentDate"`
	DurationMinutes  int           `json:"duration"`
	Status           Status        `json:"status"`
	Type             Type          `json:"type"`
	Reason           string        `json:"reason"`
	Notes            string        `json:"notes"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	PaymentReference *string       `json:"paymentReference,omitempty"`
	ReminderSentAt   *time.Time    `json:"reminderSentAt,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// DoctorRef is what booking needs to know about a doctor.
type DoctorRef struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	IsAcceptingPatients bool
	ConsultationFee     float64
}

type BookingRequest struct {
	// PatientID is only honoured for admins booking on someone's behalf.
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	AppointmentDate time.Time
	Reason          string
	Type            Type
	DurationMinutes int
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Status        *Status        `json:"status"`
	Type          *Type          `json:"type"`
	Reason        *string        `json:"reason"`
	Notes         *string        `json:"notes"`
	PaymentStatus *PaymentStatus `json:"paymentStatus"`
}

func (p Patch) Empty() bool {
	return p.Status == nil && p.Type == nil && p.Reason == nil && p.Notes == nil && p.PaymentStatus == nil
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	Limit     int
	Offset    int
}
