package review

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Review is immutable once created.
type Review struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patientId"`
	DoctorID      uuid.UUID  `json:"doctorId"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	Rating        int        `json:"rating"`
	Comment       string     `json:"comment"`
	PatientName   string     `json:"patientName,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Aggregate is the denormalized rating stored on a doctor.
type Aggregate struct {
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"reviewCount"`
}

// ComputeAggregate derives the aggregate from the full rating set: the mean
// rounded half up to two decimals, or 0 when there are no ratings. The
// rounding is done on integer cents so exact half-cent means round up.
func ComputeAggregate(ratings []int) Aggregate {
	n := len(ratings)
	if n == 0 {
		return Aggregate{}
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	cents := (sum*200 + n) / (2 * n)
	return Aggregate{
		Rating:      float64(cents) / 100,
		ReviewCount: n,
	}
}

// AppointmentRef is the part of an appointment a review is checked against.
type AppointmentRef struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    string
}
