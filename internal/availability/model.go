package availability

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSlotLength is the granularity slots are published at.
const DefaultSlotLength = 30 * time.Minute

// Slot is the atomic bookable unit of a doctor's time. A booked slot always
// references a live appointment and a free slot references none.
type Slot struct {
	ID            uuid.UUID  `json:"id"`
	DoctorID      uuid.UUID  `json:"doctorId"`
	Date          time.Time  `json:"date"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       time.Time  `json:"endTime"`
	IsBooked      bool       `json:"isBooked"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Covers reports whether t falls in the half-open interval [StartTime, EndTime).
func (s Slot) Covers(t time.Time) bool {
	return !t.Before(s.StartTime) && t.Before(s.EndTime)
}

// Overlaps reports whether two slots share any instant.
func (s Slot) Overlaps(o Slot) bool {
	return s.StartTime.Before(o.EndTime) && o.StartTime.Before(s.EndTime)
}

// SlotRange is a requested [Start, End) interval to publish as a slot.
type SlotRange struct {
	Start time.Time `json:"startTime"`
	End   time.Time `json:"endTime"`
}
