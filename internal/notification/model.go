package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeAppointmentBooking   = "appointment_booking"
	TypeAppointmentCancelled = "appointment_cancelled"
	TypeAppointmentUpdated   = "appointment_updated"
	TypeAppointmentReminder  = "appointment_reminder"
	TypePaymentReceived      = "payment_received"
)

// Notification is a persistent message for one user. Only IsRead changes after creation.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"userId"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"isRead"`
	CreatedAt time.Time       `json:"createdAt"`
}
