// Package realtime delivers appointment events to connected clients on
// per-user topics. Delivery is best effort with no replay.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventAppointmentCreated   EventType = "APPOINTMENT_CREATED"
	EventAppointmentUpdated   EventType = "APPOINTMENT_UPDATED"
	EventAppointmentCancelled EventType = "APPOINTMENT_CANCELLED"
)

// Event is the wire message pushed to subscribers.
type Event struct {
	Type   EventType       `json:"type"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sentAt"`
}

// NewEvent marshals data into an Event.
func NewEvent(t EventType, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Data: raw, SentAt: time.Now().UTC()}, nil
}

// UserTopic is the channel a user's clients listen on.
func UserTopic(userID uuid.UUID) string {
	return "events:user:" + userID.String()
}

// Subscription is a live topic subscription.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker moves encoded events between publishers and subscribers.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}
