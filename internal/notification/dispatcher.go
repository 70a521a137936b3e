// Package notification records persistent per-user notifications and pushes
// ephemeral realtime events to the users an appointment concerns.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/metrics"
	"github.com/hackgods/medibook/internal/realtime"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	publishTimeout = 2 * time.Second
)

type Dispatcher struct {
	repo    Repository
	broker  realtime.Broker
	metrics metrics.Recorder
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher wires a dispatcher. A nil broker disables realtime delivery.
func NewDispatcher(repo Repository, broker realtime.Broker, rec metrics.Recorder, logger *slog.Logger) *Dispatcher {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{repo: repo, broker: broker, metrics: rec, logger: logger}
}

// Notify persists a notification for userID. payload is stored as JSON.
func (d *Dispatcher) Notify(ctx context.Context, userID uuid.UUID, typ, title, message string, payload any) (*Notification, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal notification payload: %w", err)
		}
		data = raw
	}

	n, err := d.repo.Create(ctx, &Notification{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Data:    data,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// NotifyQuietly is Notify for side effects: failures are logged and counted, never returned.
func (d *Dispatcher) NotifyQuietly(ctx context.Context, userID uuid.UUID, typ, title, message string, payload any) {
	if _, err := d.Notify(ctx, userID, typ, title, message, payload); err != nil {
		d.metrics.NotificationFailed("persistent")
		d.logger.Error("notification not recorded",
			"user_id", userID,
			"type", typ,
			"error", err,
		)
	}
}

// Broadcast publishes an event to the topics of the given users. It returns
// immediately; delivery happens in the background and failures are only logged.
func (d *Dispatcher) Broadcast(ctx context.Context, t realtime.EventType, data any, userIDs ...uuid.UUID) {
	if d.broker == nil || len(userIDs) == 0 {
		return
	}

	ev, err := realtime.NewEvent(t, data)
	if err != nil {
		d.logger.Error("encode realtime event", "type", t, "error", err)
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("encode realtime event", "type", t, "error", err)
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	topics := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		topics = append(topics, realtime.UserTopic(id))
	}

	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		pubCtx, cancel := context.WithTimeout(bg, publishTimeout)
		defer cancel()

		for _, topic := range topics {
			if err := d.broker.Publish(pubCtx, topic, payload); err != nil {
				d.metrics.NotificationFailed("realtime")
				d.logger.Warn("realtime publish failed",
					"topic", topic,
					"type", t,
					"error", err,
				)
			}
		}
	}()
}

// Wait blocks until in-flight broadcasts finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	items, err := d.repo.ListByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

// MarkRead flips the read flag. Notifications of other users look missing.
func (d *Dispatcher) MarkRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error) {
	n, err := d.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}
