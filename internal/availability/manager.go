package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
)

var (
	ErrSlotNotFound    = apperr.Kind("slot", apperr.ErrNotFound)
	ErrSlotOverlap     = fmt.Errorf("slot overlaps an existing slot: %w", apperr.ErrConflict)
	ErrInvalidInterval = apperr.Invalid("slots", "each slot must end after it starts")
)

// Repository is the slot storage the manager reads and writes.
type Repository interface {
	ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error)
	ListByDoctorRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)
	CreateSlots(ctx context.Context, doctorID uuid.UUID, loc *time.Location, ranges []SlotRange) ([]Slot, error)
}

// Manager answers "what can be booked" questions. It holds no state between calls.
type Manager struct {
	repo   Repository
	loc    *time.Location
	logger *slog.Logger
}

func NewManager(repo Repository, loc *time.Location, logger *slog.Logger) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, loc: loc, logger: logger}
}

func (m *Manager) Location() *time.Location {
	return m.loc
}

// ListAvailableSlots returns the doctor's unbooked slots on day, ordered by
// start time. No slots is a normal outcome and yields an empty slice.
func (m *Manager) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	slots, err := m.repo.ListByDoctorDay(ctx, doctorID, DayOf(day, m.loc))
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return FreeSlots(slots), nil
}

// PublishSlots creates unbooked slots for a doctor. Ranges must be well formed
// and may not overlap each other or slots that already exist.
func (m *Manager) PublishSlots(ctx context.Context, doctorID uuid.UUID, ranges []SlotRange) ([]Slot, error) {
	if len(ranges) == 0 {
		return nil, apperr.Invalid("slots", "at least one slot is required")
	}

	candidates := make([]Slot, 0, len(ranges))
	from, to := ranges[0].Start, ranges[0].End
	for _, r := range ranges {
		if !r.End.After(r.Start) {
			return nil, ErrInvalidInterval
		}
		if r.Start.Before(from) {
			from = r.Start
		}
		if r.End.After(to) {
			to = r.End
		}
		candidates = append(candidates, Slot{StartTime: r.Start, EndTime: r.End})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StartTime.Before(candidates[j].StartTime)
	})
	for i := 1; i < len(candidates); i++ {
		if candidates[i-1].Overlaps(candidates[i]) {
			return nil, ErrSlotOverlap
		}
	}

	existing, err := m.repo.ListByDoctorRange(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list existing slots: %w", err)
	}
	for _, c := range candidates {
		for _, e := range existing {
			if c.Overlaps(e) {
				return nil, ErrSlotOverlap
			}
		}
	}

	created, err := m.repo.CreateSlots(ctx, doctorID, m.loc, ranges)
	if err != nil {
		return nil, fmt.Errorf("create slots: %w", err)
	}

	m.logger.Info("slots published", "doctor_id", doctorID, "count", len(created))
	return created, nil
}

// FreeSlots filters to unbooked slots sorted by start time, ties broken by id.
func FreeSlots(slots []Slot) []Slot {
	free := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if !s.IsBooked {
			free = append(free, s)
		}
	}
	sortSlots(free)
	return free
}

// MatchSlot finds the single slot covering t. It fails with
// apperr.ErrSlotUnavailable when no slot or more than one slot covers t,
// when the covering slot is booked, or when t+duration runs past its end.
func MatchSlot(slots []Slot, t time.Time, duration time.Duration) (Slot, error) {
	var covering []Slot
	for _, s := range slots {
		if s.Covers(t) {
			covering = append(covering, s)
		}
	}

	switch {
	case len(covering) == 0:
		return Slot{}, fmt.Errorf("no slot covers %s: %w", t.Format(time.RFC3339), apperr.ErrSlotUnavailable)
	case len(covering) > 1:
		return Slot{}, fmt.Errorf("%d slots cover %s: %w", len(covering), t.Format(time.RFC3339), apperr.ErrSlotUnavailable)
	}

	s := covering[0]
	if s.IsBooked {
		return Slot{}, fmt.Errorf("slot %s is booked: %w", s.ID, apperr.ErrSlotUnavailable)
	}
	if t.Add(duration).After(s.EndTime) {
		return Slot{}, fmt.Errorf("requested duration runs past slot end: %w", apperr.ErrSlotUnavailable)
	}
	return s, nil
}

// IsUnavailable reports whether err is a slot-availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, apperr.ErrSlotUnavailable)
}

func sortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].ID.String() < slots[j].ID.String()
		}
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
}
