package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/availability"
)

var (
	ErrAppointmentNotFound = apperr.Kind("appointment", apperr.ErrNotFound)
	ErrDoctorNotFound      = apperr.Kind("doctor", apperr.ErrNotFound)

	// ErrStatusChanged means a conditional update lost a race with another writer.
	ErrStatusChanged = fmt.Errorf("appointment changed concurrently: %w", apperr.ErrConflict)
	ErrSlotTaken     = fmt.Errorf("slot already booked: %w", apperr.ErrSlotUnavailable)
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorRef(ctx context.Context, doctorID uuid.UUID) (*DoctorRef, error)
	GetDoctorRefByUserID(ctx context.Context, userID uuid.UUID) (*DoctorRef, error)

	// ListDoctorSlots returns every slot of the doctor on day, booked or not.
	ListDoctorSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]availability.Slot, error)

	// BookSlot inserts appt and binds it to the slot atomically. It fails with
	// ErrSlotTaken when the slot is booked by the time the row lock is held.
	BookSlot(ctx context.Context, slotID uuid.UUID, appt *Appointment) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]Appointment, error)

	// Cancel moves the appointment from `from` to cancelled and frees its slot
	// in one transaction. released is false when no slot referenced it.
	Cancel(ctx context.Context, id uuid.UUID, from Status) (appt *Appointment, released bool, err error)

	// Update applies p if the appointment is still in status `from`.
	Update(ctx context.Context, id uuid.UUID, from Status, p Patch) (*Appointment, error)

	// UpdatePaymentStatus changes only payment columns, guarded on `from`.
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus, reference *string) (*Appointment, error)
	SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) (*Appointment, error)

	// Reminder worker
	FindDueReminders(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}
