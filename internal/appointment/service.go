// Package appointment books doctor slots for patients and drives the
// appointment lifecycle. Slot and appointment rows always change together.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/auth"
	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/config"
	"github.com/hackgods/medibook/internal/metrics"
	"github.com/hackgods/medibook/internal/notification"
	"github.com/hackgods/medibook/internal/realtime"
	redisclient "github.com/hackgods/medibook/internal/redis"
	"github.com/hackgods/medibook/internal/user"
)

const (
	DefaultDurationMinutes = 30
	MaxDurationMinutes     = 240
	MaxReasonLength        = 1000
	DefaultListLimit       = 20
	MaxListLimit           = 100

	reminderBatchSize = 100
)

var (
	ErrSlotBeingBooked          = fmt.Errorf("slot is currently being booked: %w", apperr.ErrSlotUnavailable)
	ErrDoctorNotAccepting       = fmt.Errorf("doctor is not accepting new patients: %w", apperr.ErrConflict)
	ErrInvalidStatusTransition  = fmt.Errorf("invalid status transition: %w", apperr.ErrConflict)
	ErrInvalidPaymentTransition = fmt.Errorf("invalid payment status transition: %w", apperr.ErrConflict)
	ErrNotParticipant           = fmt.Errorf("not a participant of this appointment: %w", apperr.ErrForbidden)
	ErrBookingRole              = fmt.Errorf("only patients can book appointments: %w", apperr.ErrForbidden)
)

// Notifier receives lifecycle side effects. Implementations must not fail
// the caller: errors are theirs to log.
type Notifier interface {
	NotifyQuietly(ctx context.Context, userID uuid.UUID, typ, title, message string, payload any)
	Broadcast(ctx context.Context, t realtime.EventType, data any, userIDs ...uuid.UUID)
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	metrics  metrics.Recorder
	cfg      config.Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, rec metrics.Recorder, cfg config.Config, logger *slog.Logger) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClinicTimezone == nil {
		cfg.ClinicTimezone = time.UTC
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		metrics:  rec,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Book reserves the slot covering req.AppointmentDate for the caller.
// Slots are always re-read here; a slot list the client saw earlier may be
// stale. Exactly one of any number of concurrent requests for the same slot
// succeeds, the rest fail with apperr.ErrSlotUnavailable.
func (s *Service) Book(ctx context.Context, caller auth.Identity, req BookingRequest) (*Appointment, error) {
	switch caller.Role {
	case user.RolePatient:
		req.PatientID = caller.UserID
	case user.RoleAdmin:
		if req.PatientID == uuid.Nil {
			req.PatientID = caller.UserID
		}
	default:
		return nil, ErrBookingRole
	}

	if err := s.validateBooking(&req); err != nil {
		s.metrics.BookingRejected("invalid")
		return nil, err
	}

	doctor, err := s.repo.GetDoctorRef(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsAcceptingPatients {
		s.metrics.BookingRejected("not_accepting")
		return nil, ErrDoctorNotAccepting
	}

	day := availability.DayOf(req.AppointmentDate, s.cfg.ClinicTimezone)
	slots, err := s.repo.ListDoctorSlots(ctx, doctor.ID, day)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	slot, err := availability.MatchSlot(slots, req.AppointmentDate, duration)
	if err != nil {
		s.metrics.BookingRejected("unavailable")
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, slot.ID, func(lockCtx context.Context) error {
		appt, err := s.repo.BookSlot(lockCtx, slot.ID, &Appointment{
			PatientID:       req.PatientID,
			DoctorID:        doctor.ID,
			AppointmentDate: req.AppointmentDate,
			DurationMinutes: req.DurationMinutes,
			Type:            req.Type,
			Reason:          req.Reason,
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			s.metrics.BookingRejected("contended")
			return nil, ErrSlotBeingBooked
		case errors.Is(err, apperr.ErrSlotUnavailable):
			s.metrics.BookingRejected("unavailable")
			return nil, err
		}
		return nil, fmt.Errorf("book slot: %w", err)
	}

	s.metrics.BookingSucceeded()
	s.logger.Info("appointment booked",
		"appointment_id", created.ID,
		"slot_id", slot.ID,
		"doctor_id", doctor.ID,
		"patient_id", created.PatientID,
	)

	s.notifier.NotifyQuietly(ctx, doctor.UserID, notification.TypeAppointmentBooking,
		"New appointment",
		fmt.Sprintf("New %s appointment on %s", created.Type, s.formatTime(created.AppointmentDate)),
		map[string]string{"appointmentId": created.ID.String()},
	)
	s.notifier.Broadcast(ctx, realtime.EventAppointmentCreated, created, created.PatientID, doctor.UserID)

	return created, nil
}

func (s *Service) validateBooking(req *BookingRequest) error {
	v := apperr.NewValidationError()

	if req.DoctorID == uuid.Nil {
		v.Add("doctorId", "is required")
	}
	if req.AppointmentDate.IsZero() {
		v.Add("appointmentDate", "is required")
	} else if req.AppointmentDate.Before(s.now()) {
		v.Add("appointmentDate", "must be in the future")
	}

	if req.DurationMinutes == 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > MaxDurationMinutes {
		v.Add("duration", fmt.Sprintf("must be between 1 and %d minutes", MaxDurationMinutes))
	}

	if req.Type == "" {
		req.Type = TypeInPerson
	}
	if !req.Type.Valid() {
		v.Add("type", "must be one of in-person, video, phone")
	}

	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) > MaxReasonLength {
		v.Add("reason", fmt.Sprintf("must be at most %d characters", MaxReasonLength))
	}

	return v.Err()
}

// Cancel moves the appointment to cancelled and frees its slot. Cancelling an
// already cancelled appointment returns it unchanged.
func (s *Service) Cancel(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	appt, doctor, err := s.loadForCaller(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, caller, appt, doctor)
}

func (s *Service) cancel(ctx context.Context, caller auth.Identity, appt *Appointment, doctor *DoctorRef) (*Appointment, error) {
	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if !appt.Status.CanTransition(StatusCancelled) {
		return nil, ErrInvalidStatusTransition
	}

	cancelled, released, err := s.repo.Cancel(ctx, appt.ID, appt.Status)
	if err != nil {
		if !errors.Is(err, ErrStatusChanged) {
			return nil, fmt.Errorf("cancel appointment: %w", err)
		}
		// lost a race; fine if the winner also cancelled
		current, getErr := s.repo.GetByID(ctx, appt.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == StatusCancelled {
			return current, nil
		}
		return nil, ErrStatusChanged
	}

	if !released {
		s.logger.Warn("cancelled appointment had no bound slot",
			"appointment_id", appt.ID,
			"doctor_id", appt.DoctorID,
		)
	}

	s.metrics.AppointmentCancelled()
	s.logger.Info("appointment cancelled",
		"appointment_id", appt.ID,
		"by", caller.UserID,
		"slot_released", released,
	)

	msg := fmt.Sprintf("Appointment on %s was cancelled", s.formatTime(cancelled.AppointmentDate))
	payload := map[string]string{"appointmentId": cancelled.ID.String()}
	for _, uid := range counterparts(caller.UserID, cancelled.PatientID, doctor.UserID) {
		s.notifier.NotifyQuietly(ctx, uid, notification.TypeAppointmentCancelled, "Appointment cancelled", msg, payload)
	}
	s.notifier.Broadcast(ctx, realtime.EventAppointmentCancelled, cancelled, cancelled.PatientID, doctor.UserID)

	return cancelled, nil
}

// Update applies a partial update. Status changes follow the state machine;
// confirming and completing are for the doctor or an admin, and only admins
// may touch the payment status here. Cancelling through Update behaves like Cancel.
func (s *Service) Update(ctx context.Context, caller auth.Identity, id uuid.UUID, p Patch) (*Appointment, error) {
	if err := validatePatch(p); err != nil {
		return nil, err
	}

	appt, doctor, err := s.loadForCaller(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if p.Status != nil && *p.Status == StatusCancelled {
		if p.Type != nil || p.Reason != nil || p.Notes != nil || p.PaymentStatus != nil {
			return nil, apperr.Invalid("status", "cancellation cannot be combined with other changes")
		}
		return s.cancel(ctx, caller, appt, doctor)
	}

	isDoctor := caller.UserID == doctor.UserID
	if p.Status != nil {
		if *p.Status == appt.Status {
			p.Status = nil
		} else {
			if !caller.IsAdmin() && !isDoctor {
				return nil, fmt.Errorf("only the doctor can change the status: %w", apperr.ErrForbidden)
			}
			if !appt.Status.CanTransition(*p.Status) {
				return nil, ErrInvalidStatusTransition
			}
		}
	}

	if (p.Type != nil || p.Reason != nil || p.Notes != nil) && appt.Status.Terminal() {
		return nil, fmt.Errorf("appointment is %s: %w", appt.Status, apperr.ErrConflict)
	}

	if p.PaymentStatus != nil {
		if !caller.IsAdmin() {
			return nil, fmt.Errorf("payment status is managed by the payment provider: %w", apperr.ErrForbidden)
		}
		if *p.PaymentStatus == appt.PaymentStatus {
			p.PaymentStatus = nil
		} else if !appt.PaymentStatus.CanTransition(*p.PaymentStatus) {
			return nil, ErrInvalidPaymentTransition
		}
	}

	if p.Empty() {
		return appt, nil
	}

	updated, err := s.repo.Update(ctx, id, appt.Status, p)
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	if p.PaymentStatus != nil {
		s.metrics.PaymentStatusChanged(string(*p.PaymentStatus))
	}
	s.logger.Info("appointment updated",
		"appointment_id", id,
		"by", caller.UserID,
		"status", updated.Status,
	)

	msg := fmt.Sprintf("Appointment on %s is now %s", s.formatTime(updated.AppointmentDate), updated.Status)
	for _, uid := range counterparts(caller.UserID, updated.PatientID, doctor.UserID) {
		s.notifier.NotifyQuietly(ctx, uid, notification.TypeAppointmentUpdated, "Appointment updated", msg,
			map[string]string{"appointmentId": updated.ID.String()})
	}
	s.notifier.Broadcast(ctx, realtime.EventAppointmentUpdated, updated, updated.PatientID, doctor.UserID)

	return updated, nil
}

func validatePatch(p Patch) error {
	if p.Empty() {
		return apperr.Invalid("body", "no fields to update")
	}
	v := apperr.NewValidationError()
	if p.Status != nil && !p.Status.Valid() {
		v.Add("status", "must be one of scheduled, confirmed, completed, cancelled")
	}
	if p.Type != nil && !p.Type.Valid() {
		v.Add("type", "must be one of in-person, video, phone")
	}
	if p.PaymentStatus != nil && !p.PaymentStatus.Valid() {
		v.Add("paymentStatus", "must be one of pending, paid, refunded")
	}
	if p.Reason != nil && len(*p.Reason) > MaxReasonLength {
		v.Add("reason", fmt.Sprintf("must be at most %d characters", MaxReasonLength))
	}
	return v.Err()
}

// UpdatePaymentStatus applies a payment provider signal. It never touches
// the appointment status or its slot. Repeating the current status is a no-op.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, to PaymentStatus, reference *string) (*Appointment, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("status", "must be one of pending, paid, refunded")
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PaymentStatus == to {
		return appt, nil
	}
	if !appt.PaymentStatus.CanTransition(to) {
		return nil, ErrInvalidPaymentTransition
	}

	updated, err := s.repo.UpdatePaymentStatus(ctx, id, appt.PaymentStatus, to, reference)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			// duplicate deliveries race each other; the first one won
			current, getErr := s.repo.GetByID(ctx, id)
			if getErr == nil && current.PaymentStatus == to {
				return current, nil
			}
		}
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	s.metrics.PaymentStatusChanged(string(to))
	s.logger.Info("payment status changed",
		"appointment_id", id,
		"from", appt.PaymentStatus,
		"to", to,
	)

	doctor, err := s.repo.GetDoctorRef(ctx, updated.DoctorID)
	if err != nil {
		s.logger.Warn("payment notification skipped", "appointment_id", id, "error", err)
		return updated, nil
	}
	if to == PaymentPaid {
		s.notifier.NotifyQuietly(ctx, doctor.UserID, notification.TypePaymentReceived, "Payment received",
			fmt.Sprintf("Payment received for the appointment on %s", s.formatTime(updated.AppointmentDate)),
			map[string]string{"appointmentId": updated.ID.String()})
	}
	s.notifier.Broadcast(ctx, realtime.EventAppointmentUpdated, updated, updated.PatientID, doctor.UserID)

	return updated, nil
}

// SetPaymentReference stores the provider's payment handle.
func (s *Service) SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) (*Appointment, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, apperr.Invalid("reference", "is required")
	}
	return s.repo.SetPaymentReference(ctx, id, reference)
}

// Get returns the appointment if the caller takes part in it or is an admin.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	appt, _, err := s.loadForCaller(ctx, caller, id)
	return appt, err
}

// GetWithDoctor is Get plus the doctor reference, for payment flows.
func (s *Service) GetWithDoctor(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, *DoctorRef, error) {
	return s.loadForCaller(ctx, caller, id)
}

// List scopes the filter to the caller: patients see their own bookings,
// doctors their practice and admins whatever the filter asks for.
func (s *Service) List(ctx context.Context, caller auth.Identity, f ListFilter) ([]Appointment, error) {
	switch caller.Role {
	case user.RolePatient:
		f.PatientID = &caller.UserID
		f.DoctorID = nil
	case user.RoleDoctor:
		doctor, err := s.repo.GetDoctorRefByUserID(ctx, caller.UserID)
		if errors.Is(err, ErrDoctorNotFound) {
			return []Appointment{}, nil
		}
		if err != nil {
			return nil, err
		}
		f.DoctorID = &doctor.ID
	case user.RoleAdmin:
	default:
		return nil, apperr.ErrForbidden
	}

	if f.Status != nil && !f.Status.Valid() {
		return nil, apperr.Invalid("status", "unknown status")
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	appts, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// SendReminders notifies patients of appointments starting within the
// reminder window. Each appointment is reminded at most once.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.FindDueReminders(ctx, now, now.Add(s.cfg.ReminderWindow), reminderBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find due reminders: %w", err)
	}

	sent := 0
	for _, appt := range due {
		claimed, err := s.repo.MarkReminderSent(ctx, appt.ID, now)
		if err != nil {
			s.logger.Error("reminder not recorded", "appointment_id", appt.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		s.notifier.NotifyQuietly(ctx, appt.PatientID, notification.TypeAppointmentReminder,
			"Upcoming appointment",
			fmt.Sprintf("Reminder: your appointment is on %s", s.formatTime(appt.AppointmentDate)),
			map[string]string{"appointmentId": appt.ID.String()})
		sent++
	}

	return sent, nil
}

func (s *Service) loadForCaller(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, *DoctorRef, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	doctor, err := s.repo.GetDoctorRef(ctx, appt.DoctorID)
	if err != nil {
		return nil, nil, fmt.Errorf("load doctor: %w", err)
	}
	if !caller.IsAdmin() && caller.UserID != appt.PatientID && caller.UserID != doctor.UserID {
		return nil, nil, ErrNotParticipant
	}
	return appt, doctor, nil
}

func (s *Service) formatTime(t time.Time) string {
	return t.In(s.cfg.ClinicTimezone).Format("Mon Jan 2 2006 15:04 MST")
}

// counterparts returns the participants other than actor.
func counterparts(actor uuid.UUID, participants ...uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		if p != actor {
			out = append(out, p)
		}
	}
	return out
}
