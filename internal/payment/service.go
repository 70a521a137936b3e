package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/appointment"
	"github.com/hackgods/medibook/internal/auth"
)

var (
	ErrPaymentsDisabled = fmt.Errorf("payments are not configured: %w", apperr.ErrUpstream)
	ErrBadSignature     = fmt.Errorf("invalid webhook signature: %w", apperr.ErrUnauthorized)
	ErrNotPayable       = fmt.Errorf("appointment cannot be paid: %w", apperr.ErrConflict)
	ErrNotRefundable    = fmt.Errorf("appointment cannot be refunded: %w", apperr.ErrConflict)
	ErrNoFee            = fmt.Errorf("doctor has no consultation fee: %w", apperr.ErrConflict)
	ErrNotPatient       = fmt.Errorf("only the booking patient can pay: %w", apperr.ErrForbidden)
	ErrNotDoctor        = fmt.Errorf("only the appointment's doctor can refund: %w", apperr.ErrForbidden)
)

// Appointments is the slice of the appointment service payments rely on.
type Appointments interface {
	GetWithDoctor(ctx context.Context, caller auth.Identity, id uuid.UUID) (*appointment.Appointment, *appointment.DoctorRef, error)
	SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) (*appointment.Appointment, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, to appointment.PaymentStatus, reference *string) (*appointment.Appointment, error)
}

// Checkout is returned to the patient after a payment was created.
type Checkout struct {
	Appointment *appointment.Appointment `json:"appointment"`
	PaymentID   string                   `json:"paymentId"`
	Status      string                   `json:"status"`
	CheckoutURL string                   `json:"checkoutUrl,omitempty"`
	AmountMinor int64                    `json:"amount"`
	Currency    string                   `json:"currency"`
}

type Service struct {
	gateway       Gateway
	appointments  Appointments
	webhookSecret string
	currency      string
	logger        *slog.Logger
}

// NewService builds the payment flow. A nil gateway disables payment
// creation and refunds; webhooks still apply.
func NewService(gateway Gateway, appointments Appointments, webhookSecret, currency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		gateway:       gateway,
		appointments:  appointments,
		webhookSecret: webhookSecret,
		currency:      currency,
		logger:        logger,
	}
}

// StartPayment charges the doctor's consultation fee for an appointment.
// When the provider fails the appointment stays pending and can be retried.
func (s *Service) StartPayment(ctx context.Context, caller auth.Identity, appointmentID uuid.UUID) (*Checkout, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}

	appt, doctor, err := s.appointments.GetWithDoctor(ctx, caller, appointmentID)
	if err != nil {
		return nil, err
	}
	if caller.UserID != appt.PatientID {
		return nil, ErrNotPatient
	}
	if appt.PaymentStatus != appointment.PaymentPending || appt.Status == appointment.StatusCancelled {
		return nil, ErrNotPayable
	}

	amount := AmountMinor(doctor.ConsultationFee)
	if amount == 0 {
		return nil, ErrNoFee
	}

	p, err := s.gateway.CreatePayment(ctx, Charge{
		AppointmentID: appt.ID,
		AmountMinor:   amount,
		Currency:      s.currency,
		Description:   "Consultation " + appt.AppointmentDate.UTC().Format("2006-01-02 15:04"),
	})
	if err != nil {
		s.logger.Warn("payment not created", "appointment_id", appt.ID, "error", err)
		return nil, fmt.Errorf("create payment: %w", err)
	}

	updated, err := s.appointments.SetPaymentReference(ctx, appt.ID, p.ID)
	if err != nil {
		return nil, fmt.Errorf("store payment reference: %w", err)
	}

	if isPaidSignal(p.Status) {
		ref := p.ID
		if updated, err = s.appointments.UpdatePaymentStatus(ctx, appt.ID, appointment.PaymentPaid, &ref); err != nil {
			return nil, err
		}
	}

	s.logger.Info("payment created",
		"appointment_id", appt.ID,
		"payment_id", p.ID,
		"amount", amount,
		"currency", s.currency,
	)

	return &Checkout{
		Appointment: updated,
		PaymentID:   p.ID,
		Status:      p.Status,
		CheckoutURL: p.CheckoutURL,
		AmountMinor: amount,
		Currency:    s.currency,
	}, nil
}

// Refund returns a paid appointment's money. Only the appointment's doctor
// or an admin may refund.
func (s *Service) Refund(ctx context.Context, caller auth.Identity, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}

	appt, doctor, err := s.appointments.GetWithDoctor(ctx, caller, appointmentID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && caller.UserID != doctor.UserID {
		return nil, ErrNotDoctor
	}
	if appt.PaymentStatus != appointment.PaymentPaid || appt.PaymentReference == nil || *appt.PaymentReference == "" {
		return nil, ErrNotRefundable
	}

	if err := s.gateway.Refund(ctx, *appt.PaymentReference); err != nil {
		s.logger.Warn("refund failed", "appointment_id", appt.ID, "error", err)
		return nil, fmt.Errorf("refund payment: %w", err)
	}

	return s.appointments.UpdatePaymentStatus(ctx, appt.ID, appointment.PaymentRefunded, nil)
}

// HandleWebhook verifies and applies a provider delivery. It returns the
// updated appointment, or nil when the signal leaves the status unchanged.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*appointment.Appointment, error) {
	if !VerifySignature(s.webhookSecret, body, signature) {
		return nil, ErrBadSignature
	}

	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, apperr.Invalid("body", "malformed webhook payload")
	}
	if w.AppointmentID == uuid.Nil {
		return nil, apperr.Invalid("appointmentId", "is required")
	}

	var ref *string
	if w.Reference != "" {
		ref = &w.Reference
	}

	switch {
	case isPaidSignal(w.Status):
		return s.applySignal(ctx, w, appointment.PaymentPaid, ref)
	case w.Status == SignalRefunded:
		return s.applySignal(ctx, w, appointment.PaymentRefunded, ref)
	case w.Status == SignalFailed || w.Status == SignalPending:
		s.logger.Info("payment signal left status unchanged",
			"appointment_id", w.AppointmentID,
			"signal", w.Status,
		)
		return nil, nil
	default:
		return nil, apperr.Invalid("status", "unknown payment signal")
	}
}

// applySignal acknowledges out-of-order deliveries, such as a late "paid"
// after a refund, without applying them. Providers retry any non-2xx answer.
func (s *Service) applySignal(ctx context.Context, w Webhook, to appointment.PaymentStatus, ref *string) (*appointment.Appointment, error) {
	appt, err := s.appointments.UpdatePaymentStatus(ctx, w.AppointmentID, to, ref)
	if errors.Is(err, appointment.ErrInvalidPaymentTransition) {
		s.logger.Warn("stale payment signal ignored",
			"appointment_id", w.AppointmentID,
			"signal", w.Status,
		)
		return nil, nil
	}
	return appt, err
}

func isPaidSignal(status string) bool {
	return status == SignalPaid || status == SignalSucceeded
}
