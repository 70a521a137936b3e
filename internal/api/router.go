package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/appointment"
	"github.com/hackgods/medibook/internal/auth"
	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/doctor"
	"github.com/hackgods/medibook/internal/metrics"
	"github.com/hackgods/medibook/internal/notification"
	"github.com/hackgods/medibook/internal/payment"
	"github.com/hackgods/medibook/internal/review"
	"github.com/hackgods/medibook/internal/user"
)

type DoctorService interface {
	Search(ctx context.Context, f doctor.SearchFilter) ([]doctor.DoctorWithUser, error)
	TopRated(ctx context.Context, limit int) ([]doctor.DoctorWithUser, error)
	Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]doctor.DoctorWithUser, error)
	Get(ctx context.Context, id uuid.UUID) (*doctor.DoctorWithUser, error)
	Profile(ctx context.Context, id uuid.UUID) (*doctor.Profile, error)
	CreateProfile(ctx context.Context, caller auth.Identity, in doctor.ProfileInput) (*doctor.Doctor, error)
	UpdateProfile(ctx context.Context, caller auth.Identity, id uuid.UUID, p doctor.ProfilePatch) (*doctor.Doctor, error)
	RequireOwner(ctx context.Context, caller auth.Identity, doctorID uuid.UUID) (*doctor.DoctorWithUser, error)
}

type SlotService interface {
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]availability.Slot, error)
	PublishSlots(ctx context.Context, doctorID uuid.UUID, ranges []availability.SlotRange) ([]availability.Slot, error)
	Location() *time.Location
}

type AppointmentService interface {
	Book(ctx context.Context, caller auth.Identity, req appointment.BookingRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, caller auth.Identity, id uuid.UUID) (*appointment.Appointment, error)
	Update(ctx context.Context, caller auth.Identity, id uuid.UUID, p appointment.Patch) (*appointment.Appointment, error)
	Get(ctx context.Context, caller auth.Identity, id uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, caller auth.Identity, f appointment.ListFilter) ([]appointment.Appointment, error)
}

type PaymentService interface {
	StartPayment(ctx context.Context, caller auth.Identity, appointmentID uuid.UUID) (*payment.Checkout, error)
	Refund(ctx context.Context, caller auth.Identity, appointmentID uuid.UUID) (*appointment.Appointment, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (*appointment.Appointment, error)
}

type ReviewService interface {
	AddReview(ctx context.Context, patientID uuid.UUID, in review.AddReviewInput) (*review.Review, error)
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit int) ([]review.Review, error)
}

type NotificationService interface {
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]notification.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) (*notification.Notification, error)
}

// RouterDeps collects everything NewRouter wires.
type RouterDeps struct {
	Doctors       DoctorService
	Slots         SlotService
	Appointments  AppointmentService
	Payments      PaymentService
	Reviews       ReviewService
	Notifications NotificationService
	Users         UserLookup

	Verifier    TokenVerifier
	RateLimiter *RateLimiter
	Realtime    http.Handler
	Health      *HealthHandler
	Metrics     metrics.Recorder
	MetricsHTTP http.Handler
	Logger      *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(IdentityCarrier)
	r.Use(LoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: false}).Handle)
	r.Use(tagRequest)

	if deps.Health != nil {
		r.Get("/health/live", deps.Health.Liveness)
		r.Get("/health/ready", deps.Health.Readiness)
	}
	if deps.MetricsHTTP != nil {
		r.Handle("/metrics", deps.MetricsHTTP)
	}
	if deps.Realtime != nil {
		r.Handle("/ws", deps.Realtime)
	}

	h := &handlers{deps: deps}

	// public directory
	r.Get("/doctors", h.searchDoctors)
	r.Get("/doctors/top-rated", h.topRatedDoctors)
	r.Get("/doctors/nearby", h.nearbyDoctors)
	r.Get("/doctors/{id}", h.getDoctor)
	r.Get("/doctors/{id}/reviews", h.listDoctorReviews)
	r.Get("/doctors/{id}/availability", h.listAvailability)

	r.Post("/payments/webhook", h.paymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(deps.Verifier, deps.Users))

		r.Get("/me", h.me)

		r.With(RequireRole(user.RoleDoctor, user.RoleAdmin)).Post("/doctors", h.createDoctor)
		r.Patch("/doctors/{id}", h.updateDoctor)
		r.Post("/doctors/{id}/slots", h.publishSlots)

		booking := r.With()
		if deps.RateLimiter != nil {
			booking = r.With(deps.RateLimiter.Middleware)
		}
		booking.Post("/appointments", h.createAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Patch("/appointments/{id}", h.updateAppointment)
		r.Delete("/appointments/{id}", h.cancelAppointment)
		r.Post("/appointments/{id}/payment", h.startPayment)
		r.Post("/appointments/{id}/refund", h.refundPayment)

		r.With(RequireRole(user.RolePatient)).Post("/reviews", h.createReview)

		r.Get("/notifications", h.listNotifications)
		r.Patch("/notifications/{id}/read", h.markNotificationRead)
	})

	return r
}

// tagRequest attaches the request id to the Sentry scope.
func tagRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.Scope().SetTag("request_id", GetRequestID(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}
