package api

import (
	"io"
	"net/http"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/appointment"
	"github.com/hackgods/medibook/internal/payment"
	"github.com/hackgods/medibook/internal/review"
)

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	appt, err := h.deps.Appointments.Book(r.Context(), mustIdentity(r), req.booking())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query(), errs: apperr.NewValidationError()}
	f := appointment.ListFilter{
		PatientID: q.uuid("patientId"),
		DoctorID:  q.uuid("doctorId"),
		Limit:     q.int("limit"),
		Offset:    q.int("offset"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := appointment.Status(raw)
		f.Status = &s
	}
	if err := q.errs.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	appts, err := h.deps.Appointments.List(r.Context(), mustIdentity(r), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(appts))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	appt, err := h.deps.Appointments.Get(r.Context(), mustIdentity(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p appointment.Patch
	if !decodeJSON(w, r, &p) {
		return
	}
	appt, err := h.deps.Appointments.Update(r.Context(), mustIdentity(r), id, p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	appt, err := h.deps.Appointments.Cancel(r.Context(), mustIdentity(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) startPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	co, err := h.deps.Payments.StartPayment(r.Context(), mustIdentity(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, co)
}

func (h *handlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	appt, err := h.deps.Payments.Refund(r.Context(), mustIdentity(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// paymentWebhook needs the raw body: the signature covers its exact bytes.
func (h *handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
		return
	}
	appt, err := h.deps.Payments.HandleWebhook(r.Context(), body, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Applied: appt != nil, Appointment: appt})
}

func (h *handlers) createReview(w http.ResponseWriter, r *http.Request) {
	var req CreateReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rv, err := h.deps.Reviews.AddReview(r.Context(), mustIdentity(r).UserID, review.AddReviewInput{
		DoctorID:      req.DoctorID,
		AppointmentID: req.AppointmentID,
		Rating:        req.Rating,
		Comment:       req.Comment,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query(), errs: apperr.NewValidationError()}
	limit := q.int("limit")
	unread := q.bool("unread")
	if err := q.errs.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	items, err := h.deps.Notifications.List(r.Context(), mustIdentity(r).UserID, unread != nil && *unread, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(items))
}

func (h *handlers) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := h.deps.Notifications.MarkRead(r.Context(), id, mustIdentity(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
