package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/appointment"
	"github.com/hackgods/medibook/internal/auth"
	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/doctor"
	"github.com/hackgods/medibook/internal/notification"
	"github.com/hackgods/medibook/internal/payment"
	"github.com/hackgods/medibook/internal/review"
	"github.com/hackgods/medibook/internal/user"
)

// --- fakes ---

type tokenVerifier map[string]uuid.UUID

func (v tokenVerifier) Verify(raw string) (uuid.UUID, error) {
	if id, ok := v[raw]; ok {
		return id, nil
	}
	return uuid.Nil, auth.ErrInvalidToken
}

type userStore map[uuid.UUID]user.User

func (s userStore) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &u, nil
}

type fakeDoctors struct {
	searchFn  func(ctx context.Context, f doctor.SearchFilter) ([]doctor.DoctorWithUser, error)
	getFn     func(ctx context.Context, id uuid.UUID) (*doctor.DoctorWithUser, error)
	profileFn func(ctx context.Context, id uuid.UUID) (*doctor.Profile, error)
	ownerFn   func(ctx context.Context, caller auth.Identity, id uuid.UUID) (*doctor.DoctorWithUser, error)
	createFn  func(ctx context.Context, caller auth.Identity, in doctor.ProfileInput) (*doctor.Doctor, error)
}

func (f *fakeDoctors) Search(ctx context.Context, sf doctor.SearchFilter) ([]doctor.DoctorWithUser, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, sf)
	}
	return nil, nil
}

func (f *fakeDoctors) TopRated(context.Context, int) ([]doctor.DoctorWithUser, error) {
	return nil, nil
}

func (f *fakeDoctors) Nearby(context.Context, float64, float64, float64, int) ([]doctor.DoctorWithUser, error) {
	return nil, nil
}

func (f *fakeDoctors) Get(ctx context.Context, id uuid.UUID) (*doctor.DoctorWithUser, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return &doctor.DoctorWithUser{Doctor: doctor.Doctor{ID: id}}, nil
}

func (f *fakeDoctors) Profile(ctx context.Context, id uuid.UUID) (*doctor.Profile, error) {
	if f.profileFn != nil {
		return f.profileFn(ctx, id)
	}
	return nil, doctor.ErrDoctorNotFound
}

func (f *fakeDoctors) CreateProfile(ctx context.Context, caller auth.Identity, in doctor.ProfileInput) (*doctor.Doctor, error) {
	if f.createFn != nil {
		return f.createFn(ctx, caller, in)
	}
	return &doctor.Doctor{ID: uuid.New(), UserID: caller.UserID, Specialty: in.Specialty}, nil
}

func (f *fakeDoctors) UpdateProfile(context.Context, auth.Identity, uuid.UUID, doctor.ProfilePatch) (*doctor.Doctor, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDoctors) RequireOwner(ctx context.Context, caller auth.Identity, id uuid.UUID) (*doctor.DoctorWithUser, error) {
	if f.ownerFn != nil {
		return f.ownerFn(ctx, caller, id)
	}
	return &doctor.DoctorWithUser{Doctor: doctor.Doctor{ID: id, UserID: caller.UserID}}, nil
}

type fakeSlots struct {
	listFn    func(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]availability.Slot, error)
	publishFn func(ctx context.Context, doctorID uuid.UUID, ranges []availability.SlotRange) ([]availability.Slot, error)
}

func (f *fakeSlots) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]availability.Slot, error) {
	if f.listFn != nil {
		return f.listFn(ctx, doctorID, day)
	}
	return nil, nil
}

func (f *fakeSlots) PublishSlots(ctx context.Context, doctorID uuid.UUID, ranges []availability.SlotRange) ([]availability.Slot, error) {
	if f.publishFn != nil {
		return f.publishFn(ctx, doctorID, ranges)
	}
	return nil, nil
}

func (f *fakeSlots) Location() *time.Location { return time.UTC }

type fakeAppointments struct {
	bookFn   func(ctx context.Context, caller auth.Identity, req appointment.BookingRequest) (*appointment.Appointment, error)
	cancelFn func(ctx context.Context, caller auth.Identity, id uuid.UUID) (*appointment.Appointment, error)
	listFn   func(ctx context.Context, caller auth.Identity, f appointment.ListFilter) ([]appointment.Appointment, error)
}

func (f *fakeAppointments) Book(ctx context.Context, caller auth.Identity, req appointment.BookingRequest) (*appointment.Appointment, error) {
	if f.bookFn != nil {
		return f.bookFn(ctx, caller, req)
	}
	return &appointment.Appointment{ID: uuid.New(), PatientID: caller.UserID, DoctorID: req.DoctorID}, nil
}

func (f *fakeAppointments) Cancel(ctx context.Context, caller auth.Identity, id uuid.UUID) (*appointment.Appointment, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, caller, id)
	}
	return &appointment.Appointment{ID: id, Status: appointment.StatusCancelled}, nil
}

func (f *fakeAppointments) Update(context.Context, auth.Identity, uuid.UUID, appointment.Patch) (*appointment.Appointment, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAppointments) Get(context.Context, auth.Identity, uuid.UUID) (*appointment.Appointment, error) {
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeAppointments) List(ctx context.Context, caller auth.Identity, lf appointment.ListFilter) ([]appointment.Appointment, error) {
	if f.listFn != nil {
		return f.listFn(ctx, caller, lf)
	}
	return nil, nil
}

type fakePayments struct {
	webhookFn func(ctx context.Context, body []byte, signature string) (*appointment.Appointment, error)
	startFn   func(ctx context.Context, caller auth.Identity, id uuid.UUID) (*payment.Checkout, error)
}

func (f *fakePayments) StartPayment(ctx context.Context, caller auth.Identity, id uuid.UUID) (*payment.Checkout, error) {
	if f.startFn != nil {
		return f.startFn(ctx, caller, id)
	}
	return nil, payment.ErrPaymentsDisabled
}

func (f *fakePayments) Refund(context.Context, auth.Identity, uuid.UUID) (*appointment.Appointment, error) {
	return nil, payment.ErrPaymentsDisabled
}

func (f *fakePayments) HandleWebhook(ctx context.Context, body []byte, signature string) (*appointment.Appointment, error) {
	if f.webhookFn != nil {
		return f.webhookFn(ctx, body, signature)
	}
	return nil, nil
}

type fakeReviews struct {
	addFn func(ctx context.Context, patientID uuid.UUID, in review.AddReviewInput) (*review.Review, error)
}

func (f *fakeReviews) AddReview(ctx context.Context, patientID uuid.UUID, in review.AddReviewInput) (*review.Review, error) {
	if f.addFn != nil {
		return f.addFn(ctx, patientID, in)
	}
	return &review.Review{ID: uuid.New(), PatientID: patientID, DoctorID: in.DoctorID, Rating: in.Rating}, nil
}

func (f *fakeReviews) ListForDoctor(context.Context, uuid.UUID, int) ([]review.Review, error) {
	return nil, nil
}

type fakeNotifications struct{}

func (fakeNotifications) List(context.Context, uuid.UUID, bool, int) ([]notification.Notification, error) {
	return nil, nil
}

func (fakeNotifications) MarkRead(context.Context, uuid.UUID, uuid.UUID) (*notification.Notification, error) {
	return nil, notification.ErrNotificationNotFound
}

// --- harness ---

type testAPI struct {
	handler      http.Handler
	doctors      *fakeDoctors
	slots        *fakeSlots
	appointments *fakeAppointments
	payments     *fakePayments
	reviews      *fakeReviews

	patient, doctorUser, admin uuid.UUID
}

func newTestAPI(t *testing.T, limiter *RateLimiter) *testAPI {
	t.Helper()
	a := &testAPI{
		doctors:      &fakeDoctors{},
		slots:        &fakeSlots{},
		appointments: &fakeAppointments{},
		payments:     &fakePayments{},
		reviews:      &fakeReviews{},
		patient:      uuid.New(),
		doctorUser:   uuid.New(),
		admin:        uuid.New(),
	}
	users := userStore{
		a.patient:    {ID: a.patient, Role: user.RolePatient},
		a.doctorUser: {ID: a.doctorUser, Role: user.RoleDoctor},
		a.admin:      {ID: a.admin, Role: user.RoleAdmin},
	}
	verifier := tokenVerifier{
		"patient-token": a.patient,
		"doctor-token":  a.doctorUser,
		"admin-token":   a.admin,
		"ghost-token":   uuid.New(),
	}
	a.handler = NewRouter(RouterDeps{
		Doctors:       a.doctors,
		Slots:         a.slots,
		Appointments:  a.appointments,
		Payments:      a.payments,
		Reviews:       a.reviews,
		Notifications: fakeNotifications{},
		Users:         users,
		Verifier:      verifier,
		RateLimiter:   limiter,
		Health:        NewHealthHandler("test", "v0"),
	})
	return a
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, _ := json.Marshal(b)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

// --- tests ---

func TestAuthentication(t *testing.T) {
	a := newTestAPI(t, nil)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"bad token", "nope", http.StatusUnauthorized},
		{"unknown user", "ghost-token", http.StatusUnauthorized},
		{"valid", "patient-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodGet, "/me", tt.token, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodGet, "/health/live", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}
}

func TestCreateAppointment(t *testing.T) {
	a := newTestAPI(t, nil)
	doctorID := uuid.New()
	at := time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)

	var got appointment.BookingRequest
	var gotCaller auth.Identity
	a.appointments.bookFn = func(_ context.Context, caller auth.Identity, req appointment.BookingRequest) (*appointment.Appointment, error) {
		got, gotCaller = req, caller
		return &appointment.Appointment{ID: uuid.New(), PatientID: caller.UserID, DoctorID: req.DoctorID, Status: appointment.StatusScheduled}, nil
	}

	rec := a.do(http.MethodPost, "/appointments", "patient-token", map[string]any{
		"doctorId":        doctorID,
		"appointmentDate": at,
		"reason":          "checkup",
		"type":            "video",
		"duration":        30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got.DoctorID != doctorID || !got.AppointmentDate.Equal(at) || got.Type != appointment.TypeVideo || got.DurationMinutes != 30 {
		t.Errorf("booking request = %+v", got)
	}
	if gotCaller.UserID != a.patient || gotCaller.Role != user.RolePatient {
		t.Errorf("caller = %+v", gotCaller)
	}
}

func TestCreateAppointment_SlotUnavailableHasHint(t *testing.T) {
	a := newTestAPI(t, nil)
	a.appointments.bookFn = func(context.Context, auth.Identity, appointment.BookingRequest) (*appointment.Appointment, error) {
		return nil, appointment.ErrSlotTaken
	}

	rec := a.do(http.MethodPost, "/appointments", "patient-token", map[string]any{"doctorId": uuid.New()})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error != "slot_unavailable" || resp.Hint == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCreateAppointment_BadBody(t *testing.T) {
	a := newTestAPI(t, nil)

	for _, body := range []string{`{`, `{"doctorId":"x"}`, `{"slotId":"` + uuid.NewString() + `"}`} {
		rec := a.do(http.MethodPost, "/appointments", "patient-token", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestBookingRateLimit(t *testing.T) {
	limiter := NewRateLimiter(1, 1, time.Minute)
	defer limiter.Stop()
	a := newTestAPI(t, limiter)

	first := a.do(http.MethodPost, "/appointments", "patient-token", map[string]any{"doctorId": uuid.New()})
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	second := a.do(http.MethodPost, "/appointments", "patient-token", map[string]any{"doctorId": uuid.New()})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After")
	}

	// limits are per user
	other := a.do(http.MethodPost, "/appointments", "admin-token", map[string]any{"doctorId": uuid.New()})
	if other.Code != http.StatusCreated {
		t.Errorf("other user status = %d", other.Code)
	}

	// reads are not limited
	if rec := a.do(http.MethodGet, "/appointments", "patient-token", nil); rec.Code != http.StatusOK {
		t.Errorf("list status = %d", rec.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{apperr.Invalid("rating", "bad"), http.StatusBadRequest, "validation_failed"},
		{appointment.ErrAppointmentNotFound, http.StatusNotFound, "not_found"},
		{appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_unavailable"},
		{appointment.ErrNotParticipant, http.StatusForbidden, "forbidden"},
		{appointment.ErrInvalidStatusTransition, http.StatusConflict, "conflict"},
		{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("create payment: %w", payment.ErrGateway), http.StatusBadGateway, "upstream_failure"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			resp := decodeError(t, rec)
			if resp.Error != tt.code {
				t.Errorf("code = %q, want %q", resp.Error, tt.code)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(resp.Details, "connection reset") {
				t.Error("internal error details must not leak")
			}
		})
	}
}

func TestValidationErrorCarriesFields(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodGet, "/doctors?rating=high&limit=ten", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Fields["rating"] == "" || resp.Fields["limit"] == "" {
		t.Errorf("fields = %v", resp.Fields)
	}
}

func TestSearchDoctors_ParsesFilters(t *testing.T) {
	a := newTestAPI(t, nil)

	var got doctor.SearchFilter
	a.doctors.searchFn = func(_ context.Context, f doctor.SearchFilter) ([]doctor.DoctorWithUser, error) {
		got = f
		return []doctor.DoctorWithUser{{Doctor: doctor.Doctor{ID: uuid.New()}}}, nil
	}

	rec := a.do(http.MethodGet,
		"/doctors?specialty=cardio&insurance=aetna,cigna&insurance=bupa&rating=4.5&accepting=true&availableOn=2024-08-01&lat=52.5&lng=13.4&radius=5&sort=distance&limit=10",
		"", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	if got.Specialty != "cardio" {
		t.Errorf("Specialty = %q", got.Specialty)
	}
	if len(got.Insurances) != 3 || got.Insurances[2] != "bupa" {
		t.Errorf("Insurances = %v", got.Insurances)
	}
	if got.MinRating == nil || *got.MinRating != 4.5 {
		t.Errorf("MinRating = %v", got.MinRating)
	}
	if got.Accepting == nil || !*got.Accepting {
		t.Errorf("Accepting = %v", got.Accepting)
	}
	if got.AvailableOn == nil || got.AvailableOn.Format(availability.DateLayout) != "2024-08-01" {
		t.Errorf("AvailableOn = %v", got.AvailableOn)
	}
	if got.Near == nil || got.Near.Lat != 52.5 || got.Near.RadiusKm != 5 {
		t.Errorf("Near = %+v", got.Near)
	}
	if got.Sort != doctor.SortDistance || got.Limit != 10 {
		t.Errorf("Sort = %q Limit = %d", got.Sort, got.Limit)
	}

	var resp ListResponse[doctor.DoctorWithUser]
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 {
		t.Errorf("Count = %d", resp.Count)
	}
}

func TestSearchDoctors_EmptyIsArray(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodGet, "/doctors", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestSearchDoctors_LatWithoutLng(t *testing.T) {
	a := newTestAPI(t, nil)
	if rec := a.do(http.MethodGet, "/doctors?lat=1", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetDoctor(t *testing.T) {
	a := newTestAPI(t, nil)

	if rec := a.do(http.MethodGet, "/doctors/not-a-uuid", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, "/doctors/"+uuid.NewString(), "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing doctor status = %d", rec.Code)
	}
}

func TestListAvailability(t *testing.T) {
	a := newTestAPI(t, nil)
	doctorID := uuid.New()

	var gotDay time.Time
	a.slots.listFn = func(_ context.Context, id uuid.UUID, day time.Time) ([]availability.Slot, error) {
		gotDay = day
		return nil, nil
	}

	rec := a.do(http.MethodGet, "/doctors/"+doctorID.String()+"/availability?date=2024-08-01", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", rec.Body)
	}
	if gotDay.Format(availability.DateLayout) != "2024-08-01" {
		t.Errorf("day = %v", gotDay)
	}

	if rec := a.do(http.MethodGet, "/doctors/"+doctorID.String()+"/availability", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing date status = %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, "/doctors/"+doctorID.String()+"/availability?date=08/01/2024", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", rec.Code)
	}

	a.doctors.getFn = func(context.Context, uuid.UUID) (*doctor.DoctorWithUser, error) {
		return nil, doctor.ErrDoctorNotFound
	}
	if rec := a.do(http.MethodGet, "/doctors/"+doctorID.String()+"/availability?date=2024-08-01", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown doctor status = %d", rec.Code)
	}
}

func TestPublishSlots_RequiresOwner(t *testing.T) {
	a := newTestAPI(t, nil)
	a.doctors.ownerFn = func(context.Context, auth.Identity, uuid.UUID) (*doctor.DoctorWithUser, error) {
		return nil, doctor.ErrNotProfileOwner
	}
	published := false
	a.slots.publishFn = func(context.Context, uuid.UUID, []availability.SlotRange) ([]availability.Slot, error) {
		published = true
		return nil, nil
	}

	rec := a.do(http.MethodPost, "/doctors/"+uuid.NewString()+"/slots", "doctor-token", PublishSlotsRequest{
		Slots: []availability.SlotRange{{Start: time.Now(), End: time.Now().Add(30 * time.Minute)}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if published {
		t.Error("slots must not be published for a non-owner")
	}
}

func TestRoleGuards(t *testing.T) {
	a := newTestAPI(t, nil)

	if rec := a.do(http.MethodPost, "/doctors", "patient-token", doctor.ProfileInput{Specialty: "x"}); rec.Code != http.StatusForbidden {
		t.Errorf("patient creating profile: status = %d", rec.Code)
	}
	if rec := a.do(http.MethodPost, "/doctors", "doctor-token", doctor.ProfileInput{Specialty: "x"}); rec.Code != http.StatusCreated {
		t.Errorf("doctor creating profile: status = %d", rec.Code)
	}
	if rec := a.do(http.MethodPost, "/reviews", "doctor-token", CreateReviewRequest{DoctorID: uuid.New(), Rating: 5}); rec.Code != http.StatusForbidden {
		t.Errorf("doctor reviewing: status = %d", rec.Code)
	}
}

func TestCreateReview(t *testing.T) {
	a := newTestAPI(t, nil)
	doctorID := uuid.New()

	var gotPatient uuid.UUID
	a.reviews.addFn = func(_ context.Context, patientID uuid.UUID, in review.AddReviewInput) (*review.Review, error) {
		gotPatient = patientID
		if in.Rating > 5 {
			return nil, apperr.Invalid("rating", "must be between 1 and 5")
		}
		return &review.Review{ID: uuid.New(), PatientID: patientID, DoctorID: in.DoctorID, Rating: in.Rating}, nil
	}

	rec := a.do(http.MethodPost, "/reviews", "patient-token", CreateReviewRequest{DoctorID: doctorID, Rating: 4, Comment: "good"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if gotPatient != a.patient {
		t.Errorf("patient = %v, want caller", gotPatient)
	}

	rec = a.do(http.MethodPost, "/reviews", "patient-token", CreateReviewRequest{DoctorID: doctorID, Rating: 9})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid rating status = %d", rec.Code)
	}
}

func TestCancelAppointment(t *testing.T) {
	a := newTestAPI(t, nil)
	id := uuid.New()

	rec := a.do(http.MethodDelete, "/appointments/"+id.String(), "patient-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var appt appointment.Appointment
	if err := json.NewDecoder(rec.Body).Decode(&appt); err != nil {
		t.Fatal(err)
	}
	if appt.ID != id || appt.Status != appointment.StatusCancelled {
		t.Errorf("appointment = %+v", appt)
	}
}

func TestPaymentWebhook_PassesRawBodyAndSignature(t *testing.T) {
	a := newTestAPI(t, nil)
	body := `{"appointmentId":"` + uuid.NewString() + `","status":"paid"}`

	var gotBody, gotSig string
	a.payments.webhookFn = func(_ context.Context, b []byte, sig string) (*appointment.Appointment, error) {
		gotBody, gotSig = string(b), sig
		if sig != "good" {
			return nil, payment.ErrBadSignature
		}
		return &appointment.Appointment{PaymentStatus: appointment.PaymentPaid}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
	req.Header.Set(payment.SignatureHeader, "good")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if gotBody != body || gotSig != "good" {
		t.Errorf("body = %q sig = %q", gotBody, gotSig)
	}
	var resp WebhookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Received || !resp.Applied {
		t.Errorf("response = %+v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
	req.Header.Set(payment.SignatureHeader, "forged")
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged status = %d, want 401", rec.Code)
	}
}

func TestPaymentWebhook_UnappliedSignalIsAcknowledged(t *testing.T) {
	a := newTestAPI(t, nil)
	a.payments.webhookFn = func(context.Context, []byte, string) (*appointment.Appointment, error) {
		return nil, nil
	}

	body := `{"appointmentId":"` + uuid.NewString() + `","status":"paid"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
	req.Header.Set(payment.SignatureHeader, "good")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the provider stops retrying: %s", rec.Code, rec.Body)
	}
	var resp WebhookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Received || resp.Applied {
		t.Errorf("response = %+v, want received and not applied", resp)
	}
}

func TestStartPayment_Upstream(t *testing.T) {
	a := newTestAPI(t, nil)
	a.payments.startFn = func(context.Context, auth.Identity, uuid.UUID) (*payment.Checkout, error) {
		return nil, fmt.Errorf("create payment: %w", payment.ErrGateway)
	}

	rec := a.do(http.MethodPost, "/appointments/"+uuid.NewString()+"/payment", "patient-token", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestListAppointments_Query(t *testing.T) {
	a := newTestAPI(t, nil)
	doctorID := uuid.New()

	var got appointment.ListFilter
	a.appointments.listFn = func(_ context.Context, _ auth.Identity, f appointment.ListFilter) ([]appointment.Appointment, error) {
		got = f
		return nil, nil
	}

	rec := a.do(http.MethodGet, "/appointments?doctorId="+doctorID.String()+"&status=confirmed&limit=5", "admin-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got.DoctorID == nil || *got.DoctorID != doctorID || got.Status == nil || *got.Status != appointment.StatusConfirmed || got.Limit != 5 {
		t.Errorf("filter = %+v", got)
	}

	if rec := a.do(http.MethodGet, "/appointments?patientId=bad", "admin-token", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad uuid status = %d", rec.Code)
	}
}

func TestNotifications_MarkReadOfOtherUserIs404(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(http.MethodPatch, "/notifications/"+uuid.NewString()+"/read", "patient-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	tests := []struct {
		name       string
		deps       []Dependency
		wantStatus string
		wantCode   int
	}{
		{"all up", []Dependency{{"postgres", up, true}, {"redis", up, false}}, "ok", http.StatusOK},
		{"redis down", []Dependency{{"postgres", up, true}, {"redis", down, false}}, "degraded", http.StatusOK},
		{"postgres down", []Dependency{{"postgres", down, true}, {"redis", up, false}}, "error", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("test", "v1", tt.deps...)
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
		})
	}
}
