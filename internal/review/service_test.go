package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
)

type memRepo struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]Aggregate
	reviews      []Review
	appointments map[uuid.UUID]AppointmentRef
	failUpdate   bool
}

func newMemRepo(doctorIDs ...uuid.UUID) *memRepo {
	m := &memRepo{doctors: map[uuid.UUID]Aggregate{}, appointments: map[uuid.UUID]AppointmentRef{}}
	for _, id := range doctorIDs {
		m.doctors[id] = Aggregate{}
	}
	return m
}

// WithTx serializes transactions and rolls back the review slice on error.
func (m *memRepo) WithTx(_ context.Context, fn func(tx Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := append([]Review(nil), m.reviews...)
	if err := fn(txView{m}); err != nil {
		m.reviews = snapshot
		return err
	}
	return nil
}

func (m *memRepo) LockDoctor(context.Context, uuid.UUID) error { panic("use WithTx") }
func (m *memRepo) Insert(context.Context, *Review) (*Review, error) { panic("use WithTx") }
func (m *memRepo) ListRatings(context.Context, uuid.UUID) ([]int, error) { panic("use WithTx") }
func (m *memRepo) UpdateDoctorAggregate(context.Context, uuid.UUID, Aggregate) error {
	panic("use WithTx")
}

func (m *memRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit int) ([]Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Review{}
	for _, r := range m.reviews {
		if r.DoctorID == doctorID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) GetAppointmentRef(_ context.Context, id uuid.UUID) (*AppointmentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &ref, nil
}

// txView is the repository handed to WithTx callbacks; the lock is already held.
type txView struct{ m *memRepo }

func (t txView) WithTx(ctx context.Context, fn func(tx Repository) error) error { return fn(t) }

func (t txView) LockDoctor(_ context.Context, id uuid.UUID) error {
	if _, ok := t.m.doctors[id]; !ok {
		return ErrDoctorNotFound
	}
	return nil
}

func (t txView) Insert(_ context.Context, r *Review) (*Review, error) {
	if r.AppointmentID != nil {
		for _, existing := range t.m.reviews {
			if existing.AppointmentID != nil && *existing.AppointmentID == *r.AppointmentID {
				return nil, ErrAlreadyReviewed
			}
		}
	}
	c := *r
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	t.m.reviews = append(t.m.reviews, c)
	return &c, nil
}

func (t txView) ListRatings(_ context.Context, doctorID uuid.UUID) ([]int, error) {
	var out []int
	for _, r := range t.m.reviews {
		if r.DoctorID == doctorID {
			out = append(out, r.Rating)
		}
	}
	return out, nil
}

func (t txView) UpdateDoctorAggregate(_ context.Context, doctorID uuid.UUID, agg Aggregate) error {
	if t.m.failUpdate {
		return errors.New("update failed")
	}
	t.m.doctors[doctorID] = agg
	return nil
}

func (t txView) ListByDoctor(context.Context, uuid.UUID, int) ([]Review, error) {
	return nil, errors.New("not in tx")
}

func (t txView) GetAppointmentRef(context.Context, uuid.UUID) (*AppointmentRef, error) {
	return nil, errors.New("not in tx")
}

func TestComputeAggregate(t *testing.T) {
	tests := []struct {
		name    string
		ratings []int
		want    Aggregate
	}{
		{"empty", nil, Aggregate{Rating: 0, ReviewCount: 0}},
		{"single", []int{4}, Aggregate{Rating: 4, ReviewCount: 1}},
		{"mean", []int{5, 3, 4}, Aggregate{Rating: 4, ReviewCount: 3}},
		{"half", []int{5, 3, 4, 2}, Aggregate{Rating: 3.5, ReviewCount: 4}},
		{"rounds to two decimals", []int{5, 4, 4}, Aggregate{Rating: 4.33, ReviewCount: 3}},
		{"rounds up", []int{5, 5, 4}, Aggregate{Rating: 4.67, ReviewCount: 3}},
		{"exact half cent 1.005", repeatRatings(199, 1, 1, 2), Aggregate{Rating: 1.01, ReviewCount: 200}},
		{"exact half cent 2.675", repeatRatings(13, 2, 27, 3), Aggregate{Rating: 2.68, ReviewCount: 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeAggregate(tt.ratings); got != tt.want {
				t.Errorf("ComputeAggregate(%v) = %+v, want %+v", tt.ratings, got, tt.want)
			}
		})
	}
}

// repeatRatings returns a copies of ra followed by b copies of rb.
func repeatRatings(a, ra, b, rb int) []int {
	out := make([]int, 0, a+b)
	for i := 0; i < a; i++ {
		out = append(out, ra)
	}
	for i := 0; i < b; i++ {
		out = append(out, rb)
	}
	return out
}

func TestAddReview_RecomputesFromFullSet(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo(doctorID)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	for _, rating := range []int{5, 3, 4} {
		if _, err := svc.AddReview(ctx, uuid.New(), AddReviewInput{DoctorID: doctorID, Rating: rating}); err != nil {
			t.Fatalf("AddReview(%d): %v", rating, err)
		}
	}
	if got := repo.doctors[doctorID]; got != (Aggregate{Rating: 4.00, ReviewCount: 3}) {
		t.Fatalf("after [5,3,4] aggregate = %+v, want 4.00 over 3", got)
	}

	if _, err := svc.AddReview(ctx, uuid.New(), AddReviewInput{DoctorID: doctorID, Rating: 2}); err != nil {
		t.Fatalf("AddReview(2): %v", err)
	}
	if got := repo.doctors[doctorID]; got != (Aggregate{Rating: 3.50, ReviewCount: 4}) {
		t.Fatalf("after [2] aggregate = %+v, want 3.50 over 4", got)
	}
}

func TestAddReview_Validation(t *testing.T) {
	doctorID := uuid.New()
	svc := NewService(newMemRepo(doctorID), nil, nil)

	tests := []struct {
		name  string
		in    AddReviewInput
		field string
	}{
		{"rating too low", AddReviewInput{DoctorID: doctorID, Rating: 0}, "rating"},
		{"rating too high", AddReviewInput{DoctorID: doctorID, Rating: 6}, "rating"},
		{"missing doctor", AddReviewInput{Rating: 3}, "doctorId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddReview(context.Background(), uuid.New(), tt.in)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want validation error", err)
			}
			if _, ok := ve.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %q", ve.Fields, tt.field)
			}
		})
	}
}

func TestAddReview_UnknownDoctor(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)

	_, err := svc.AddReview(context.Background(), uuid.New(), AddReviewInput{DoctorID: uuid.New(), Rating: 5})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestAddReview_AppointmentChecks(t *testing.T) {
	doctorID, patientID := uuid.New(), uuid.New()
	repo := newMemRepo(doctorID)
	completed, scheduled := uuid.New(), uuid.New()
	repo.appointments[completed] = AppointmentRef{ID: completed, PatientID: patientID, DoctorID: doctorID, Status: "completed"}
	repo.appointments[scheduled] = AppointmentRef{ID: scheduled, PatientID: patientID, DoctorID: doctorID, Status: "scheduled"}
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	if _, err := svc.AddReview(ctx, uuid.New(), AddReviewInput{DoctorID: doctorID, AppointmentID: &completed, Rating: 5}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other patient: err = %v, want forbidden", err)
	}
	if _, err := svc.AddReview(ctx, patientID, AddReviewInput{DoctorID: doctorID, AppointmentID: &scheduled, Rating: 5}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("not completed: err = %v, want validation", err)
	}
	if _, err := svc.AddReview(ctx, patientID, AddReviewInput{DoctorID: uuid.New(), AppointmentID: &completed, Rating: 5}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("wrong doctor: err = %v, want validation", err)
	}

	if _, err := svc.AddReview(ctx, patientID, AddReviewInput{DoctorID: doctorID, AppointmentID: &completed, Rating: 5}); err != nil {
		t.Fatalf("completed appointment: %v", err)
	}
	if _, err := svc.AddReview(ctx, patientID, AddReviewInput{DoctorID: doctorID, AppointmentID: &completed, Rating: 1}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second review: err = %v, want conflict", err)
	}
	if got := repo.doctors[doctorID]; got.ReviewCount != 1 || got.Rating != 5 {
		t.Errorf("aggregate = %+v, want 5.00 over 1", got)
	}
}

func TestAddReview_RollsBackWhenRecomputeFails(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo(doctorID)
	repo.failUpdate = true
	svc := NewService(repo, nil, nil)

	if _, err := svc.AddReview(context.Background(), uuid.New(), AddReviewInput{DoctorID: doctorID, Rating: 4}); err == nil {
		t.Fatal("expected error")
	}
	if len(repo.reviews) != 0 {
		t.Errorf("reviews = %d, want rollback to 0", len(repo.reviews))
	}
}

func TestRecomputeRating_ZeroReviews(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo(doctorID)
	repo.doctors[doctorID] = Aggregate{Rating: 4.2, ReviewCount: 9}
	svc := NewService(repo, nil, nil)

	agg, err := svc.RecomputeRating(context.Background(), doctorID)
	if err != nil {
		t.Fatal(err)
	}
	if agg != (Aggregate{}) || repo.doctors[doctorID] != (Aggregate{}) {
		t.Errorf("aggregate = %+v, want zero", agg)
	}
}
