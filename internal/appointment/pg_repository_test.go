package appointment

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/db"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := db.RunMigrations(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

type pgFixture struct {
	pool      *pgxpool.Pool
	repo      *PgRepository
	slots     *availability.PgRepository
	doctorID  uuid.UUID
	patientID uuid.UUID
	day       time.Time
}

func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()
	pool := testPool(t)
	ctx := context.Background()

	insertUser := func(role string) uuid.UUID {
		var id uuid.UUID
		err := pool.QueryRow(ctx, `
			INSERT INTO users (email, password_hash, first_name, last_name, role)
			VALUES ($1, 'x', 'Test', 'User', $2)
			RETURNING id
		`, uuid.NewString()+"@example.test", role).Scan(&id)
		if err != nil {
			t.Fatalf("insert %s user: %v", role, err)
		}
		return id
	}

	doctorUser := insertUser("doctor")
	var doctorID uuid.UUID
	err := pool.QueryRow(ctx, `
		INSERT INTO doctors (user_id, specialty, license_number, experience_years, education, clinic_name, clinic_address, consultation_fee)
		VALUES ($1, 'cardiology', 'LIC', 5, 'MD', 'Clinic', 'Somewhere', 100)
		RETURNING id
	`, doctorUser).Scan(&doctorID)
	if err != nil {
		t.Fatalf("insert doctor: %v", err)
	}

	return &pgFixture{
		pool:      pool,
		repo:      NewPgRepository(pool),
		slots:     availability.NewPgRepository(pool),
		doctorID:  doctorID,
		patientID: insertUser("patient"),
		day:       time.Date(2031, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *pgFixture) publish(t *testing.T, hours ...int) []availability.Slot {
	t.Helper()
	ranges := make([]availability.SlotRange, 0, len(hours))
	for _, h := range hours {
		start := f.day.Add(time.Duration(h) * time.Hour)
		ranges = append(ranges, availability.SlotRange{Start: start, End: start.Add(availability.DefaultSlotLength)})
	}
	slots, err := f.slots.CreateSlots(context.Background(), f.doctorID, time.UTC, ranges)
	if err != nil {
		t.Fatalf("create slots: %v", err)
	}
	return slots
}

func (f *pgFixture) appointmentFor(slot availability.Slot) *Appointment {
	return &Appointment{
		PatientID:       f.patientID,
		DoctorID:        f.doctorID,
		AppointmentDate: slot.StartTime,
		DurationMinutes: 30,
		Type:            TypeInPerson,
		Reason:          "checkup",
	}
}

func (f *pgFixture) slot(t *testing.T, id uuid.UUID) availability.Slot {
	t.Helper()
	s, err := availability.ScanSlot(f.pool.QueryRow(context.Background(), `
		SELECT `+availability.SlotColumns+` FROM availability_slots WHERE id = $1
	`, id))
	if err != nil {
		t.Fatalf("load slot: %v", err)
	}
	return *s
}

func TestPgRepository_BookSlotConcurrentExactlyOneWins(t *testing.T) {
	f := newPgFixture(t)
	slot := f.publish(t, 10)[0]

	const attempts = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*Appointment
		taken   int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			appt, err := f.repo.BookSlot(context.Background(), slot.ID, f.appointmentFor(slot))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, appt)
			case errors.Is(err, ErrSlotTaken):
				taken++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if len(winners) != 1 || taken != attempts-1 {
		t.Fatalf("winners=%d taken=%d, want 1 and %d", len(winners), taken, attempts-1)
	}

	var rows int
	if err := f.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM appointments WHERE doctor_id = $1`, f.doctorID).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Errorf("appointments rows = %d, want 1 (losers must roll back their insert)", rows)
	}

	got := f.slot(t, slot.ID)
	if !got.IsBooked || got.AppointmentID == nil || *got.AppointmentID != winners[0].ID {
		t.Errorf("slot = %+v, want booked by %s", got, winners[0].ID)
	}
}

func TestPgRepository_CancelReleasesSlotForRebooking(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()
	slot := f.publish(t, 11)[0]

	first, err := f.repo.BookSlot(ctx, slot.ID, f.appointmentFor(slot))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if first.Status != StatusScheduled || first.PaymentStatus != PaymentPending {
		t.Errorf("created = %s/%s, want scheduled/pending", first.Status, first.PaymentStatus)
	}

	cancelled, released, err := f.repo.Cancel(ctx, first.ID, StatusScheduled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || !released {
		t.Errorf("cancel = %s released=%v, want cancelled and released", cancelled.Status, released)
	}
	if got := f.slot(t, slot.ID); got.IsBooked || got.AppointmentID != nil {
		t.Errorf("slot after cancel = %+v, want free", got)
	}

	// a second cancel from the old status loses the conditional update
	if _, _, err := f.repo.Cancel(ctx, first.ID, StatusScheduled); !errors.Is(err, ErrStatusChanged) {
		t.Errorf("second cancel err = %v, want ErrStatusChanged", err)
	}

	second, err := f.repo.BookSlot(ctx, slot.ID, f.appointmentFor(slot))
	if err != nil {
		t.Fatalf("rebook: %v", err)
	}
	if got := f.slot(t, slot.ID); got.AppointmentID == nil || *got.AppointmentID != second.ID {
		t.Errorf("slot after rebook = %+v, want bound to %s", got, second.ID)
	}
}

func TestPgRepository_CancelWithoutBoundSlot(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()

	var id uuid.UUID
	err := f.pool.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, appointment_date, duration_minutes)
		VALUES ($1, $2, $3, 30)
		RETURNING id
	`, f.patientID, f.doctorID, f.day.Add(12*time.Hour)).Scan(&id)
	if err != nil {
		t.Fatalf("insert appointment: %v", err)
	}

	appt, released, err := f.repo.Cancel(ctx, id, StatusScheduled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if appt.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", appt.Status)
	}
	if released {
		t.Error("released = true, want false when no slot references the appointment")
	}
}

func TestPgRepository_BookSlotOfAnotherDoctorIsTaken(t *testing.T) {
	f := newPgFixture(t)
	slot := f.publish(t, 13)[0]

	appt := f.appointmentFor(slot)
	appt.DoctorID = uuid.New()
	if _, err := f.repo.BookSlot(context.Background(), slot.ID, appt); !errors.Is(err, ErrSlotTaken) {
		t.Errorf("err = %v, want ErrSlotTaken", err)
	}
	if got := f.slot(t, slot.ID); got.IsBooked {
		t.Error("slot was bound by a rejected booking")
	}
}

func TestPgRepository_ListDoctorSlotsOrderedWithinDay(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()

	f.publish(t, 15, 9, 12)
	f.publish(t, 24+9) // next day

	for name, list := range map[string]func() ([]availability.Slot, error){
		"availability": func() ([]availability.Slot, error) { return f.slots.ListByDoctorDay(ctx, f.doctorID, f.day) },
		"appointment":  func() ([]availability.Slot, error) { return f.repo.ListDoctorSlots(ctx, f.doctorID, f.day) },
	} {
		t.Run(name, func(t *testing.T) {
			slots, err := list()
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(slots) != 3 {
				t.Fatalf("got %d slots, want 3 on the requested day", len(slots))
			}
			for i, h := range []int{9, 12, 15} {
				if want := f.day.Add(time.Duration(h) * time.Hour); !slots[i].StartTime.Equal(want) {
					t.Errorf("slot %d starts %v, want %v", i, slots[i].StartTime, want)
				}
			}
		})
	}
}
