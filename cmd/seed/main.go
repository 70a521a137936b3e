package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/db"
	"github.com/hackgods/medibook/internal/logger"
	"github.com/hackgods/medibook/internal/user"
)

var (
	specialties = []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	languages  = []string{"English", "Spanish", "French", "German", "Hindi", "Mandarin", "Arabic"}
	insurances = []string{"aetna", "cigna", "bupa", "unitedhealth", "humana", "kaiser", "medicare"}
	services   = []string{"consultation", "follow-up", "vaccination", "lab tests", "telehealth", "minor surgery", "screening"}
)

type seedConfig struct {
	dsn      string
	doctors  int
	patients int
	days     int
	password string
	loc      *time.Location

	// clinics are scattered around this point
	centerLat, centerLng float64
}

func main() {
	_ = godotenv.Load()
	log := logger.SetupDefault(os.Stdout, os.Getenv("LOG_LEVEL"))

	cfg, err := loadSeedConfig()
	if err != nil {
		log.Error("invalid seed config", "error", err)
		os.Exit(1)
	}
	log.Info("seed starting", "doctors", cfg.doctors, "patients", cfg.patients, "days", cfg.days)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.dsn)
	if err != nil {
		log.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("hash password", "error", err)
		os.Exit(1)
	}

	run := context.Background()

	adminID, err := insertUser(run, pool, "admin@medibook.local", string(hash), "Clinic", "Admin", user.RoleAdmin)
	if err != nil {
		log.Error("seed admin", "error", err)
		os.Exit(1)
	}
	log.Info("admin seeded", "user_id", adminID, "email", "admin@medibook.local")

	doctorIDs, err := seedDoctors(run, log, pool, cfg, string(hash))
	if err != nil {
		log.Error("seed doctors", "error", err)
		os.Exit(1)
	}
	if err := seedPatients(run, log, pool, cfg.patients, string(hash)); err != nil {
		log.Error("seed patients", "error", err)
		os.Exit(1)
	}
	n, err := seedSlots(run, pool, doctorIDs, cfg)
	if err != nil {
		log.Error("seed slots", "error", err)
		os.Exit(1)
	}
	log.Info("slots seeded", "count", n)

	log.Info("seed complete")
}

func loadSeedConfig() (seedConfig, error) {
	cfg := seedConfig{
		dsn:       os.Getenv("POSTGRES_DSN"),
		doctors:   envInt("SEED_DOCTORS", 50),
		patients:  envInt("SEED_PATIENTS", 500),
		days:      envInt("SEED_DAYS", 14),
		password:  os.Getenv("SEED_PASSWORD"),
		centerLat: 40.7128,
		centerLng: -74.0060,
	}
	if cfg.dsn == "" {
		return cfg, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.password == "" {
		cfg.password = "medibook-demo"
	}

	tz := os.Getenv("CLINIC_TIMEZONE")
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return cfg, fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	cfg.loc = loc
	return cfg, nil
}

func insertUser(ctx context.Context, q db.Querier, email, hash, first, last string, role user.Role) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, phone, role, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		ON CONFLICT (email) DO UPDATE SET updated_at = now()
		RETURNING id
	`, email, hash, first, last, gofakeit.Phone(), string(role)).Scan(&id)
	return id, err
}

func seedDoctors(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, cfg seedConfig, hash string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, cfg.doctors)

	err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < cfg.doctors; i++ {
			first, last := gofakeit.FirstName(), gofakeit.LastName()
			email := fmt.Sprintf("doctor%03d@medibook.local", i)

			userID, err := insertUser(ctx, tx, email, hash, first, last, user.RoleDoctor)
			if err != nil {
				return fmt.Errorf("insert doctor user: %w", err)
			}

			lat := cfg.centerLat + gofakeit.Float64Range(-0.15, 0.15)
			lng := cfg.centerLng + gofakeit.Float64Range(-0.15, 0.15)
			specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

			var id uuid.UUID
			err = tx.QueryRow(ctx, `
				INSERT INTO doctors (
					user_id, specialty, license_number, experience_years, education, languages, bio,
					clinic_name, clinic_address, latitude, longitude, consultation_fee,
					is_accepting_patients, services_offered, insurances_accepted
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
				ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
				RETURNING id
			`,
				userID,
				specialty,
				fmt.Sprintf("LIC-%06d", gofakeit.Number(0, 999999)),
				gofakeit.Number(1, 35),
				"MD, "+gofakeit.City()+" School of Medicine",
				pick(languages, 1, 3),
				fmt.Sprintf("%s %s, %s specialist.", first, last, strings.ToLower(specialty)),
				gofakeit.Company()+" Clinic",
				gofakeit.Street()+", "+gofakeit.City(),
				lat,
				lng,
				float64(gofakeit.Number(6, 40))*5,
				gofakeit.Number(0, 9) > 0,
				pick(services, 2, 4),
				pick(insurances, 1, 4),
			).Scan(&id)
			if err != nil {
				return fmt.Errorf("insert doctor: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("doctors seeded", "count", len(ids))
	return ids, nil
}

func seedPatients(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, count int, hash string) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				email := fmt.Sprintf("patient%05d@medibook.local", i)
				if _, err := insertUser(ctx, tx, email, hash, gofakeit.FirstName(), gofakeit.LastName(), user.RolePatient); err != nil {
					return fmt.Errorf("insert patient: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info("patients seeded", "done", end, "total", count)
	}
	return nil
}

// seedSlots publishes 30 minute slots from 09:00 to 17:00 on weekdays,
// starting tomorrow in the clinic's timezone.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, cfg seedConfig) (int64, error) {
	tomorrow := availability.DayOf(time.Now(), cfg.loc).AddDate(0, 0, 1)

	var rows [][]any
	for _, doctorID := range doctorIDs {
		for d := 0; d < cfg.days; d++ {
			day := tomorrow.AddDate(0, 0, d)
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
			open := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, cfg.loc)
			closing := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, cfg.loc)
			for start := open; start.Before(closing); start = start.Add(availability.DefaultSlotLength) {
				rows = append(rows, []any{
					doctorID,
					date,
					start,
					start.Add(availability.DefaultSlotLength),
				})
			}
		}
	}

	return pool.CopyFrom(ctx,
		pgx.Identifier{"availability_slots"},
		[]string{"doctor_id", "slot_date", "start_time", "end_time"},
		pgx.CopyFromRows(rows),
	)
}

func pick(from []string, lo, hi int) []string {
	n := gofakeit.Number(lo, hi)
	shuffled := append([]string(nil), from...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := gofakeit.Number(0, i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
