// Package review records patient reviews and keeps each doctor's aggregate
// rating in step with the full review set.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/metrics"
)

const (
	MaxCommentLength = 2000
	DefaultListLimit = 20
	MaxListLimit     = 100

	completedStatus = "completed"
)

var ErrNotYourAppointment = fmt.Errorf("appointment belongs to another patient: %w", apperr.ErrForbidden)

type AddReviewInput struct {
	DoctorID      uuid.UUID
	AppointmentID *uuid.UUID
	Rating        int
	Comment       string
}

type Service struct {
	repo    Repository
	metrics metrics.Recorder
	logger  *slog.Logger
}

func NewService(repo Repository, rec metrics.Recorder, logger *slog.Logger) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, metrics: rec, logger: logger}
}

// AddReview stores a review and recomputes the doctor's rating in the same
// transaction.
func (s *Service) AddReview(ctx context.Context, patientID uuid.UUID, in AddReviewInput) (*Review, error) {
	in.Comment = strings.TrimSpace(in.Comment)

	v := apperr.NewValidationError()
	if in.DoctorID == uuid.Nil {
		v.Add("doctorId", "is required")
	}
	if in.Rating < MinRating || in.Rating > MaxRating {
		v.Add("rating", fmt.Sprintf("must be between %d and %d", MinRating, MaxRating))
	}
	if len(in.Comment) > MaxCommentLength {
		v.Add("comment", fmt.Sprintf("must be at most %d characters", MaxCommentLength))
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if in.AppointmentID != nil {
		if err := s.checkAppointment(ctx, patientID, in.DoctorID, *in.AppointmentID); err != nil {
			return nil, err
		}
	}

	var (
		created *Review
		agg     Aggregate
	)
	err := s.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.LockDoctor(ctx, in.DoctorID); err != nil {
			return err
		}

		rv, err := tx.Insert(ctx, &Review{
			PatientID:     patientID,
			DoctorID:      in.DoctorID,
			AppointmentID: in.AppointmentID,
			Rating:        in.Rating,
			Comment:       in.Comment,
		})
		if err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
		created = rv

		agg, err = recompute(ctx, tx, in.DoctorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ReviewAdded()
	s.logger.Info("review added",
		"review_id", created.ID,
		"doctor_id", in.DoctorID,
		"rating", agg.Rating,
		"review_count", agg.ReviewCount,
	)
	return created, nil
}

// RecomputeRating rebuilds a doctor's aggregate from all of their reviews.
func (s *Service) RecomputeRating(ctx context.Context, doctorID uuid.UUID) (Aggregate, error) {
	var agg Aggregate
	err := s.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.LockDoctor(ctx, doctorID); err != nil {
			return err
		}
		var err error
		agg, err = recompute(ctx, tx, doctorID)
		return err
	})
	return agg, err
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	reviews, err := s.repo.ListByDoctor(ctx, doctorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

func (s *Service) checkAppointment(ctx context.Context, patientID, doctorID, appointmentID uuid.UUID) error {
	ref, err := s.repo.GetAppointmentRef(ctx, appointmentID)
	if err != nil {
		return err
	}
	if ref.PatientID != patientID {
		return ErrNotYourAppointment
	}
	if ref.DoctorID != doctorID {
		return apperr.Invalid("appointmentId", "does not belong to this doctor")
	}
	if ref.Status != completedStatus {
		return apperr.Invalid("appointmentId", "appointment is not completed")
	}
	return nil
}

func recompute(ctx context.Context, tx Repository, doctorID uuid.UUID) (Aggregate, error) {
	ratings, err := tx.ListRatings(ctx, doctorID)
	if err != nil {
		return Aggregate{}, fmt.Errorf("list ratings: %w", err)
	}
	agg := ComputeAggregate(ratings)
	if err := tx.UpdateDoctorAggregate(ctx, doctorID, agg); err != nil {
		return Aggregate{}, fmt.Errorf("update doctor rating: %w", err)
	}
	return agg, nil
}
