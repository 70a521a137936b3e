// Package doctor is the doctor directory: profile management and search.
package doctor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/auth"
	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/review"
	"github.com/hackgods/medibook/internal/user"
)

var ErrNotProfileOwner = fmt.Errorf("only the profile owner or an admin may do this: %w", apperr.ErrForbidden)

type ReviewLister interface {
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit int) ([]review.Review, error)
}

type SlotLister interface {
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]availability.Slot, error)
}

type Service struct {
	repo    Repository
	reviews ReviewLister
	slots   SlotLister
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(repo Repository, reviews ReviewLister, slots SlotLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, reviews: reviews, slots: slots, logger: logger, now: time.Now}
}

func (s *Service) Search(ctx context.Context, f SearchFilter) ([]DoctorWithUser, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	doctors, err := s.repo.Search(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("search doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) TopRated(ctx context.Context, limit int) ([]DoctorWithUser, error) {
	if limit <= 0 {
		limit = defaultTopRated
	}
	return s.Search(ctx, SearchFilter{Sort: SortRating, Limit: limit})
}

// Nearby lists doctors within radiusKm of (lat, lng), closest first.
// A zero radius means DefaultRadiusKm.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]DoctorWithUser, error) {
	return s.Search(ctx, SearchFilter{
		Near:  &GeoPoint{Lat: lat, Lng: lng, RadiusKm: radiusKm},
		Sort:  SortDistance,
		Limit: limit,
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*DoctorWithUser, error) {
	return s.repo.GetByID(ctx, id)
}

// Profile assembles the detail view. Reviews and slots are looked up through
// their own services rather than joined into one result set.
func (s *Service) Profile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	dw, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		reviews []review.Review
		slots   []availability.Slot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if reviews, err = s.reviews.ListForDoctor(gctx, id, defaultReviewCap); err != nil {
			return fmt.Errorf("load reviews: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if slots, err = s.slots.ListAvailableSlots(gctx, id, s.now()); err != nil {
			return fmt.Errorf("load slots: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Profile{DoctorWithUser: *dw, Reviews: reviews, AvailableSlots: slots}, nil
}

// CreateProfile creates the caller's profile. Admins may create one for any
// doctor account by setting UserID; doctors always create their own.
func (s *Service) CreateProfile(ctx context.Context, caller auth.Identity, in ProfileInput) (*Doctor, error) {
	switch caller.Role {
	case user.RoleDoctor:
		in.UserID = caller.UserID
	case user.RoleAdmin:
		if in.UserID == uuid.Nil {
			in.UserID = caller.UserID
		}
	default:
		return nil, fmt.Errorf("role %s cannot create a doctor profile: %w", caller.Role, apperr.ErrForbidden)
	}

	if err := validateProfile(in); err != nil {
		return nil, err
	}

	d, err := s.repo.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("doctor profile created", "doctor_id", d.ID, "user_id", d.UserID)
	return d, nil
}

func (s *Service) UpdateProfile(ctx context.Context, caller auth.Identity, id uuid.UUID, p ProfilePatch) (*Doctor, error) {
	if _, err := s.RequireOwner(ctx, caller, id); err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, apperr.Invalid("body", "no fields to update")
	}
	if err := validatePatch(p); err != nil {
		return nil, err
	}

	d, err := s.repo.Update(ctx, id, p)
	if err != nil {
		return nil, fmt.Errorf("update doctor: %w", err)
	}
	s.logger.Info("doctor profile updated", "doctor_id", id, "by", caller.UserID)
	return d, nil
}

// RequireOwner loads the doctor and checks that caller owns it or is an admin.
func (s *Service) RequireOwner(ctx context.Context, caller auth.Identity, doctorID uuid.UUID) (*DoctorWithUser, error) {
	dw, err := s.repo.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && dw.UserID != caller.UserID {
		return nil, ErrNotProfileOwner
	}
	return dw, nil
}

func validateProfile(in ProfileInput) error {
	v := apperr.NewValidationError()
	required := map[string]string{
		"specialty":     in.Specialty,
		"licenseNumber": in.LicenseNumber,
		"education":     in.Education,
		"clinicName":    in.ClinicName,
		"clinicAddress": in.ClinicAddress,
	}
	for field, val := range required {
		if strings.TrimSpace(val) == "" {
			v.Add(field, "is required")
		}
	}
	if in.ExperienceYears < 0 {
		v.Add("experience", "must not be negative")
	}
	if in.ConsultationFee < 0 {
		v.Add("consultationFee", "must not be negative")
	}
	checkCoordinates(v, in.Latitude, in.Longitude)
	return v.Err()
}

func validatePatch(p ProfilePatch) error {
	v := apperr.NewValidationError()
	blank := func(field string, val *string) {
		if val != nil && strings.TrimSpace(*val) == "" {
			v.Add(field, "must not be blank")
		}
	}
	blank("specialty", p.Specialty)
	blank("licenseNumber", p.LicenseNumber)
	blank("education", p.Education)
	blank("clinicName", p.ClinicName)
	blank("clinicAddress", p.ClinicAddress)
	if p.ExperienceYears != nil && *p.ExperienceYears < 0 {
		v.Add("experience", "must not be negative")
	}
	if p.ConsultationFee != nil && *p.ConsultationFee < 0 {
		v.Add("consultationFee", "must not be negative")
	}
	checkCoordinates(v, p.Latitude, p.Longitude)
	return v.Err()
}

func checkCoordinates(v *apperr.ValidationError, lat, lng *float64) {
	if lat != nil && (*lat < -90 || *lat > 90) {
		v.Add("latitude", "must be between -90 and 90")
	}
	if lng != nil && (*lng < -180 || *lng > 180) {
		v.Add("longitude", "must be between -180 and 180")
	}
}
