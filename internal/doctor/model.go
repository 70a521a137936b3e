package doctor

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/review"
	"github.com/hackgods/medibook/internal/user"
)

// Doctor is a practitioner profile. Rating and ReviewCount are maintained by
// the review aggregator and never set through profile edits.
type Doctor struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"userId"`
	Specialty            string          `json:"specialty"`
	LicenseNumber        string          `json:"licenseNumber"`
	ExperienceYears      int             `json:"experience"`
	Education            string          `json:"education"`
	Languages            []string        `json:"languages"`
	Bio                  string          `json:"bio"`
	ClinicName           string          `json:"clinicName"`
	ClinicAddress        string          `json:"clinicAddress"`
	Latitude             *float64        `json:"latitude,omitempty"`
	Longitude            *float64        `json:"longitude,omitempty"`
	ConsultationFee      float64         `json:"consultationFee"`
	Rating               float64         `json:"rating"`
	ReviewCount          int             `json:"reviewCount"`
	IsAcceptingPatients  bool            `json:"isAcceptingPatients"`
	ServicesOffered      []string        `json:"servicesOffered"`
	InsurancesAccepted   []string        `json:"insurancesAccepted"`
	AvailabilitySchedule json.RawMessage `json:"availabilitySchedule,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// DoctorWithUser is a doctor joined with the owning account.
type DoctorWithUser struct {
	Doctor
	User       user.User `json:"user"`
	DistanceKm *float64  `json:"distanceKm,omitempty"`
}

// Profile is the detail view: the doctor plus recent reviews and the open
// slots of the current clinic day.
type Profile struct {
	DoctorWithUser
	Reviews        []review.Review     `json:"reviews"`
	AvailableSlots []availability.Slot `json:"availabilitySlots"`
}

// ProfileInput carries profile fields for create. Zero-value slices become empty arrays.
type ProfileInput struct {
	UserID               uuid.UUID       `json:"userId"`
	Specialty            string          `json:"specialty"`
	LicenseNumber        string          `json:"licenseNumber"`
	ExperienceYears      int             `json:"experience"`
	Education            string          `json:"education"`
	Languages            []string        `json:"languages"`
	Bio                  string          `json:"bio"`
	ClinicName           string          `json:"clinicName"`
	ClinicAddress        string          `json:"clinicAddress"`
	Latitude             *float64        `json:"latitude"`
	Longitude            *float64        `json:"longitude"`
	ConsultationFee      float64         `json:"consultationFee"`
	IsAcceptingPatients  *bool           `json:"isAcceptingPatients"`
	ServicesOffered      []string        `json:"servicesOffered"`
	InsurancesAccepted   []string        `json:"insurancesAccepted"`
	AvailabilitySchedule json.RawMessage `json:"availabilitySchedule"`
}

// ProfilePatch carries the fields an edit may change. Nil means unchanged.
type ProfilePatch struct {
	Specialty            *string          `json:"specialty"`
	LicenseNumber        *string          `json:"licenseNumber"`
	ExperienceYears      *int             `json:"experience"`
	Education            *string          `json:"education"`
	Languages            *[]string        `json:"languages"`
	Bio                  *string          `json:"bio"`
	ClinicName           *string          `json:"clinicName"`
	ClinicAddress        *string          `json:"clinicAddress"`
	Latitude             *float64         `json:"latitude"`
	Longitude            *float64         `json:"longitude"`
	ConsultationFee      *float64         `json:"consultationFee"`
	IsAcceptingPatients  *bool            `json:"isAcceptingPatients"`
	ServicesOffered      *[]string        `json:"servicesOffered"`
	InsurancesAccepted   *[]string        `json:"insurancesAccepted"`
	AvailabilitySchedule *json.RawMessage `json:"availabilitySchedule"`
}

func (p ProfilePatch) Empty() bool {
	return p.Specialty == nil && p.LicenseNumber == nil && p.ExperienceYears == nil &&
		p.Education == nil && p.Languages == nil && p.Bio == nil && p.ClinicName == nil &&
		p.ClinicAddress == nil && p.Latitude == nil && p.Longitude == nil &&
		p.ConsultationFee == nil && p.IsAcceptingPatients == nil && p.ServicesOffered == nil &&
		p.InsurancesAccepted == nil && p.AvailabilitySchedule == nil
}
