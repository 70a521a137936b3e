package doctor

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/availability"
)

const (
	DefaultRadiusKm  = 10.0
	DefaultLimit     = 20
	MaxLimit         = 100
	earthRadiusKm    = 6371.0
	maxRadiusKm      = 20000.0
	defaultTopRated  = 10
	defaultReviewCap = 5
)

type SortBy string

const (
	SortRating   SortBy = "rating"
	SortFee      SortBy = "fee"
	SortDistance SortBy = "distance"
)

// GeoPoint is a query point with a search radius.
type GeoPoint struct {
	Lat      float64
	Lng      float64
	RadiusKm float64
}

// SearchFilter holds optional, conjunctive search criteria. Unset fields
// impose no constraint.
type SearchFilter struct {
	Specialty   string
	Location    string
	Name        string
	Language    string
	Insurances  []string
	Services    []string
	MinRating   *float64
	MaxFee      *float64
	Accepting   *bool
	AvailableOn *time.Time
	Near        *GeoPoint
	Sort        SortBy
	Limit       int
	Offset      int
}

// Validate checks ranges and fills defaults for limit and radius.
func (f *SearchFilter) Validate() error {
	v := apperr.NewValidationError()
	if f.MinRating != nil && (*f.MinRating < 0 || *f.MinRating > 5) {
		v.Add("rating", "must be between 0 and 5")
	}
	if f.MaxFee != nil && *f.MaxFee < 0 {
		v.Add("maxFee", "must not be negative")
	}
	if f.Near != nil {
		if f.Near.Lat < -90 || f.Near.Lat > 90 {
			v.Add("lat", "must be between -90 and 90")
		}
		if f.Near.Lng < -180 || f.Near.Lng > 180 {
			v.Add("lng", "must be between -180 and 180")
		}
		if f.Near.RadiusKm == 0 {
			f.Near.RadiusKm = DefaultRadiusKm
		}
		if f.Near.RadiusKm < 0 || f.Near.RadiusKm > maxRadiusKm {
			v.Add("radius", "must be a positive distance in km")
		}
	}
	switch f.Sort {
	case "", SortRating, SortFee:
	case SortDistance:
		if f.Near == nil {
			v.Add("sort", "distance sort needs lat and lng")
		}
	default:
		v.Add("sort", "must be one of rating, fee, distance")
	}
	if f.Offset < 0 {
		v.Add("offset", "must not be negative")
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return v.Err()
}

// query accumulates predicates and positional arguments.
type query struct {
	conds []string
	args  []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) where(cond string) {
	q.conds = append(q.conds, cond)
}

// build translates the filter into a WHERE clause, a distance expression
// (empty without Near) and an ORDER BY that always ends on d.id.
func (f SearchFilter) build() (q *query, distance, orderBy string) {
	q = &query{}

	if f.Specialty != "" {
		q.where("d.specialty ILIKE " + q.arg(likePattern(f.Specialty)))
	}
	if f.Location != "" {
		p := q.arg(likePattern(f.Location))
		q.where("(d.clinic_address ILIKE " + p + " OR d.clinic_name ILIKE " + p + ")")
	}
	if f.Name != "" {
		q.where("(u.first_name || ' ' || u.last_name) ILIKE " + q.arg(likePattern(f.Name)))
	}
	if f.Language != "" {
		q.where("EXISTS (SELECT 1 FROM unnest(d.languages) l WHERE l ILIKE " + q.arg(f.Language) + ")")
	}
	if len(f.Insurances) > 0 {
		q.where("d.insurances_accepted && " + q.arg(f.Insurances) + "::text[]")
	}
	if len(f.Services) > 0 {
		q.where("d.services_offered && " + q.arg(f.Services) + "::text[]")
	}
	if f.MinRating != nil {
		q.where("d.rating >= " + q.arg(*f.MinRating))
	}
	if f.MaxFee != nil {
		q.where("d.consultation_fee <= " + q.arg(*f.MaxFee))
	}
	if f.Accepting != nil {
		q.where("d.is_accepting_patients = " + q.arg(*f.Accepting))
	}
	if f.AvailableOn != nil {
		q.where(`EXISTS (
			SELECT 1 FROM availability_slots s
			WHERE s.doctor_id = d.id
			  AND s.slot_date = ` + q.arg(f.AvailableOn.Format(availability.DateLayout)) + `::date
			  AND NOT s.is_booked)`)
	}
	if f.Near != nil {
		lat, lng := q.arg(f.Near.Lat), q.arg(f.Near.Lng)
		distance = haversineSQL(lat, lng)
		q.where("d.latitude IS NOT NULL AND d.longitude IS NOT NULL")
		q.where(distance + " <= " + q.arg(f.Near.RadiusKm))
	}

	switch f.Sort {
	case SortFee:
		orderBy = "d.consultation_fee ASC, d.id ASC"
	case SortDistance:
		orderBy = distance + " ASC, d.id ASC"
	default:
		orderBy = "d.rating DESC, d.review_count DESC, d.id ASC"
	}
	return q, distance, orderBy
}

func (q *query) whereClause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(q.conds, "\n  AND ")
}

// haversineSQL is the great-circle distance in km from (lat, lng) to the doctor.
func haversineSQL(lat, lng string) string {
	return fmt.Sprintf(`(%g * 2 * asin(sqrt(
		power(sin(radians(d.latitude - %[2]s::float8) / 2), 2) +
		cos(radians(%[2]s::float8)) * cos(radians(d.latitude)) *
		power(sin(radians(d.longitude - %[3]s::float8) / 2), 2))))`, earthRadiusKm, lat, lng)
}

// likePattern wraps s for a substring ILIKE, escaping pattern metacharacters.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}
