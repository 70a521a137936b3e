package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/auth"
	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/doctor"
)

type handlers struct {
	deps RouterDeps
}

func (h *handlers) searchDoctors(w http.ResponseWriter, r *http.Request) {
	f, err := parseSearchFilter(r.URL.Query(), h.deps.Slots)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	doctors, err := h.deps.Doctors.Search(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(doctors))
}

func (h *handlers) topRatedDoctors(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query(), errs: apperr.NewValidationError()}
	limit := q.int("limit")
	if err := q.errs.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	doctors, err := h.deps.Doctors.TopRated(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(doctors))
}

func (h *handlers) nearbyDoctors(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query(), errs: apperr.NewValidationError()}
	lat, lng := q.float("lat"), q.float("lng")
	radius, limit := q.float("radius"), q.int("limit")
	if lat == nil {
		q.errs.Add("lat", "is required")
	}
	if lng == nil {
		q.errs.Add("lng", "is required")
	}
	if err := q.errs.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var radiusKm float64
	if radius != nil {
		radiusKm = *radius
	}
	doctors, err := h.deps.Doctors.Nearby(r.Context(), *lat, *lng, radiusKm, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(doctors))
}

func (h *handlers) getDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.deps.Doctors.Profile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) listDoctorReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := queryParser{values: r.URL.Query(), errs: apperr.NewValidationError()}
	limit := q.int("limit")
	if err := q.errs.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := h.deps.Doctors.Get(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	reviews, err := h.deps.Reviews.ListForDoctor(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(reviews))
}

// listAvailability answers for one calendar day. An unknown doctor is a
// 404; a known doctor without free slots is an empty list.
func (h *handlers) listAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeServiceError(w, r, apperr.Invalid("date", "is required (YYYY-MM-DD)"))
		return
	}
	day, err := availability.ParseDay(raw, h.deps.Slots.Location())
	if err != nil {
		writeServiceError(w, r, apperr.Invalid("date", "must be YYYY-MM-DD"))
		return
	}
	if _, err := h.deps.Doctors.Get(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	slots, err := h.deps.Slots.ListAvailableSlots(r.Context(), id, day)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *handlers) createDoctor(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)
	var in doctor.ProfileInput
	if !decodeJSON(w, r, &in) {
		return
	}
	d, err := h.deps.Doctors.CreateProfile(r.Context(), caller, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *handlers) updateDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p doctor.ProfilePatch
	if !decodeJSON(w, r, &p) {
		return
	}
	d, err := h.deps.Doctors.UpdateProfile(r.Context(), mustIdentity(r), id, p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) publishSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PublishSlotsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.deps.Doctors.RequireOwner(r.Context(), mustIdentity(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	slots, err := h.deps.Slots.PublishSlots(r.Context(), id, req.Slots)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slots)
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Users.GetByID(r.Context(), mustIdentity(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// parseSearchFilter reads the directory query string. Unknown parameters
// are ignored; present but malformed ones are validation errors.
func parseSearchFilter(values url.Values, slots SlotService) (doctor.SearchFilter, error) {
	q := queryParser{values: values, errs: apperr.NewValidationError()}

	f := doctor.SearchFilter{
		Specialty:  strings.TrimSpace(values.Get("specialty")),
		Location:   strings.TrimSpace(values.Get("location")),
		Name:       strings.TrimSpace(values.Get("name")),
		Language:   strings.TrimSpace(values.Get("language")),
		Insurances: q.list("insurance"),
		Services:   q.list("services"),
		MinRating:  q.float("rating"),
		MaxFee:     q.float("maxFee"),
		Accepting:  q.bool("accepting"),
		Sort:       doctor.SortBy(values.Get("sort")),
		Limit:      q.int("limit"),
		Offset:     q.int("offset"),
	}

	if raw := values.Get("availableOn"); raw != "" {
		day, err := availability.ParseDay(raw, slots.Location())
		if err != nil {
			q.errs.Add("availableOn", "must be YYYY-MM-DD")
		} else {
			f.AvailableOn = &day
		}
	}

	lat, lng := q.float("lat"), q.float("lng")
	switch {
	case lat != nil && lng != nil:
		f.Near = &doctor.GeoPoint{Lat: *lat, Lng: *lng}
		if radius := q.float("radius"); radius != nil {
			f.Near.RadiusKm = *radius
		}
	case lat != nil || lng != nil:
		q.errs.Add("lat", "lat and lng must be given together")
	}

	return f, q.errs.Err()
}

// queryParser collects conversion errors per parameter.
type queryParser struct {
	values url.Values
	errs   *apperr.ValidationError
}

func (q queryParser) int(key string) int {
	raw := q.values.Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		q.errs.Add(key, "must be an integer")
	}
	return n
}

func (q queryParser) float(key string) *float64 {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		q.errs.Add(key, "must be a number")
		return nil
	}
	return &v
}

func (q queryParser) bool(key string) *bool {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		q.errs.Add(key, "must be true or false")
		return nil
	}
	return &v
}

// list accepts repeated keys and comma separated values.
func (q queryParser) list(key string) []string {
	var out []string
	for _, raw := range q.values[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (q queryParser) uuid(key string) *uuid.UUID {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		q.errs.Add(key, "must be a valid UUID")
		return nil
	}
	return &id
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// mustIdentity is only called behind Authenticate.
func mustIdentity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
