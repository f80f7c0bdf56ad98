package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medanta-hms/opd-queue-core/internal/booking"
	"github.com/medanta-hms/opd-queue-core/internal/calendar"
	"github.com/medanta-hms/opd-queue-core/internal/identity"
)

type Handlers struct {
	bookings  *booking.Service
	policy    *calendar.Policy
	registrar *identity.Registrar
}

func NewHandlers(bookings *booking.Service, policy *calendar.Policy, registrar *identity.Registrar) *Handlers {
	return &Handlers{
		bookings:  bookings,
		policy:    policy,
		registrar: registrar,
	}
}

func parseDate(s string) (time.Time, bool) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func parseCategory(s string) (booking.Category, bool) {
	c := booking.Category(s)
	return c, c.Valid()
}

func parseOptionalServiceID(s *string) (*uuid.UUID, bool) {
	if s == nil || *s == "" {
		return nil, true
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, false
	}
	return &id, true
}

func (h *Handlers) registerPatient(w http.ResponseWriter, r *http.Request) {
	var req RegisterPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "name is required")
		return
	}

	p, err := h.registrar.Register(r.Context(), req.Name, req.Phone)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, PatientResponse{
		ID:          p.ID,
		PatientCode: p.PatientCode,
		Name:        p.Name,
		Phone:       p.Phone,
		LastLoginAt: p.LastLoginAt,
		CreatedAt:   p.CreatedAt,
	})
}

func (h *Handlers) bookableDates(w http.ResponseWriter, r *http.Request) {
	category, ok := parseCategory(r.URL.Query().Get("category"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_category", "category must be general or specialty")
		return
	}
	svcParam := r.URL.Query().Get("service_id")
	serviceID, ok := parseOptionalServiceID(&svcParam)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
		return
	}

	dates, err := h.policy.BookableDates(r.Context(), category, serviceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format("2006-01-02"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": out})
}

func (h *Handlers) availability(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDate(r.URL.Query().Get("date"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	category, ok := parseCategory(r.URL.Query().Get("category"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_category", "category must be general or specialty")
		return
	}
	svcParam := r.URL.Query().Get("service_id")
	serviceID, ok := parseOptionalServiceID(&svcParam)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
		return
	}

	avail, err := h.policy.Availability(r.Context(), date, category, serviceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]AvailabilityEntry, 0, len(avail))
	for _, a := range avail {
		out = append(out, toAvailabilityEntry(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  date.Format("2006-01-02"),
		"slots": out,
	})
}

func (h *Handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_template_id", "template_id must be a valid UUID")
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	category, ok := parseCategory(req.Category)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_category", "category must be general or specialty")
		return
	}
	serviceID, ok := parseOptionalServiceID(req.ServiceID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
		return
	}

	b, err := h.bookings.Allocate(r.Context(), booking.AllocateParams{
		PatientID:  patientID,
		Category:   category,
		ServiceID:  serviceID,
		Date:       date,
		TemplateID: templateID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *Handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return
	}

	b, err := h.bookings.GetBooking(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return
	}

	var req CancelBookingRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	b, err := h.bookings.Cancel(r.Context(), id, actorFromRequest(r), req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handlers) transitionBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return
	}

	var req TransitionBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	b, err := h.bookings.Transition(r.Context(), id, actorFromRequest(r), booking.Status(req.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handlers) listPatientBookings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.bookings.ListBookingsByPatient(r.Context(), id, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]BookingResponse, 0, len(list))
	for i := range list {
		out = append(out, toBookingResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

func (h *Handlers) dayStats(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDate(r.URL.Query().Get("date"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	counts, err := h.bookings.StatusSummary(r.Context(), date)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make(map[string]int, len(counts))
	for s, n := range counts {
		out[string(s)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":   date.Format("2006-01-02"),
		"counts": out,
	})
}

func (h *Handlers) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	tmpl, err := h.bookings.CreateTemplate(r.Context(), actorFromRequest(r), booking.TemplateInput{
		Category:  booking.Category(req.Category),
		ServiceID: req.ServiceID,
		Weekday:   req.Weekday,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Capacity:  req.Capacity,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(tmpl))
}

func (h *Handlers) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var req UpdateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	tmpl, err := h.bookings.UpdateTemplate(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"), booking.TemplateUpdate{
		Weekday:   req.Weekday,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Capacity:  req.Capacity,
		Active:    req.Active,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(tmpl))
}

func (h *Handlers) blockDate(w http.ResponseWriter, r *http.Request) {
	var req BlockDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	bd, err := h.bookings.BlockDate(r.Context(), actorFromRequest(r), date, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"date":   bd.Date.Format("2006-01-02"),
		"reason": bd.Reason,
	})
}

func (h *Handlers) unblockDate(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDate(chi.URLParam(r, "date"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	if err := h.bookings.UnblockDate(r.Context(), actorFromRequest(r), date); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
