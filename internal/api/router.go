package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/medanta-hms/opd-queue-core/internal/booking"
	"github.com/medanta-hms/opd-queue-core/internal/calendar"
	"github.com/medanta-hms/opd-queue-core/internal/identity"
	"github.com/medanta-hms/opd-queue-core/pkg/logging"
)

type RouterConfig struct {
	Bookings  *booking.Service
	Policy    *calendar.Policy
	Registrar *identity.Registrar
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    *logging.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	h := NewHandlers(cfg.Bookings, cfg.Policy, cfg.Registrar)

	r.Post("/patients", h.registerPatient)
	r.Get("/patients/{id}/bookings", h.listPatientBookings)

	r.Get("/dates", h.bookableDates)
	r.Get("/availability", h.availability)
	r.Get("/stats", h.dayStats)

	r.Post("/bookings", h.createBooking)
	r.Get("/bookings/{id}", h.getBooking)
	r.Post("/bookings/{id}/cancel", h.cancelBooking)
	r.Post("/bookings/{id}/transition", h.transitionBooking)

	r.Post("/templates", h.createTemplate)
	r.Patch("/templates/{id}", h.updateTemplate)
	r.Post("/blocked-dates", h.blockDate)
	r.Delete("/blocked-dates/{date}", h.unblockDate)

	return r
}
