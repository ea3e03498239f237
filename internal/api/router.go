package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Availability AvailabilityService
	Intake       BookingIntake
	Appointments AppointmentCreator
	Invites      InviteConsumer
	Tokens       AnonymousIssuer
	// Authenticate attaches the bearer caller to the request context.
	Authenticate   func(http.Handler) http.Handler
	Checks         []DependencyCheck
	Logger         zerolog.Logger
	RequestTimeout time.Duration
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{
		availability: cfg.Availability,
		intake:       cfg.Intake,
		appointments: cfg.Appointments,
		invites:      cfg.Invites,
		tokens:       cfg.Tokens,
		validate:     newRequestValidator(),
		now:          time.Now,
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		if cfg.Authenticate != nil {
			r.Use(cfg.Authenticate)
		}

		r.Get("/availability", h.getAvailability)
		r.Post("/auth/anonymous", h.issueAnonymousToken)

		r.Post("/bookings", h.submitBooking)
		r.Get("/bookings/{id}", h.getBooking)

		r.Post("/appointments", h.createAppointment)
		r.Post("/intake/consume", h.consumeIntake)
	})

	return r
}
