package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/domain"
	"meetbook/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the booking API.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIHTTPConfig, handler http.Handler, logger *zerolog.Logger) *HTTPServer {
	serverLogger := zerolog.Nop()
	if logger != nil {
		serverLogger = logger.With().Str("component", "http").Logger()
	}
	return &HTTPServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
		},
		log: serverLogger,
	}
}

func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// NewRouter wires the public and admin routes.
func NewRouter(h *Handler, auth *HTTPAuth, logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(auth.RateLimit)

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/meeting-types", h.meetingTypes)
		r.Get("/dates", h.dates)
		r.Get("/slots", h.slots)
		r.Post("/bookings", h.createBooking)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require(PermReadBookings))
			r.Get("/bookings", h.listBookings)
			r.Get("/bookings/stats", h.stats)
			r.Get("/bookings/export", h.exportBookings)
			r.Get("/bookings/{id}", h.getBooking)
			r.Get("/notifications/failed", h.failedNotifications)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Require(PermWriteBookings))
			r.Patch("/bookings/{id}", h.updateBooking)
			r.Delete("/bookings/{id}", h.deleteBooking)
			r.Post("/bookings/{id}/approve", h.approve)
			r.Post("/bookings/{id}/cancel", h.cancel)
			r.Post("/bookings/{id}/complete", h.complete)
			r.Post("/bookings/{id}/forward", h.forward)
		})

		r.With(auth.Require(PermReadSettings)).Get("/settings", h.getSettings)
		r.With(auth.Require(PermWriteSettings)).Put("/settings", h.updateSettings)
	})

	return r
}

func loggingMiddleware(logger *zerolog.Logger) func(http.Handler) http.Handler {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.IncHTTP(r.Method + " " + route)

			base.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("route", route).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Hint   string            `json:"hint,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeServiceError maps domain errors onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Code: "invalid_input", Fields: verr.Fields})
	case errors.Is(err, domain.ErrSlotUnavailable):
		writeJSON(w, http.StatusConflict, errorBody{
			Error: "this time slot is no longer available",
			Code:  "slot_unavailable",
			Hint:  "please select another time",
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "booking not found", Code: "not_found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, domain.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, errorBody{Error: "booking was modified concurrently", Code: "concurrent_modification", Hint: "reload and retry"})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_input"})
	case errors.Is(err, domain.ErrPersistenceUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Persistence unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service temporarily unavailable", Code: "unavailable"})
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
