package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meetbook/internal/availability"
	"meetbook/internal/config"
	"meetbook/internal/domain"
	"meetbook/internal/export"
	"meetbook/internal/models"
	"meetbook/internal/slots"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// BookingLedger is the booking side the handlers drive.
type BookingLedger interface {
	Create(ctx context.Context, draft models.BookingDraft) (*models.Booking, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	Stats(ctx context.Context) (models.BookingStats, error)
	Update(ctx context.Context, id string, patch models.BookingPatch) (*models.Booking, error)
	Delete(ctx context.Context, id string) error
	Approve(ctx context.Context, id string) (*models.Booking, error)
	Cancel(ctx context.Context, id string) (*models.Booking, error)
	Complete(ctx context.Context, id string) (*models.Booking, error)
	Forward(ctx context.Context, id string, req models.ForwardRequest) (*models.Booking, error)
}

type SettingsManager interface {
	Get(ctx context.Context) (models.BookingSettings, error)
	Update(ctx context.Context, settings models.BookingSettings) (models.BookingSettings, error)
	MeetingTypes() []models.MeetingTypeOption
}

type SlotSource interface {
	Slots(ctx context.Context, req slots.Request) ([]models.TimeSlot, error)
	Dates(ctx context.Context, zone string, limit int) ([]availability.ConvertedWindow, error)
}

// OpsStore is the part of the store the handlers read directly.
type OpsStore interface {
	Pinger
	GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error)
}

// Handler serves the booking API on top of the services.
type Handler struct {
	ledger        BookingLedger
	settings      SettingsManager
	slotSource    SlotSource
	store         OpsStore
	limiter       domain.RateLimiter
	limits        config.APIRateLimitConfig
	upcomingDates int
	now           func() time.Time
	logger        *zerolog.Logger
}

func NewHandler(
	ledger BookingLedger,
	settings SettingsManager,
	slotSource SlotSource,
	store OpsStore,
	limiter domain.RateLimiter,
	limits config.APIRateLimitConfig,
	upcomingDates int,
	logger *zerolog.Logger,
) *Handler {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "api").Logger()
	}
	if upcomingDates <= 0 {
		upcomingDates = models.DefaultUpcomingDates
	}
	return &Handler{
		ledger:        ledger,
		settings:      settings,
		slotSource:    slotSource,
		store:         store,
		limiter:       limiter,
		limits:        limits,
		upcomingDates: upcomingDates,
		now:           time.Now,
		logger:        &base,
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// failedNotifications lists tasks that exhausted their retries.
func (h *Handler) failedNotifications(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.GetFailedNotificationTasks(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) meetingTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"meeting_types": h.settings.MeetingTypes()})
}

func (h *Handler) dates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), h.upcomingDates)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dates, err := h.slotSource.Dates(r.Context(), q.Get("timezone"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

func (h *Handler) slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := slots.Request{
		From:               q.Get("from"),
		To:                 q.Get("to"),
		Timezone:           q.Get("timezone"),
		MeetingType:        q.Get("meeting_type"),
		IncludeUnavailable: q.Get("include_unavailable") == "true",
	}
	if date := q.Get("date"); date != "" {
		req.From, req.To = date, date
	}

	var err error
	if req.DurationMinutes, err = intParam(q.Get("duration"), 0); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if raw := q.Get("buffer"); raw != "" {
		buffer, err := intParam(raw, 0)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		req.BufferMinutes = &buffer
	}

	result, err := h.slotSource.Slots(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timezone": req.Timezone, "slots": result})
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	if !h.allowBooking(w, r) {
		return
	}

	var draft models.BookingDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	booking, err := h.ledger.Create(r.Context(), draft)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// allowBooking applies the per-address submission limit. A limiter
// failure lets the request through.
func (h *Handler) allowBooking(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil || h.limits.BookingsPerWindow <= 0 {
		return true
	}
	ok, err := h.limiter.Allow(r.Context(), "booking:"+remoteHost(r), h.limits.BookingsPerWindow, h.limits.Window)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Booking rate limiter failed, allowing request")
		return true
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, "too many booking requests, try again later")
		return false
	}
	return true
}

func (h *Handler) listBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bookings, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) exportBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bookings, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	now := h.now()
	title := fmt.Sprintf("Bookings (%s) exported %s", exportScope(filter), now.UTC().Format("2006-01-02 15:04 MST"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(now)))
	if err := export.WriteXLSX(w, title, bookings); err != nil {
		h.logger.Error().Err(err).Msg("Export failed")
	}
}

func exportScope(f models.BookingFilter) string {
	if f.Status == "" {
		return models.FilterAll
	}
	return f.Status
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) updateBooking(w http.ResponseWriter, r *http.Request) {
	var patch models.BookingPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.respondBooking(w, r)(h.ledger.Update(r.Context(), chi.URLParam(r, "id"), patch))
}

func (h *Handler) deleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.respondBooking(w, r)(h.ledger.Approve(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.respondBooking(w, r)(h.ledger.Cancel(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.respondBooking(w, r)(h.ledger.Complete(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request) {
	var req models.ForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.respondBooking(w, r)(h.ledger.Forward(r.Context(), chi.URLParam(r, "id"), req))
}

func (h *Handler) respondBooking(w http.ResponseWriter, r *http.Request) func(*models.Booking, error) {
	return func(b *models.Booking, err error) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.BookingSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	saved, err := h.settings.Update(r.Context(), settings)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func parseFilter(r *http.Request) (models.BookingFilter, error) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		return models.BookingFilter{}, err
	}
	return models.BookingFilter{
		Status: strings.ToLower(strings.TrimSpace(q.Get("status"))),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Limit:  limit,
	}, nil
}

func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.InvalidInput("expected a non-negative integer, got %q", raw)
	}
	return n, nil
}
