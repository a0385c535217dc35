package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meetbook/internal/domain"
	"meetbook/internal/models"
	"meetbook/internal/timezone"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// settingsBackend stores the settings and the bookings that must follow an
// organizer zone change.
type settingsBackend interface {
	domain.SettingsStore
	domain.BookingStore
}

// SettingsService owns the organizer configuration. Reads are never cached
// so every caller sees the latest saved settings.
type SettingsService struct {
	store       settingsBackend
	conv        *timezone.Converter
	defaultZone string
	catalog     []models.MeetingTypeOption
	validate    *validator.Validate
	initMu      sync.Mutex
	logger      *zerolog.Logger
}

var _ domain.SettingsProvider = (*SettingsService)(nil)

func NewSettingsService(
	store settingsBackend,
	conv *timezone.Converter,
	defaultZone string,
	catalog []models.MeetingTypeOption,
	logger *zerolog.Logger,
) *SettingsService {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "settings").Logger()
	}
	if defaultZone == "" {
		defaultZone = models.DefaultOrganizerTimezone
	}
	if len(catalog) == 0 {
		catalog = models.DefaultMeetingTypes()
	}
	return &SettingsService{
		store:       store,
		conv:        conv,
		defaultZone: defaultZone,
		catalog:     catalog,
		validate:    newValidator(),
		logger:      &base,
	}
}

// Get returns the current settings, creating and persisting the defaults
// on first read.
func (s *SettingsService) Get(ctx context.Context) (models.BookingSettings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err == nil {
		return *settings, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return models.BookingSettings{}, err
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	// Другой вызов мог уже создать настройки
	if settings, err := s.store.GetSettings(ctx); err == nil {
		return *settings, nil
	}

	defaults := models.DefaultBookingSettings(s.defaultZone)
	defaults.OffsetHoursHint = s.conv.ZoneOffsetHours(defaults.Timezone)
	if err := s.store.SaveSettings(ctx, &defaults); err != nil {
		return models.BookingSettings{}, err
	}
	s.logger.Info().Str("timezone", defaults.Timezone).Msg("Default booking settings created")
	return defaults, nil
}

// Update validates and replaces the settings wholesale (last writer wins).
// When the organizer zone changes, stored bookings are rewritten into the
// new zone so slot keys keep comparing like with like.
func (s *SettingsService) Update(ctx context.Context, settings models.BookingSettings) (models.BookingSettings, error) {
	if err := validateStruct(s.validate, settings); err != nil {
		return models.BookingSettings{}, err
	}
	if _, err := s.conv.Location(settings.Timezone); err != nil {
		return models.BookingSettings{}, &domain.ValidationError{Fields: map[string]string{"timezone": "unknown timezone"}}
	}

	settings = settings.Clone()
	if settings.BlockedDates == nil {
		settings.BlockedDates = []string{}
	}
	settings.OffsetHoursHint = s.conv.ZoneOffsetHours(settings.Timezone)

	previous, err := s.store.GetSettings(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return models.BookingSettings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := s.store.SaveSettings(ctx, &settings); err != nil {
		return models.BookingSettings{}, fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info().
		Str("timezone", settings.Timezone).
		Int("slot_minutes", settings.SlotDurationMinutes).
		Msg("Booking settings updated")

	if previous != nil && previous.Timezone != settings.Timezone {
		if err := s.moveBookings(ctx, settings.Timezone); err != nil {
			return settings, err
		}
	}
	return settings, nil
}

// moveBookings rewrites every booking not yet stored in zone. A booking
// that cannot be moved is logged and left as is; the slot generator still
// places it by converting on read.
func (s *SettingsService) moveBookings(ctx context.Context, zone string) error {
	bookings, err := s.store.ListBookings(ctx, models.BookingFilter{})
	if err != nil {
		return fmt.Errorf("list bookings for zone change: %w", err)
	}

	moved, failed := 0, 0
	for _, b := range bookings {
		if b.Timezone == zone {
			continue
		}
		next := b.Clone()
		next.ScheduledDate, next.ScheduledTime, err = s.conv.ToZone(b.ScheduledDate, b.ScheduledTime, b.Timezone, zone)
		if err == nil {
			next.Timezone = zone
			err = s.store.UpdateBooking(ctx, next, b.Version)
		}
		if err != nil {
			failed++
			s.logger.Warn().Err(err).
				Str("booking_id", b.ID).
				Str("from_zone", b.Timezone).
				Msg("Booking kept in previous zone")
			continue
		}
		moved++
	}

	s.logger.Info().
		Str("timezone", zone).
		Int("moved", moved).
		Int("failed", failed).
		Msg("Bookings moved to new organizer zone")
	return nil
}

// MeetingTypes returns the meeting type catalog.
func (s *SettingsService) MeetingTypes() []models.MeetingTypeOption {
	return append([]models.MeetingTypeOption(nil), s.catalog...)
}
