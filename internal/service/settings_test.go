package service

import (
	"context"
	"io"
	"testing"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/models"
	"meetbook/internal/repository"
	"meetbook/internal/timezone"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSettingsService(t *testing.T) (*SettingsService, *repository.MemoryStore) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := repository.NewMemoryStore()
	return NewSettingsService(store, timezone.NewConverter(&logger), "Asia/Kolkata", nil, &logger), store
}

func TestSettingsService_LazyDefaults(t *testing.T) {
	s, store := newSettingsService(t)
	ctx := context.Background()

	_, err := store.GetSettings(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", got.Timezone)
	assert.Equal(t, models.DefaultSlotDurationMinutes, got.SlotDurationMinutes)
	assert.Equal(t, models.DefaultBufferMinutes, got.BufferMinutes)
	assert.Equal(t, 5.5, got.OffsetHoursHint)
	assert.True(t, got.IsWorkingDay(time.Monday))
	assert.False(t, got.IsWorkingDay(time.Sunday))

	persisted, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, got.Timezone, persisted.Timezone)
}

func TestSettingsService_Update(t *testing.T) {
	s, _ := newSettingsService(t)
	ctx := context.Background()

	current, err := s.Get(ctx)
	require.NoError(t, err)

	t.Run("Valid", func(t *testing.T) {
		next := current.Clone()
		next.Timezone = "Asia/Tokyo"
		next.BufferMinutes = 0
		next.BlockedDates = []string{"2030-01-01"}

		saved, err := s.Update(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, 9.0, saved.OffsetHoursHint)

		got, err := s.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Asia/Tokyo", got.Timezone)
		assert.True(t, got.IsBlocked("2030-01-01"))
	})

	invalid := []struct {
		name   string
		field  string
		mutate func(*models.BookingSettings)
	}{
		{"UnknownZone", "timezone", func(s *models.BookingSettings) { s.Timezone = "Nowhere/City" }},
		{"ZeroDuration", "slot_duration_minutes", func(s *models.BookingSettings) { s.SlotDurationMinutes = 0 }},
		{"NegativeBuffer", "buffer_minutes", func(s *models.BookingSettings) { s.BufferMinutes = -5 }},
		{"BadWorkingDay", "working_days[0]", func(s *models.BookingSettings) { s.WorkingDays = []int{7} }},
		{"BadRuleTime", "availability[1].start_time", func(s *models.BookingSettings) { s.Availability[1].StartTime = "9" }},
		{"BadBlockedDate", "blocked_dates[0]", func(s *models.BookingSettings) { s.BlockedDates = []string{"01/02/2030"} }},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			next := current.Clone()
			tc.mutate(&next)
			_, err := s.Update(ctx, next)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestSettingsService_MeetingTypes(t *testing.T) {
	s, _ := newSettingsService(t)
	types := s.MeetingTypes()
	require.Len(t, types, 3)
	types[0].Name = "changed"
	assert.NotEqual(t, "changed", s.MeetingTypes()[0].Name)
}

func TestSettingsService_ZoneChangeMovesBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	confirmed, err := f.ledger.Create(ctx, draft("2030-01-07", "09:00", ""))
	require.NoError(t, err)
	pendingDraft := draft("2030-01-07", "10:00", "")
	pendingDraft.Status = models.StatusPending
	pending, err := f.ledger.Create(ctx, pendingDraft)
	require.NoError(t, err)

	current, err := f.settings.Get(ctx)
	require.NoError(t, err)
	next := current.Clone()
	next.Timezone = "Asia/Tokyo"
	_, err = f.settings.Update(ctx, next)
	require.NoError(t, err)

	// IST is UTC+5:30, JST is UTC+9.
	got, err := f.ledger.Get(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", got.Timezone)
	assert.Equal(t, "2030-01-07", got.ScheduledDate)
	assert.Equal(t, "12:30", got.ScheduledTime)

	got, err = f.ledger.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "13:30", got.ScheduledTime)

	// The moved booking still holds its instant under the new zone.
	_, err = f.ledger.Create(ctx, draft("2030-01-07", "12:30", ""))
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
	_, err = f.ledger.Create(ctx, draft("2030-01-07", "09:00", "Asia/Kolkata"))
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)

	conflicts, err := f.ledger.CheckConflict(ctx, "2030-01-07", "12:30", "", "")
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}
