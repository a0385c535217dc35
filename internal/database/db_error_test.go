package database

import (
	"context"
	"io"
	"testing"

	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close() // Close the DB to trigger errors

	ctx := context.Background()

	t.Run("CreateBooking", func(t *testing.T) {
		err := db.CreateBooking(ctx, newBooking("2030-01-07", "09:00", models.StatusConfirmed))
		assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	})

	t.Run("GetBooking", func(t *testing.T) {
		_, err := db.GetBooking(ctx, "x")
		assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	})

	t.Run("ListBookings", func(t *testing.T) {
		_, err := db.ListBookings(ctx, models.BookingFilter{})
		assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	})

	t.Run("GetSettings", func(t *testing.T) {
		_, err := db.GetSettings(ctx)
		assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	})

	t.Run("CreateNotificationTask", func(t *testing.T) {
		err := db.CreateNotificationTask(ctx, &models.NotificationTask{})
		assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.ErrorIs(t, db.Ping(ctx), domain.ErrPersistenceUnavailable)
	})
}
