package domain

import (
	"context"
	"time"

	"meetbook/internal/models"
)

// BookingStore persists bookings. CreateBooking and UpdateBooking are
// conditional writes: a confirmed record is rejected with ErrSlotUnavailable
// when another confirmed booking holds the same date, time and zone.
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	FindConfirmed(ctx context.Context, slot models.SlotKey, excludeID string) ([]*models.Booking, error)
	ConfirmedInRange(ctx context.Context, from, to string) ([]*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64) error
	DeleteBooking(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (models.BookingStats, error)
}

// SettingsStore keeps the single BookingSettings record. GetSettings
// returns ErrNotFound until the first save.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.BookingSettings, error)
	SaveSettings(ctx context.Context, settings *models.BookingSettings) error
}

type NotificationTaskStore interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error)
}

// Store is everything a persistence backend provides.
type Store interface {
	BookingStore
	SettingsStore
	NotificationTaskStore
	Ping(ctx context.Context) error
	Close() error
}

// SlotLocker serializes check-then-write sequences per slot key.
type SlotLocker interface {
	Lock(ctx context.Context, key models.SlotKey) (unlock func(), err error)
}

// RateLimiter counts hits per key inside a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// NotificationQueue hands finalized bookings to the notification sender.
type NotificationQueue interface {
	Enqueue(ctx context.Context, eventType string, booking *models.Booking) error
}

// Notifier delivers one booking event to an external channel.
type Notifier interface {
	Notify(ctx context.Context, eventType string, booking *models.Booking) error
}

// SettingsProvider is the read side of the organizer configuration.
type SettingsProvider interface {
	Get(ctx context.Context) (models.BookingSettings, error)
}
