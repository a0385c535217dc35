package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/models"
)

// MemoryStore keeps everything in process. Check and write happen under one
// mutex, so confirmed bookings can never share a slot.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]*models.Booking
	settings *models.BookingSettings
	tasks    map[int64]*models.NotificationTask
	nextTask int64
	now      func() time.Time
}

var _ domain.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*models.Booking),
		tasks:    make(map[int64]*models.NotificationTask),
		now:      time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) ListBookings(_ context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.Booking{}
	for _, b := range s.bookings {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, b.Status) {
			continue
		}
		if filter.From != "" && b.ScheduledDate < filter.From {
			continue
		}
		if filter.To != "" && b.ScheduledDate > filter.To {
			continue
		}
		out = append(out, b.Clone())
	}
	sortBookings(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) FindConfirmed(_ context.Context, slot models.SlotKey, excludeID string) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confirmedAt(slot, excludeID), nil
}

func (s *MemoryStore) ConfirmedInRange(_ context.Context, from, to string) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.Booking{}
	for _, b := range s.bookings {
		if b.Status == models.StatusConfirmed && b.ScheduledDate >= from && b.ScheduledDate <= to {
			out = append(out, b.Clone())
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookings[booking.ID]; exists {
		return fmt.Errorf("booking %s already exists: %w", booking.ID, domain.ErrInvalidInput)
	}
	if booking.Status == models.StatusConfirmed && len(s.confirmedAt(booking.SlotKey(), booking.ID)) > 0 {
		return fmt.Errorf("%s %s: %w", booking.ScheduledDate, booking.ScheduledTime, domain.ErrSlotUnavailable)
	}

	now := s.now()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	s.bookings[booking.ID] = booking.Clone()
	return nil
}

func (s *MemoryStore) UpdateBooking(_ context.Context, booking *models.Booking, fromVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.bookings[booking.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", booking.ID, domain.ErrNotFound)
	}
	if current.Version != fromVersion {
		return fmt.Errorf("booking %s: %w", booking.ID, domain.ErrConcurrentModification)
	}
	if booking.Status == models.StatusConfirmed && len(s.confirmedAt(booking.SlotKey(), booking.ID)) > 0 {
		return fmt.Errorf("%s %s: %w", booking.ScheduledDate, booking.ScheduledTime, domain.ErrSlotUnavailable)
	}

	booking.CreatedAt = current.CreatedAt
	booking.UpdatedAt = s.now()
	booking.Version = fromVersion + 1
	s.bookings[booking.ID] = booking.Clone()
	return nil
}

func (s *MemoryStore) DeleteBooking(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[id]; !ok {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	delete(s.bookings, id)
	return nil
}

func (s *MemoryStore) CountByStatus(context.Context) (models.BookingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats models.BookingStats
	for _, b := range s.bookings {
		stats.Add(b.Status, 1)
	}
	return stats, nil
}

// confirmedAt expects s.mu to be held.
func (s *MemoryStore) confirmedAt(slot models.SlotKey, excludeID string) []*models.Booking {
	out := []*models.Booking{}
	for id, b := range s.bookings {
		if id == excludeID || b.Status != models.StatusConfirmed {
			continue
		}
		if b.SlotKey() == slot {
			out = append(out, b.Clone())
		}
	}
	return out
}

func (s *MemoryStore) GetSettings(context.Context) (*models.BookingSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil, fmt.Errorf("settings: %w", domain.ErrNotFound)
	}
	cp := s.settings.Clone()
	return &cp, nil
}

func (s *MemoryStore) SaveSettings(_ context.Context, settings *models.BookingSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = s.now()
	cp := settings.Clone()
	s.settings = &cp
	return nil
}

func (s *MemoryStore) CreateNotificationTask(_ context.Context, task *models.NotificationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTask++
	task.ID = s.nextTask
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	task.CreatedAt = s.now()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPendingNotificationTasks(_ context.Context, limit int) ([]models.NotificationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []models.NotificationTask
	for _, t := range s.tasks {
		if t.Status != models.TaskStatusPending && t.Status != models.TaskStatusRetry {
			continue
		}
		if t.NextRetryAt != nil && t.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b models.NotificationTask) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateNotificationTaskStatus(_ context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("notification task %d: %w", id, domain.ErrNotFound)
	}
	t.Status = status
	t.NextRetryAt = nextRetryAt
	t.LastError = nil
	if errMsg != "" {
		t.LastError = &errMsg
	}
	switch status {
	case models.TaskStatusRetry:
		t.RetryCount++
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		now := s.now()
		t.ProcessedAt = &now
	}
	return nil
}

func (s *MemoryStore) GetFailedNotificationTasks(context.Context) ([]models.NotificationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.NotificationTask
	for _, t := range s.tasks {
		if t.Status == models.TaskStatusFailed {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b models.NotificationTask) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func sortBookings(bookings []*models.Booking) {
	slices.SortFunc(bookings, func(a, b *models.Booking) int {
		return cmp.Or(
			cmp.Compare(a.ScheduledDate, b.ScheduledDate),
			cmp.Compare(a.ScheduledTime, b.ScheduledTime),
			a.CreatedAt.Compare(b.CreatedAt),
		)
	})
}
