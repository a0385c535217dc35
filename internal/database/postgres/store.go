// Package postgres is the PostgreSQL implementation of domain.Store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation = "23505"

	bookingColumns = `id, meeting_type, name, email, COALESCE(phone, ''), COALESCE(company, ''),
	scheduled_date, scheduled_time, timezone, COALESCE(requester_timezone, ''), status,
	COALESCE(message, ''), COALESCE(forwarded_to, ''), COALESCE(admin_notes, ''),
	created_at, updated_at, version`

	taskColumns = `id, event_type, booking_id, payload, status, retry_count, last_error,
	created_at, processed_at, next_retry_at`
)

type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
	now    func() time.Time
}

var _ domain.Store = (*Store)(nil)

// Open connects, pings and applies the schema.
func Open(ctx context.Context, dsn string, logger *zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, domain.Unavailable("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, domain.Unavailable("ping postgres", err)
	}

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "postgres").Logger()
	}
	s := &Store{pool: pool, logger: &base, now: time.Now}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info().Msg("Postgres store initialized")
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return domain.Unavailable("ping postgres", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, domain.ErrSlotUnavailable)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, pgx.ErrTxClosed) {
		return domain.Unavailable(op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || strings.Contains(err.Error(), "closed pool") {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID, &b.MeetingType, &b.Name, &b.Email, &b.Phone, &b.Company,
		&b.ScheduledDate, &b.ScheduledTime, &b.Timezone, &b.RequesterTimezone, &b.Status,
		&b.Message, &b.ForwardedTo, &b.AdminNotes,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryBookings(ctx context.Context, q querier, op, query string, args ...any) ([]*models.Booking, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	bookings := []*models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return bookings, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("failed to get booking", err)
	}
	return b, nil
}

func (s *Store) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		args = append(args, filter.Statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.From != "" {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("scheduled_date >= $%d", len(args)))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("scheduled_date <= $%d", len(args)))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheduled_date, scheduled_time, created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return queryBookings(ctx, s.pool, "failed to list bookings", query, args...)
}

func (s *Store) FindConfirmed(ctx context.Context, slot models.SlotKey, excludeID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE scheduled_date = $1 AND scheduled_time = $2 AND timezone = $3 AND status = $4 AND id <> $5`
	return queryBookings(ctx, s.pool, "failed to check conflicts", query,
		slot.Date, slot.Time, slot.Zone, models.StatusConfirmed, excludeID)
}

func (s *Store) ConfirmedInRange(ctx context.Context, from, to string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = $1 AND scheduled_date BETWEEN $2 AND $3
		ORDER BY scheduled_date, scheduled_time`
	return queryBookings(ctx, s.pool, "failed to get confirmed bookings", query, models.StatusConfirmed, from, to)
}

// slotTaken takes a transaction-scoped advisory lock on the slot and reports
// a conflict with any other confirmed booking there.
func slotTaken(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.SlotKey().String()); err != nil {
		return wrapErr("failed to lock slot", err)
	}
	var n int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE scheduled_date = $1 AND scheduled_time = $2 AND timezone = $3 AND status = $4 AND id <> $5`,
		b.ScheduledDate, b.ScheduledTime, b.Timezone, models.StatusConfirmed, b.ID,
	).Scan(&n)
	if err != nil {
		return wrapErr("failed to check conflicts", err)
	}
	if n > 0 {
		return fmt.Errorf("slot %s %s: %w", b.ScheduledDate, b.ScheduledTime, domain.ErrSlotUnavailable)
	}
	return nil
}

func (s *Store) CreateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if booking.Status == models.StatusConfirmed {
		if err := slotTaken(ctx, tx, booking); err != nil {
			return err
		}
	}

	now := s.now()
	_, err = tx.Exec(ctx, `
		INSERT INTO bookings (id, meeting_type, name, email, phone, company, scheduled_date, scheduled_time,
			timezone, requester_timezone, status, message, forwarded_to, admin_notes, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15, 1)
	`, booking.ID, booking.MeetingType, booking.Name, booking.Email, nullable(booking.Phone), nullable(booking.Company),
		booking.ScheduledDate, booking.ScheduledTime, booking.Timezone, nullable(booking.RequesterTimezone),
		booking.Status, nullable(booking.Message), nullable(booking.ForwardedTo), nullable(booking.AdminNotes), now)
	if err != nil {
		return wrapErr("failed to insert booking", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("failed to commit booking", err)
	}
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (s *Store) UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if booking.Status == models.StatusConfirmed {
		if err := slotTaken(ctx, tx, booking); err != nil {
			return err
		}
	}

	now := s.now()
	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET
			meeting_type = $1, name = $2, email = $3, phone = $4, company = $5,
			scheduled_date = $6, scheduled_time = $7, timezone = $8, requester_timezone = $9,
			status = $10, message = $11, forwarded_to = $12, admin_notes = $13,
			updated_at = $14, version = version + 1
		WHERE id = $15 AND version = $16
	`, booking.MeetingType, booking.Name, booking.Email, nullable(booking.Phone), nullable(booking.Company),
		booking.ScheduledDate, booking.ScheduledTime, booking.Timezone, nullable(booking.RequesterTimezone),
		booking.Status, nullable(booking.Message), nullable(booking.ForwardedTo), nullable(booking.AdminNotes),
		now, booking.ID, fromVersion)
	if err != nil {
		return wrapErr("failed to update booking", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, booking.ID).Scan(&exists); err != nil {
			return wrapErr("failed to update booking", err)
		}
		if !exists {
			return fmt.Errorf("failed to update booking %s: %w", booking.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to update booking %s: %w", booking.ID, domain.ErrConcurrentModification)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("failed to commit booking update", err)
	}
	booking.UpdatedAt = now
	booking.Version = fromVersion + 1
	return nil
}

func (s *Store) DeleteBooking(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return wrapErr("failed to delete booking", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete booking %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context) (models.BookingStats, error) {
	var stats models.BookingStats
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return stats, wrapErr("failed to count bookings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Add(status, n)
	}
	return stats, wrapErr("failed to count bookings", rows.Err())
}

func (s *Store) GetSettings(ctx context.Context) (*models.BookingSettings, error) {
	var data []byte
	if err := s.pool.QueryRow(ctx, `SELECT data FROM booking_settings WHERE id = 1`).Scan(&data); err != nil {
		return nil, wrapErr("failed to get settings", err)
	}
	var settings models.BookingSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings *models.BookingSettings) error {
	settings.UpdatedAt = s.now()
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO booking_settings (id, data, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, data, settings.UpdatedAt)
	return wrapErr("failed to save settings", err)
}

func (s *Store) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	now := s.now()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notification_queue (event_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, task.EventType, task.BookingID, task.Payload, task.Status, task.RetryCount, task.LastError, now, task.NextRetryAt).Scan(&task.ID)
	if err != nil {
		return wrapErr("failed to create notification task", err)
	}
	task.CreatedAt = now
	return nil
}

func (s *Store) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	return s.queryTasks(ctx, "failed to get pending notification tasks", `
		SELECT `+taskColumns+` FROM notification_queue
		WHERE status IN ($1, $2) AND (next_retry_at IS NULL OR next_retry_at <= $3)
		ORDER BY created_at LIMIT $4
	`, models.TaskStatusPending, models.TaskStatusRetry, s.now(), limit)
}

func (s *Store) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	return s.queryTasks(ctx, "failed to get failed notification tasks",
		`SELECT `+taskColumns+` FROM notification_queue WHERE status = $1 ORDER BY created_at DESC`,
		models.TaskStatusFailed)
}

func (s *Store) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var processedAt *time.Time
	retryInc := 0
	switch status {
	case models.TaskStatusRetry:
		retryInc = 1
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		now := s.now()
		processedAt = &now
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = $1, last_error = $2, next_retry_at = $3,
			processed_at = COALESCE($4, processed_at), retry_count = retry_count + $5
		WHERE id = $6
	`, status, nullable(errMsg), nextRetryAt, processedAt, retryInc, id)
	return wrapErr("failed to update notification task status", err)
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...any) ([]models.NotificationTask, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.NotificationTask, error) {
		var t models.NotificationTask
		err := row.Scan(&t.ID, &t.EventType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt)
		return t, err
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return tasks, nil
}
