package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"meetbook/internal/domain"
	"meetbook/internal/models"
)

const bookingColumns = `id, meeting_type, name, email, phone, company, scheduled_date, scheduled_time,
	timezone, requester_timezone, status, message, forwarded_to, admin_notes, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                                models.Booking
		phone, company, requesterTZ      sql.NullString
		message, forwardedTo, adminNotes sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.MeetingType, &b.Name, &b.Email, &phone, &company, &b.ScheduledDate, &b.ScheduledTime,
		&b.Timezone, &requesterTZ, &b.Status, &message, &forwardedTo, &adminNotes,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Phone = phone.String
	b.Company = company.String
	b.RequesterTimezone = requesterTZ.String
	b.Message = message.String
	b.ForwardedTo = forwardedTo.String
	b.AdminNotes = adminNotes.String
	return &b, nil
}

func (db *DB) queryBookings(ctx context.Context, op, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, wrapErr("failed to get booking", err)
	}
	return b, nil
}

func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN (?"+strings.Repeat(", ?", len(filter.Statuses)-1)+")")
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if filter.From != "" {
		where = append(where, "scheduled_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		where = append(where, "scheduled_date <= ?")
		args = append(args, filter.To)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheduled_date ASC, scheduled_time ASC, created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return db.queryBookings(ctx, "failed to list bookings", query, args...)
}

func (db *DB) FindConfirmed(ctx context.Context, slot models.SlotKey, excludeID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE scheduled_date = ? AND scheduled_time = ? AND timezone = ? AND status = ? AND id != ?`
	return db.queryBookings(ctx, "failed to check conflicts", query,
		slot.Date, slot.Time, slot.Zone, models.StatusConfirmed, excludeID)
}

func (db *DB) ConfirmedInRange(ctx context.Context, from, to string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND scheduled_date >= ? AND scheduled_date <= ?
              ORDER BY scheduled_date ASC, scheduled_time ASC`
	return db.queryBookings(ctx, "failed to get confirmed bookings", query, models.StatusConfirmed, from, to)
}

// CreateBooking inserts the booking. A confirmed booking is only written
// when no other confirmed booking holds its slot; the check and the insert
// share one transaction.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if booking.Status == models.StatusConfirmed {
		if err := slotTaken(ctx, tx, booking); err != nil {
			return err
		}
	}

	now := db.now()
	query := `INSERT INTO bookings (` + bookingColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		booking.ID,
		booking.MeetingType,
		booking.Name,
		booking.Email,
		nullString(booking.Phone),
		nullString(booking.Company),
		booking.ScheduledDate,
		booking.ScheduledTime,
		booking.Timezone,
		nullString(booking.RequesterTimezone),
		booking.Status,
		nullString(booking.Message),
		nullString(booking.ForwardedTo),
		nullString(booking.AdminNotes),
		now,
		now,
		1,
	)
	if err != nil {
		return wrapErr("failed to insert booking in tx", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("failed to commit booking", err)
	}
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

// UpdateBooking replaces the stored record if its version still equals
// fromVersion. Confirmed records are re-checked for slot conflicts.
func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if booking.Status == models.StatusConfirmed {
		if err := slotTaken(ctx, tx, booking); err != nil {
			return err
		}
	}

	now := db.now()
	query := `UPDATE bookings SET
                meeting_type = ?, name = ?, email = ?, phone = ?, company = ?,
                scheduled_date = ?, scheduled_time = ?, timezone = ?, requester_timezone = ?,
                status = ?, message = ?, forwarded_to = ?, admin_notes = ?,
                updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query,
		booking.MeetingType,
		booking.Name,
		booking.Email,
		nullString(booking.Phone),
		nullString(booking.Company),
		booking.ScheduledDate,
		booking.ScheduledTime,
		booking.Timezone,
		nullString(booking.RequesterTimezone),
		booking.Status,
		nullString(booking.Message),
		nullString(booking.ForwardedTo),
		nullString(booking.AdminNotes),
		now,
		booking.ID,
		fromVersion,
	)
	if err != nil {
		return wrapErr("failed to update booking", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapErr("failed to update booking", err)
	}
	if rows == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, booking.ID).Scan(&exists); err != nil {
			return wrapErr("failed to update booking", err)
		}
		if exists == 0 {
			return fmt.Errorf("failed to update booking %s: %w", booking.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to update booking %s: %w", booking.ID, domain.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("failed to commit booking update", err)
	}
	booking.UpdatedAt = now
	booking.Version = fromVersion + 1
	return nil
}

func (db *DB) DeleteBooking(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return wrapErr("failed to delete booking", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("failed to delete booking %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (db *DB) CountByStatus(ctx context.Context) (models.BookingStats, error) {
	var stats models.BookingStats
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return stats, wrapErr("failed to count bookings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan booking count: %w", err)
		}
		stats.Add(status, count)
	}
	return stats, wrapErr("failed to count bookings", rows.Err())
}

func slotTaken(ctx context.Context, tx *sql.Tx, booking *models.Booking) error {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
         WHERE scheduled_date = ? AND scheduled_time = ? AND timezone = ? AND status = ? AND id != ?`,
		booking.ScheduledDate, booking.ScheduledTime, booking.Timezone, models.StatusConfirmed, booking.ID,
	).Scan(&count)
	if err != nil {
		return wrapErr("failed to check availability in tx", err)
	}
	if count > 0 {
		return domain.ErrSlotUnavailable
	}
	return nil
}
