package database

import (
	"context"
	"encoding/json"
	"fmt"

	"meetbook/internal/models"
)

// GetSettings loads the settings singleton; ErrNotFound until first saved.
func (db *DB) GetSettings(ctx context.Context) (*models.BookingSettings, error) {
	var data string
	err := db.QueryRowContext(ctx, `SELECT data FROM booking_settings WHERE id = 1`).Scan(&data)
	if err != nil {
		return nil, wrapErr("failed to get settings", err)
	}

	var settings models.BookingSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &settings, nil
}

// SaveSettings replaces the singleton wholesale.
func (db *DB) SaveSettings(ctx context.Context, settings *models.BookingSettings) error {
	settings.UpdatedAt = db.now()
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	query := `INSERT INTO booking_settings (id, data, updated_at) VALUES (1, ?, ?)
              ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, string(data), settings.UpdatedAt); err != nil {
		return wrapErr("failed to save settings", err)
	}
	return nil
}
