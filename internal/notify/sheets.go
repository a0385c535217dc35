package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsNotifier appends one row per booking event to a spreadsheet.
type SheetsNotifier struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	now           func() time.Time
}

func NewSheetsNotifier(ctx context.Context, cfg config.SheetsConfig) (*SheetsNotifier, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("sheets spreadsheet_id is required")
	}

	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsNotifier(srv, cfg.SpreadsheetID, cfg.SheetName), nil
}

func newSheetsNotifier(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsNotifier {
	if sheetName == "" {
		sheetName = "Bookings"
	}
	return &SheetsNotifier{service: srv, spreadsheetID: spreadsheetID, sheetName: sheetName, now: time.Now}
}

func (n *SheetsNotifier) Notify(ctx context.Context, eventType string, b *models.Booking) error {
	row := []interface{}{
		n.now().UTC().Format(time.RFC3339),
		eventType,
		b.ID,
		b.Status,
		b.MeetingType,
		b.Name,
		b.Email,
		b.Phone,
		b.Company,
		b.ScheduledDate,
		b.ScheduledTime,
		b.Timezone,
		b.RequesterTimezone,
		b.ForwardedTo,
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := n.service.Spreadsheets.Values.Append(n.spreadsheetID, n.sheetName+"!A:A", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append booking row: %w", err)
	}
	return nil
}
