package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/domain"
	"meetbook/internal/events"
	"meetbook/internal/models"
	"meetbook/internal/timezone"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func testBooking() *models.Booking {
	return &models.Booking{
		ID:                "b-1",
		MeetingType:       "strategy",
		Name:              "Jane Doe",
		Email:             "jane@example.com",
		Phone:             "+1 555 0100",
		ScheduledDate:     "2030-01-07",
		ScheduledTime:     "09:00",
		Timezone:          "Asia/Kolkata",
		RequesterTimezone: "America/New_York",
		Status:            models.StatusConfirmed,
	}
}

func testConverter() *timezone.Converter {
	logger := zerolog.New(io.Discard)
	return timezone.NewConverter(&logger)
}

func TestCompose(t *testing.T) {
	msg := Compose(testConverter(), events.EventBookingCreated, testBooking())

	assert.Equal(t, "New booking: Jane Doe", msg.Subject)
	assert.Contains(t, msg.Admin, "Phone: +1 555 0100")
	assert.NotContains(t, msg.Admin, "Company:")
	assert.Contains(t, msg.Admin, "7 January 2030 09:00 (Asia/Kolkata) / 6 January 2030 22:30 (America/New_York)")
	assert.Contains(t, msg.Attendee, "Hi Jane Doe")
	assert.Contains(t, msg.Attendee, "Your session is booked")
}

func TestCompose_SameZoneAndPending(t *testing.T) {
	b := testBooking()
	b.RequesterTimezone = "Asia/Calcutta"
	b.Status = models.StatusPending

	msg := Compose(testConverter(), "booking_rescheduled", b)
	assert.Equal(t, "Booking rescheduled: Jane Doe", msg.Subject)
	assert.Contains(t, msg.Admin, "When: 7 January 2030 09:00 (Asia/Kolkata)\n")
	assert.Contains(t, msg.Attendee, "will be confirmed shortly")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	n := NewLogNotifier(testConverter(), &logger)

	require.NoError(t, n.Notify(context.Background(), events.EventBookingCancelled, testBooking()))
	assert.Contains(t, buf.String(), `"subject":"Booking cancelled: Jane Doe"`)
	assert.Contains(t, buf.String(), `"component":"notify"`)
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(context.Context, string, *models.Booking) error {
	s.calls++
	return s.err
}

func TestMulti(t *testing.T) {
	failing := &stubNotifier{err: errors.New("down")}
	ok := &stubNotifier{}
	m := Multi{failing, ok}

	err := m.Notify(context.Background(), events.EventBookingCreated, testBooking())
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, 1, ok.calls, "later notifiers still run")

	assert.NoError(t, Multi{ok}.Notify(context.Background(), events.EventBookingCreated, testBooking()))
	var _ domain.Notifier = m
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := &TelegramNotifier{bot: sender, chatID: 42, conv: testConverter()}

	require.NoError(t, n.Notify(context.Background(), events.EventBookingConfirmed, testBooking()))
	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "Booking confirmed: Jane Doe")

	sender.err = errors.New("forbidden")
	assert.ErrorContains(t, n.Notify(context.Background(), events.EventBookingConfirmed, testBooking()), "forbidden")
}

func TestNewTelegramNotifier_RequiresConfig(t *testing.T) {
	_, err := NewTelegramNotifier(config.TelegramConfig{}, testConverter())
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2030, 1, 6, 10, 0, 0, 0, time.UTC)
	n := &KafkaNotifier{writer: w, topicPrefix: "meetbook.", now: func() time.Time { return at }}

	require.NoError(t, n.Notify(context.Background(), events.EventBookingCreated, testBooking()))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "meetbook.booking_created", msg.Topic)
	assert.Equal(t, "b-1", string(msg.Key))

	var payload events.BookingEventPayload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "b-1", payload.BookingID)
	assert.Equal(t, "America/New_York", payload.RequesterTimezone)
	assert.True(t, payload.OccurredAt.Equal(at))

	require.NoError(t, n.Close())
	assert.True(t, w.closed)

	_, err := NewKafkaNotifier(config.KafkaConfig{})
	assert.Error(t, err)
}

func TestSheetsNotifier(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	var got sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	srv, err := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	n := newSheetsNotifier(srv, "sheet_id", "")

	require.NoError(t, n.Notify(ctx, events.EventBookingForwarded, testBooking()))
	require.Len(t, got.Values, 1)
	assert.Equal(t, events.EventBookingForwarded, got.Values[0][1])
	assert.Equal(t, "b-1", got.Values[0][2])
}

func TestNewSheetsNotifier_MissingCredentials(t *testing.T) {
	_, err := NewSheetsNotifier(context.Background(), config.SheetsConfig{SpreadsheetID: "x", CredentialsFile: "/nonexistent.json"})
	assert.Error(t, err)
}
