package bot

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/events"
	"meetbook/internal/models"
	"meetbook/internal/repository"
	"meetbook/internal/service"
	"meetbook/internal/timezone"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	managerID = int64(1001)
	chatID    = int64(5001)
)

type mockTelegram struct {
	mu          sync.Mutex
	updatesChan chan tgbotapi.Update
	sent        []tgbotapi.Chattable
	requests    []tgbotapi.Chattable
}

func (m *mockTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegram) GetSelf() tgbotapi.User { return tgbotapi.User{UserName: "meetbook_bot"} }

func (m *mockTelegram) StopReceivingUpdates() {}

func (m *mockTelegram) last(t *testing.T) tgbotapi.Chattable {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

func (m *mockTelegram) lastText(t *testing.T) string {
	t.Helper()
	switch c := m.last(t).(type) {
	case tgbotapi.MessageConfig:
		return c.Text
	case tgbotapi.EditMessageTextConfig:
		return c.Text
	}
	t.Fatalf("unexpected chattable %T", m.last(t))
	return ""
}

type fixture struct {
	bot    *Bot
	tg     *mockTelegram
	ledger *service.Ledger
}

func newFixture(t *testing.T, pageSize int) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := repository.NewMemoryStore()
	conv := timezone.NewConverter(&logger)
	settings := service.NewSettingsService(store, conv, "Asia/Kolkata", nil, &logger)

	current, err := settings.Get(context.Background())
	require.NoError(t, err)
	current.RequireApproval = true
	_, err = settings.Update(context.Background(), current)
	require.NoError(t, err)

	ledger := service.NewLedger(store, settings, repository.NewKeyedMutex(), conv, nil, events.NewEventBus(&logger), nil, &logger)
	tg := &mockTelegram{updatesChan: make(chan tgbotapi.Update, 4)}
	cfg := config.BotConfig{Managers: []int64{managerID}, PageSize: pageSize, Timezone: "Europe/London"}
	return &fixture{bot: NewBot(tg, cfg, ledger, settings, conv, &logger), tg: tg, ledger: ledger}
}

func (f *fixture) book(t *testing.T, clock string) *models.Booking {
	t.Helper()
	loc, _ := time.LoadLocation("Asia/Kolkata")
	b, err := f.ledger.Create(context.Background(), models.BookingDraft{
		MeetingType:   "strategy",
		Name:          "Asha",
		Email:         "asha@example.com",
		ScheduledDate: time.Now().In(loc).AddDate(0, 0, 3).Format(models.DateLayout),
		ScheduledTime: clock,
		Timezone:      "Asia/Kolkata",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, b.Status)
	return b
}

func command(from int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: from},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}},
	}}
}

func callback(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: managerID},
		Message: &tgbotapi.Message{MessageID: 77, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func TestBot_IgnoresStrangers(t *testing.T) {
	f := newFixture(t, 5)
	f.book(t, "10:00")

	f.bot.processUpdate(context.Background(), command(42, "/pending"))
	assert.Contains(t, f.tg.lastText(t), "organizer only")

	f.bot.processUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    "cancel:whatever",
	}})
	assert.Empty(t, f.tg.requests)
}

func TestBot_PendingApproveFlow(t *testing.T) {
	f := newFixture(t, 5)
	pending := f.book(t, "10:00")

	f.bot.processUpdate(context.Background(), command(managerID, "/pending"))
	msg, ok := f.tg.last(t).(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Contains(t, msg.Text, "Waiting for approval")
	// 10:00 IST is 04:30 in London in winter and 05:30 in summer
	assert.Contains(t, msg.Text, "(Europe/London)")
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "approve:"+pending.ID, *markup.InlineKeyboard[0][0].CallbackData)

	f.bot.processUpdate(context.Background(), callback("approve:"+pending.ID))
	assert.Contains(t, f.tg.lastText(t), "CONFIRMED")
	require.Len(t, f.tg.requests, 1)

	got, err := f.ledger.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	f.bot.processUpdate(context.Background(), callback("approve:"+pending.ID))
	assert.Contains(t, f.tg.lastText(t), "no longer in a state")

	f.bot.processUpdate(context.Background(), callback("complete:"+pending.ID))
	assert.Contains(t, f.tg.lastText(t), "COMPLETED")

	f.bot.processUpdate(context.Background(), callback("cancel:missing"))
	assert.Contains(t, f.tg.lastText(t), "not found")

	f.bot.processUpdate(context.Background(), callback("explode:"+pending.ID))
	assert.Len(t, f.tg.requests, 5)
}

func TestBot_Pagination(t *testing.T) {
	f := newFixture(t, 2)
	for _, clock := range []string{"10:00", "11:00", "12:00"} {
		f.book(t, clock)
	}

	f.bot.processUpdate(context.Background(), command(managerID, "/pending"))
	msg, ok := f.tg.last(t).(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Contains(t, msg.Text, "Page 1 of 2")
	markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	nav := markup.InlineKeyboard[len(markup.InlineKeyboard)-1]
	require.Len(t, nav, 1)
	assert.Equal(t, "list:pending:1", *nav[0].CallbackData)

	f.bot.processUpdate(context.Background(), callback("list:pending:1"))
	edit, ok := f.tg.last(t).(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 77, edit.MessageID)
	assert.Contains(t, edit.Text, "Page 2 of 2")
	assert.Contains(t, edit.Text, "3. ")

	// a page past the end clamps to the last one
	f.bot.processUpdate(context.Background(), callback("list:pending:9"))
	assert.Contains(t, f.tg.lastText(t), "Page 2 of 2")
}

func TestBot_StatsTodayAndHelp(t *testing.T) {
	f := newFixture(t, 5)
	f.book(t, "10:00")

	f.bot.processUpdate(context.Background(), command(managerID, "/stats"))
	assert.Contains(t, f.tg.lastText(t), "Bookings: 1")

	f.bot.processUpdate(context.Background(), command(managerID, "/today"))
	assert.Equal(t, "Nothing scheduled for today.", f.tg.lastText(t))

	f.bot.processUpdate(context.Background(), command(managerID, "/upcoming"))
	assert.Contains(t, f.tg.lastText(t), "Upcoming bookings")

	f.bot.processUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: managerID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: "hello",
	}})
	assert.Equal(t, helpText, f.tg.lastText(t))
}

func TestBot_StartStopsOnContext(t *testing.T) {
	f := newFixture(t, 5)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.bot.Start(ctx)
		close(done)
	}()

	f.tg.updatesChan <- command(managerID, "/stats")
	require.Eventually(t, func() bool {
		f.tg.mu.Lock()
		defer f.tg.mu.Unlock()
		return len(f.tg.sent) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
}

func TestParseListData(t *testing.T) {
	filter, page := parseListData("list:upcoming:3")
	assert.Equal(t, models.FilterUpcoming, filter)
	assert.Equal(t, 3, page)

	_, page = parseListData("list:pending:-1")
	assert.Equal(t, 0, page)
}
