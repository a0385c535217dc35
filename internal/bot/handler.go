package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"meetbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const helpText = `Organizer commands:
/pending - bookings waiting for approval
/upcoming - confirmed and pending bookings ahead
/today - everything scheduled for today
/stats - counters by status`

const (
	actionApprove  = "approve"
	actionCancel   = "cancel"
	actionComplete = "complete"
	listPrefix     = "list:"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !msg.IsCommand() {
		b.sendText(chatID, helpText)
		return
	}

	switch msg.Command() {
	case "pending":
		b.sendPage(ctx, chatID, 0, models.StatusPending, 0)
	case "upcoming":
		b.sendPage(ctx, chatID, 0, models.FilterUpcoming, 0)
	case "today":
		b.sendToday(ctx, chatID)
	case "stats":
		b.sendStats(ctx, chatID)
	default:
		b.sendText(chatID, helpText)
	}
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID
	data := callback.Data

	if strings.HasPrefix(data, listPrefix) {
		b.answer(callback.ID, "")
		filter, page := parseListData(data)
		b.sendPage(ctx, chatID, callback.Message.MessageID, filter, page)
		return
	}

	action, id, ok := strings.Cut(data, ":")
	if !ok || id == "" {
		b.answer(callback.ID, "Unknown action")
		return
	}

	var (
		booking *models.Booking
		err     error
	)
	switch action {
	case actionApprove:
		booking, err = b.ledger.Approve(ctx, id)
	case actionCancel:
		booking, err = b.ledger.Cancel(ctx, id)
	case actionComplete:
		booking, err = b.ledger.Complete(ctx, id)
	default:
		b.answer(callback.ID, "Unknown action")
		return
	}

	logger := zerolog.Ctx(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("action", action).Str("booking_id", id).Msg("Organizer action failed")
		b.answer(callback.ID, "Failed")
		b.sendText(chatID, errorMessage(err))
		return
	}

	logger.Info().Str("action", action).Str("booking_id", id).Str("status", booking.Status).Msg("Organizer action applied")
	b.answer(callback.ID, "Done")
	b.sendText(chatID, fmt.Sprintf("%s %s\n%s", statusIcon(booking.Status), strings.ToUpper(booking.Status), b.describe(booking)))
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.tg.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Debug().Err(err).Msg("Failed to answer callback")
	}
}

func (b *Bot) sendToday(ctx context.Context, chatID int64) {
	settings, err := b.settings.Get(ctx)
	if err != nil {
		b.sendText(chatID, errorMessage(err))
		return
	}
	today := b.now().In(b.conv.LocationOr(settings.Timezone, time.UTC)).Format(models.DateLayout)

	bookings, err := b.ledger.List(ctx, models.BookingFilter{From: today, To: today})
	if err != nil {
		b.sendText(chatID, errorMessage(err))
		return
	}
	if len(bookings) == 0 {
		b.sendText(chatID, "Nothing scheduled for today.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Today, %s:\n\n", today))
	for _, booking := range bookings {
		sb.WriteString(fmt.Sprintf("%s %s\n\n", statusIcon(booking.Status), b.describe(booking)))
	}
	b.sendText(chatID, sb.String())
}

func (b *Bot) sendStats(ctx context.Context, chatID int64) {
	stats, err := b.ledger.Stats(ctx)
	if err != nil {
		b.sendText(chatID, errorMessage(err))
		return
	}
	b.sendText(chatID, fmt.Sprintf(
		"📊 Bookings: %d\n%s pending: %d\n%s confirmed: %d\n%s completed: %d\n%s cancelled: %d",
		stats.Total,
		statusIcon(models.StatusPending), stats.Pending,
		statusIcon(models.StatusConfirmed), stats.Confirmed,
		statusIcon(models.StatusCompleted), stats.Completed,
		statusIcon(models.StatusCancelled), stats.Cancelled,
	))
}

func parseListData(data string) (string, int) {
	filter, rawPage, _ := strings.Cut(strings.TrimPrefix(data, listPrefix), ":")
	page, err := strconv.Atoi(rawPage)
	if err != nil || page < 0 {
		page = 0
	}
	return filter, page
}
