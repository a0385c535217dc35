package bot

import (
	"context"
	"fmt"
	"strings"

	"meetbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var listTitles = map[string]string{
	models.StatusPending:   "⏳ Waiting for approval",
	models.FilterUpcoming:  "📅 Upcoming bookings",
	models.StatusConfirmed: "✅ Confirmed bookings",
}

// sendPage renders one page of a booking list with action buttons. A
// non-zero messageID edits that message in place.
func (b *Bot) sendPage(ctx context.Context, chatID int64, messageID int, filter string, page int) {
	bookings, err := b.ledger.List(ctx, models.BookingFilter{Status: filter})
	if err != nil {
		b.sendText(chatID, errorMessage(err))
		return
	}

	title, ok := listTitles[filter]
	if !ok {
		title = "Bookings"
	}
	if len(bookings) == 0 {
		b.deliver(chatID, messageID, title+"\n\nNo bookings.", nil)
		return
	}

	total := len(bookings)
	totalPages := (total + b.pageSize - 1) / b.pageSize
	if page >= totalPages {
		page = totalPages - 1
	}
	start := page * b.pageSize
	end := min(start+b.pageSize, total)

	var message strings.Builder
	message.WriteString(title + "\n\n")
	if totalPages > 1 {
		message.WriteString(fmt.Sprintf("Page %d of %d\n\n", page+1, totalPages))
	}

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for i, booking := range bookings[start:end] {
		message.WriteString(fmt.Sprintf("%d. %s %s\n\n", start+i+1, statusIcon(booking.Status), b.describe(booking)))
		if row := actionRow(start+i+1, booking); len(row) > 0 {
			keyboard = append(keyboard, row)
		}
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", fmt.Sprintf("%s%s:%d", listPrefix, filter, page-1)))
	}
	if end < total {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", fmt.Sprintf("%s%s:%d", listPrefix, filter, page+1)))
	}
	if len(nav) > 0 {
		keyboard = append(keyboard, nav)
	}

	var markup *tgbotapi.InlineKeyboardMarkup
	if len(keyboard) > 0 {
		m := tgbotapi.NewInlineKeyboardMarkup(keyboard...)
		markup = &m
	}
	b.deliver(chatID, messageID, message.String(), markup)
}

func actionRow(n int, booking *models.Booking) []tgbotapi.InlineKeyboardButton {
	var row []tgbotapi.InlineKeyboardButton
	switch booking.Status {
	case models.StatusPending:
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ %d", n), actionApprove+":"+booking.ID))
	case models.StatusConfirmed:
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✔️ %d", n), actionComplete+":"+booking.ID))
	default:
		return nil
	}
	return append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("❌ %d", n), actionCancel+":"+booking.ID))
}

func (b *Bot) deliver(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	var c tgbotapi.Chattable
	if messageID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
		edit.ReplyMarkup = markup
		c = edit
	} else {
		msg := tgbotapi.NewMessage(chatID, text)
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		c = msg
	}
	if _, err := b.tg.Send(c); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send booking list")
	}
}
