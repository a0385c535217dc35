package notify

import (
	"context"
	"errors"
	"fmt"

	"meetbook/internal/config"
	"meetbook/internal/models"
	"meetbook/internal/timezone"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts the admin text to the organizer chat.
type TelegramNotifier struct {
	bot    telegramSender
	chatID int64
	conv   *timezone.Converter
}

func NewTelegramNotifier(cfg config.TelegramConfig, conv *timezone.Converter) (*TelegramNotifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram bot_token and chat_id are required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID, conv: conv}, nil
}

func (n *TelegramNotifier) Notify(_ context.Context, eventType string, b *models.Booking) error {
	msg := Compose(n.conv, eventType, b)
	out := tgbotapi.NewMessage(n.chatID, msg.Admin)
	out.DisableWebPagePreview = true
	if _, err := n.bot.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
