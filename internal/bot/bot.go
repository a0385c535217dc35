package bot

import (
	"context"
	"slices"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/domain"
	"meetbook/internal/metrics"
	"meetbook/internal/models"
	"meetbook/internal/timezone"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TelegramAPI is the part of the Bot API client the bot uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

// BookingManager is the ledger surface available to organizers in chat.
type BookingManager interface {
	List(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	Stats(ctx context.Context) (models.BookingStats, error)
	Approve(ctx context.Context, id string) (*models.Booking, error)
	Cancel(ctx context.Context, id string) (*models.Booking, error)
	Complete(ctx context.Context, id string) (*models.Booking, error)
}

// Bot lets organizers review and act on bookings from Telegram.
// Only chat users listed as managers are served.
type Bot struct {
	tg       TelegramAPI
	ledger   BookingManager
	settings domain.SettingsProvider
	conv     *timezone.Converter
	managers []int64
	pageSize int
	zone     string
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewBot(
	tg TelegramAPI,
	cfg config.BotConfig,
	ledger BookingManager,
	settings domain.SettingsProvider,
	conv *timezone.Converter,
	logger *zerolog.Logger,
) *Bot {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "bot").Logger()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = models.DefaultPaginationSize
	}
	return &Bot{
		tg:       tg,
		ledger:   ledger,
		settings: settings,
		conv:     conv,
		managers: slices.Clone(cfg.Managers),
		pageSize: pageSize,
		zone:     cfg.Timezone,
		now:      time.Now,
		logger:   &base,
	}
}

// NewTelegramAPI connects to Telegram with the bot token.
func NewTelegramAPI(cfg config.BotConfig) (TelegramAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	api.Debug = cfg.Debug
	return &BotWrapper{BotAPI: api}, nil
}

// BotWrapper adapts *tgbotapi.BotAPI to TelegramAPI.
type BotWrapper struct {
	*tgbotapi.BotAPI
}

func (w *BotWrapper) GetSelf() tgbotapi.User {
	return w.Self
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates.
func (b *Bot) Stop() {
	if b == nil || b.tg == nil {
		return
	}
	b.tg.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	action := "message"
	if update.CallbackQuery != nil {
		action = "callback"
	}
	defer func() { metrics.ObserveBotUpdate(action, start) }()

	// Создаем контекст для обработки каждого обновления
	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		switch {
		case update.CallbackQuery != nil:
			if update.CallbackQuery.Message == nil {
				return
			}
			if !b.authorize(update.CallbackQuery.From, update.CallbackQuery.Message.Chat.ID) {
				return
			}
			b.handleCallback(updateCtx, update.CallbackQuery)
		case update.Message != nil:
			if !b.authorize(update.Message.From, update.Message.Chat.ID) {
				return
			}
			b.handleMessage(updateCtx, update.Message)
		}
	})
}

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

func (b *Bot) authorize(from *tgbotapi.User, chatID int64) bool {
	if from != nil && b.isManager(from.ID) {
		return true
	}
	var userID int64
	if from != nil {
		userID = from.ID
	}
	b.logger.Warn().Int64("user_id", userID).Msg("Update from non-manager ignored")
	b.sendText(chatID, "⛔ This bot is for the organizer only.")
	return false
}

func (b *Bot) isManager(userID int64) bool {
	return slices.Contains(b.managers, userID)
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.tg.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}
