package notify

import (
	"context"
	"errors"

	"meetbook/internal/domain"
	"meetbook/internal/models"
	"meetbook/internal/timezone"

	"github.com/rs/zerolog"
)

// LogNotifier writes the composed message to the log. It is the fallback
// channel when nothing else is configured.
type LogNotifier struct {
	conv   *timezone.Converter
	logger *zerolog.Logger
}

func NewLogNotifier(conv *timezone.Converter, logger *zerolog.Logger) *LogNotifier {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "notify").Logger()
	}
	return &LogNotifier{conv: conv, logger: &base}
}

func (n *LogNotifier) Notify(_ context.Context, eventType string, b *models.Booking) error {
	msg := Compose(n.conv, eventType, b)
	n.logger.Info().
		Str("event", eventType).
		Str("booking_id", b.ID).
		Str("to", b.Email).
		Str("subject", msg.Subject).
		Msg(msg.Admin)
	return nil
}

// Multi fans an event out to every notifier. All of them are tried; the
// errors are joined.
type Multi []domain.Notifier

func (m Multi) Notify(ctx context.Context, eventType string, b *models.Booking) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, eventType, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
