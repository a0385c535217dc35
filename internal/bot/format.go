package bot

import (
	"errors"
	"fmt"
	"strings"

	"meetbook/internal/domain"
	"meetbook/internal/models"
)

func statusIcon(status string) string {
	switch status {
	case models.StatusPending:
		return "⏳"
	case models.StatusConfirmed:
		return "✅"
	case models.StatusCompleted:
		return "🏁"
	case models.StatusCancelled:
		return "❌"
	}
	return "•"
}

// describe renders a booking for the organizer, with the time shown in the
// bot zone.
func (b *Bot) describe(booking *models.Booking) string {
	zone := b.zone
	if zone == "" {
		zone = booking.Timezone
	}
	date, clock := b.conv.ConvertDateTime(booking.ScheduledDate, booking.ScheduledTime, booking.Timezone, zone)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s (%s) · %s\n", date, clock, zone, booking.MeetingType))
	sb.WriteString(fmt.Sprintf("👤 %s <%s>", booking.Name, booking.Email))
	if booking.Phone != "" {
		sb.WriteString(", " + booking.Phone)
	}
	if booking.Company != "" {
		sb.WriteString(fmt.Sprintf("\n🏢 %s", booking.Company))
	}
	if booking.RequesterTimezone != "" && booking.RequesterTimezone != zone {
		rDate, rClock := b.conv.ConvertDateTime(booking.ScheduledDate, booking.ScheduledTime, booking.Timezone, booking.RequesterTimezone)
		sb.WriteString(fmt.Sprintf("\n🌍 %s %s for them (%s)", rDate, rClock, booking.RequesterTimezone))
	}
	if booking.ForwardedTo != "" {
		sb.WriteString("\n↪️ " + booking.ForwardedTo)
	}
	return sb.String()
}

func errorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrSlotUnavailable):
		return "⚠️ That time is already taken by another confirmed booking. The booking stays pending."
	case errors.Is(err, domain.ErrInvalidTransition):
		return "⚠️ The booking is no longer in a state that allows this action."
	case errors.Is(err, domain.ErrNotFound):
		return "⚠️ Booking not found. It may have been deleted."
	case errors.Is(err, domain.ErrConcurrentModification):
		return "⚠️ The booking was changed at the same time. Please reload the list and try again."
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return "⚠️ Storage is temporarily unavailable. Please try again later."
	}
	return "❌ Something went wrong while processing the request."
}
