package notify

import (
	"fmt"
	"strings"

	"meetbook/internal/events"
	"meetbook/internal/models"
	"meetbook/internal/timezone"
)

// Message is the rendered text of one booking event.
type Message struct {
	Subject  string
	Admin    string
	Attendee string
}

var headlines = map[string]string{
	events.EventBookingCreated:   "New booking",
	events.EventBookingConfirmed: "Booking confirmed",
	events.EventBookingCancelled: "Booking cancelled",
	events.EventBookingCompleted: "Booking completed",
	events.EventBookingForwarded: "Booking forwarded",
	events.EventBookingUpdated:   "Booking updated",
}

// Compose renders the admin and attendee texts for a booking event. The
// time is shown in the organizer zone and, when it differs, in the
// requester zone too.
func Compose(conv *timezone.Converter, eventType string, b *models.Booking) Message {
	headline, ok := headlines[eventType]
	if !ok {
		headline = "Booking " + strings.TrimPrefix(eventType, "booking_")
	}
	when := describeWhen(conv, b)

	var admin strings.Builder
	fmt.Fprintf(&admin, "%s: %s\n", headline, b.Name)
	fmt.Fprintf(&admin, "Session: %s\n", b.MeetingType)
	fmt.Fprintf(&admin, "Name: %s\n", b.Name)
	fmt.Fprintf(&admin, "Email: %s\n", b.Email)
	if b.Phone != "" {
		fmt.Fprintf(&admin, "Phone: %s\n", b.Phone)
	}
	if b.Company != "" {
		fmt.Fprintf(&admin, "Company: %s\n", b.Company)
	}
	fmt.Fprintf(&admin, "When: %s\n", when)
	fmt.Fprintf(&admin, "Status: %s\n", b.Status)
	if b.ForwardedTo != "" {
		fmt.Fprintf(&admin, "Forwarded to: %s\n", b.ForwardedTo)
	}
	if b.Message != "" {
		fmt.Fprintf(&admin, "Message: %s\n", b.Message)
	}

	var attendee strings.Builder
	fmt.Fprintf(&attendee, "Hi %s,\n\n", b.Name)
	switch b.Status {
	case models.StatusPending:
		attendee.WriteString("We received your request. It will be confirmed shortly.\n")
	case models.StatusCancelled:
		attendee.WriteString("Your session has been cancelled.\n")
	case models.StatusCompleted:
		attendee.WriteString("Thank you for meeting with us.\n")
	default:
		attendee.WriteString("Your session is booked. Here are the details:\n")
	}
	fmt.Fprintf(&attendee, "\nSession: %s\nWhen: %s\n", b.MeetingType, when)

	return Message{
		Subject:  fmt.Sprintf("%s: %s", headline, b.Name),
		Admin:    admin.String(),
		Attendee: attendee.String(),
	}
}

func describeWhen(conv *timezone.Converter, b *models.Booking) string {
	when := fmt.Sprintf("%s %s (%s)", humanDate(b.ScheduledDate), b.ScheduledTime, b.Timezone)
	if b.RequesterTimezone == "" || timezone.SameZone(b.RequesterTimezone, b.Timezone) {
		return when
	}
	date, clock := conv.ConvertDateTime(b.ScheduledDate, b.ScheduledTime, b.Timezone, b.RequesterTimezone)
	return fmt.Sprintf("%s / %s %s (%s)", when, humanDate(date), clock, b.RequesterTimezone)
}

// humanDate renders 2030-01-07 as "7 January 2030".
func humanDate(date string) string {
	t, err := timezone.ParseDate(date)
	if err != nil {
		return date
	}
	return t.Format("2 January 2006")
}
