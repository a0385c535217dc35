package events

import (
	"encoding/json"
	"sync"
	"time"

	"meetbook/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingCompleted = "booking_completed"
	EventBookingForwarded = "booking_forwarded"
	EventBookingUpdated   = "booking_updated"
	EventBookingDeleted   = "booking_deleted"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID         string    `json:"booking_id"`
	MeetingType       string    `json:"meeting_type"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Status            string    `json:"status"`
	PreviousStatus    string    `json:"previous_status,omitempty"`
	ScheduledDate     string    `json:"scheduled_date"`
	ScheduledTime     string    `json:"scheduled_time"`
	Timezone          string    `json:"timezone"`
	RequesterTimezone string    `json:"requester_timezone,omitempty"`
	ForwardedTo       string    `json:"forwarded_to,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// PayloadFromBooking snapshots a booking for publishing.
func PayloadFromBooking(b *models.Booking, previousStatus string, at time.Time) BookingEventPayload {
	return BookingEventPayload{
		BookingID:         b.ID,
		MeetingType:       b.MeetingType,
		Name:              b.Name,
		Email:             b.Email,
		Status:            b.Status,
		PreviousStatus:    previousStatus,
		ScheduledDate:     b.ScheduledDate,
		ScheduledTime:     b.ScheduledTime,
		Timezone:          b.Timezone,
		RequesterTimezone: b.RequesterTimezone,
		ForwardedTo:       b.ForwardedTo,
		OccurredAt:        at,
	}
}

// StatusEvent maps a lifecycle target status to its event type.
func StatusEvent(status string) string {
	switch status {
	case models.StatusConfirmed:
		return EventBookingConfirmed
	case models.StatusCancelled:
		return EventBookingCancelled
	case models.StatusCompleted:
		return EventBookingCompleted
	default:
		return EventBookingUpdated
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors go to logger when set.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	if event.Type != AllEvents {
		handlers = append(handlers, b.subscribers[AllEvents]...)
	}
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
