package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"meetbook/internal/models"

	"github.com/rs/zerolog"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe("test_event", handler)

	payload := map[string]string{"foo": "bar"}
	err := bus.PublishJSON("test_event", payload)
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != "test_event" {
		t.Errorf("expected type test_event, got %s", received.Type)
	}

	var decoded map[string]string
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %s", decoded["foo"])
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	var count1, count2, countAll int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })
	bus.Subscribe(AllEvents, func(_ *Event) error { countAll++; return nil })

	bus.Publish(&Event{Type: "event"})
	bus.Publish(&Event{Type: "other"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
	if countAll != 2 {
		t.Errorf("expected wildcard handler to see 2 events, got %d", countAll)
	}
}

func TestEventBusHandlerErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := NewEventBus(&logger)

	called := false
	bus.Subscribe("event", func(_ *Event) error { return errors.New("boom") })
	bus.Subscribe("event", func(_ *Event) error { called = true; return nil })

	bus.Publish(&Event{Type: "event"})

	if !called {
		t.Errorf("second handler must run after a failing one")
	}
	if !bytes.Contains(buf.Bytes(), []byte("boom")) {
		t.Errorf("expected handler error in log, got %s", buf.String())
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	err := bus.PublishJSON("unknown", nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	var nilBus *EventBus
	if err := nilBus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("nil bus must be a no-op: %v", err)
	}
}

func TestNewJSONEvent(t *testing.T) {
	booking := &models.Booking{ID: "b-1", Status: models.StatusConfirmed, ScheduledDate: "2030-01-07", ScheduledTime: "09:00"}
	payload := PayloadFromBooking(booking, models.StatusPending, time.Now())
	event, err := NewJSONEvent("type", payload)
	if err != nil {
		t.Fatalf("NewJSONEvent failed: %v", err)
	}

	if event.Type != "type" {
		t.Errorf("expected type, got %s", event.Type)
	}

	if event.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded BookingEventPayload
	if err := json.Unmarshal(event.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if decoded.BookingID != "b-1" || decoded.PreviousStatus != models.StatusPending {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestStatusEvent(t *testing.T) {
	cases := map[string]string{
		models.StatusConfirmed: EventBookingConfirmed,
		models.StatusCancelled: EventBookingCancelled,
		models.StatusCompleted: EventBookingCompleted,
		models.StatusPending:   EventBookingUpdated,
	}
	for status, want := range cases {
		if got := StatusEvent(status); got != want {
			t.Errorf("StatusEvent(%s) = %s, want %s", status, got, want)
		}
	}
}
