package service

import (
	"context"
	"fmt"

	"meetbook/internal/domain"
	"meetbook/internal/events"
	"meetbook/internal/models"
)

// Approve confirms a pending booking. The slot is re-checked because it may
// have been taken since submission; on conflict the booking stays pending.
func (l *Ledger) Approve(ctx context.Context, id string) (*models.Booking, error) {
	return l.transition(ctx, id, models.StatusConfirmed)
}

// Cancel moves any non-terminal booking to cancelled.
func (l *Ledger) Cancel(ctx context.Context, id string) (*models.Booking, error) {
	return l.transition(ctx, id, models.StatusCancelled)
}

// Complete closes a confirmed booking.
func (l *Ledger) Complete(ctx context.Context, id string) (*models.Booking, error) {
	return l.transition(ctx, id, models.StatusCompleted)
}

func (l *Ledger) transition(ctx context.Context, id, to string) (*models.Booking, error) {
	current, err := l.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%s -> %s: %w", current.Status, to, domain.ErrInvalidTransition)
	}

	next := current.Clone()
	next.Status = to
	if err := l.save(ctx, current, next, false); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("booking_id", id).
		Str("from", current.Status).
		Str("to", to).
		Msg("Booking status changed")
	l.announce(ctx, events.StatusEvent(to), next, current.Status)
	return next, nil
}

// Forward hands the booking to someone else and optionally moves it. A new
// date and time go through the same conflict path as Update.
func (l *Ledger) Forward(ctx context.Context, id string, req models.ForwardRequest) (*models.Booking, error) {
	if err := validateStruct(l.validate, req); err != nil {
		return nil, err
	}
	if (req.ScheduledDate == "") != (req.ScheduledTime == "") {
		return nil, domain.InvalidInput("scheduled_date and scheduled_time must be given together")
	}

	current, err := l.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(current.Status) {
		return nil, fmt.Errorf("forward %s booking: %w", current.Status, domain.ErrInvalidTransition)
	}

	patch := models.BookingPatch{
		ForwardedTo: models.Set(req.ForwardedTo),
		AdminNotes:  req.AdminNotes,
		Timezone:    req.Timezone,
	}
	if req.ScheduledDate != "" {
		patch.ScheduledDate = models.Set(req.ScheduledDate)
		patch.ScheduledTime = models.Set(req.ScheduledTime)
	}
	return l.update(ctx, current, patch, events.EventBookingForwarded)
}
