package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetbook/internal/availability"
	"meetbook/internal/domain"
	"meetbook/internal/events"
	"meetbook/internal/metrics"
	"meetbook/internal/models"
	"meetbook/internal/timezone"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger is the authoritative owner of booking records. Every write that can
// produce a confirmed booking runs check-then-write under the slot lock, and
// the store repeats the check inside its own conditional write.
type Ledger struct {
	store    domain.BookingStore
	settings domain.SettingsProvider
	locker   domain.SlotLocker
	conv     *timezone.Converter
	catalog  []models.MeetingTypeOption
	eventBus domain.EventPublisher
	queue    domain.NotificationQueue
	validate *validator.Validate
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewLedger(
	store domain.BookingStore,
	settings domain.SettingsProvider,
	locker domain.SlotLocker,
	conv *timezone.Converter,
	catalog []models.MeetingTypeOption,
	eventBus domain.EventPublisher,
	queue domain.NotificationQueue,
	logger *zerolog.Logger,
) *Ledger {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "ledger").Logger()
	}
	if len(catalog) == 0 {
		catalog = models.DefaultMeetingTypes()
	}
	return &Ledger{
		store:    store,
		settings: settings,
		locker:   locker,
		conv:     conv,
		catalog:  catalog,
		eventBus: eventBus,
		queue:    queue,
		validate: newValidator(),
		now:      time.Now,
		logger:   &base,
	}
}

// CheckConflict returns the confirmed bookings holding the organizer-zone
// date and time, excluding excludeID. The meeting type does not narrow the
// result: one organizer can hold one meeting per slot.
func (l *Ledger) CheckConflict(ctx context.Context, date, clock, meetingType, excludeID string) ([]*models.Booking, error) {
	settings, err := l.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	return l.store.FindConfirmed(ctx, models.SlotKey{Date: date, Time: clock, Zone: settings.Timezone}, excludeID)
}

// Create books a slot. The draft's date and time are read in draft.Timezone
// and stored in the organizer zone.
func (l *Ledger) Create(ctx context.Context, draft models.BookingDraft) (*models.Booking, error) {
	if err := validateStruct(l.validate, draft); err != nil {
		return nil, err
	}
	if _, ok := models.FindMeetingType(l.catalog, draft.MeetingType); !ok {
		return nil, &domain.ValidationError{Fields: map[string]string{"meeting_type": "unknown meeting type"}}
	}

	settings, err := l.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	model, err := availability.New(settings, l.conv, l.now())
	if err != nil {
		return nil, err
	}

	sourceZone := draft.Timezone
	if sourceZone == "" {
		sourceZone = model.Zone()
	}
	date, clock, err := l.conv.ToZone(draft.ScheduledDate, draft.ScheduledTime, sourceZone, model.Zone())
	if err != nil {
		return nil, err
	}
	if err := l.checkBookable(model, date, clock); err != nil {
		return nil, err
	}

	status := draft.Status
	switch {
	case settings.RequireApproval:
		status = models.StatusPending
	case status == "":
		status = models.StatusConfirmed
	}

	booking := &models.Booking{
		ID:                uuid.NewString(),
		MeetingType:       draft.MeetingType,
		Name:              draft.Name,
		Email:             draft.Email,
		Phone:             draft.Phone,
		Company:           draft.Company,
		ScheduledDate:     date,
		ScheduledTime:     clock,
		Timezone:          model.Zone(),
		RequesterTimezone: timezone.NormalizeZone(sourceZone),
		Status:            status,
		Message:           draft.Message,
	}

	err = l.withSlot(ctx, booking, func() error {
		return l.store.CreateBooking(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingCreated(booking.Status)
	l.logger.Info().
		Str("booking_id", booking.ID).
		Str("date", booking.ScheduledDate).
		Str("time", booking.ScheduledTime).
		Str("status", booking.Status).
		Msg("Booking created")
	l.announce(ctx, events.EventBookingCreated, booking, "")
	return booking, nil
}

// Update applies a tagged patch. Date and time in the patch are read in
// patch.Timezone (organizer zone when empty).
func (l *Ledger) Update(ctx context.Context, id string, patch models.BookingPatch) (*models.Booking, error) {
	current, err := l.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	eventType := events.EventBookingUpdated
	if status, ok := patch.Status.Value(); ok && status != current.Status {
		eventType = events.StatusEvent(status)
	}
	return l.update(ctx, current, patch, eventType)
}

func (l *Ledger) update(ctx context.Context, current *models.Booking, patch models.BookingPatch, eventType string) (*models.Booking, error) {
	next := current.Clone()
	if err := l.applyPatch(next, patch); err != nil {
		return nil, err
	}

	if patch.Reschedules() {
		if err := l.reschedule(ctx, current, next, patch); err != nil {
			return nil, err
		}
	}

	if next.Status != current.Status && !models.CanTransition(current.Status, next.Status) {
		return nil, fmt.Errorf("%s -> %s: %w", current.Status, next.Status, domain.ErrInvalidTransition)
	}

	if err := l.save(ctx, current, next, patch.Reschedules()); err != nil {
		return nil, err
	}
	l.announce(ctx, eventType, next, current.Status)
	return next, nil
}

// save writes next over current. Confirmed results and moved bookings are
// conflict-checked (own id excluded) under the slot lock.
func (l *Ledger) save(ctx context.Context, current, next *models.Booking, moved bool) error {
	write := func() error {
		return l.store.UpdateBooking(ctx, next, current.Version)
	}
	if next.Status != models.StatusConfirmed && !moved {
		return write()
	}
	return l.withSlot(ctx, next, write)
}

// withSlot runs write inside the per-slot critical section after re-running
// the conflict check.
func (l *Ledger) withSlot(ctx context.Context, b *models.Booking, write func() error) error {
	unlock, err := l.locker.Lock(ctx, b.SlotKey())
	if err != nil {
		return fmt.Errorf("lock slot %s: %w", b.SlotKey(), err)
	}
	defer unlock()

	conflicts, err := l.store.FindConfirmed(ctx, b.SlotKey(), b.ID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		metrics.IncSlotConflict()
		return fmt.Errorf("%s %s: %w", b.ScheduledDate, b.ScheduledTime, domain.ErrSlotUnavailable)
	}

	if err := write(); err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			metrics.IncSlotConflict()
		}
		return err
	}
	return nil
}

func (l *Ledger) applyPatch(b *models.Booking, p models.BookingPatch) error {
	fields := map[string]string{}
	required := func(name string, f models.Field[string], dst *string) {
		if f.IsClear() {
			fields[name] = "cannot be cleared"
			return
		}
		if v, ok := f.Value(); ok {
			if v == "" {
				fields[name] = "is required"
				return
			}
			*dst = v
		}
	}

	required("meeting_type", p.MeetingType, &b.MeetingType)
	required("name", p.Name, &b.Name)
	required("email", p.Email, &b.Email)
	required("status", p.Status, &b.Status)
	if p.ScheduledDate.IsClear() {
		fields["scheduled_date"] = "cannot be cleared"
	}
	if p.ScheduledTime.IsClear() {
		fields["scheduled_time"] = "cannot be cleared"
	}

	p.Phone.Apply(&b.Phone)
	p.Company.Apply(&b.Company)
	p.Message.Apply(&b.Message)
	p.ForwardedTo.Apply(&b.ForwardedTo)
	p.AdminNotes.Apply(&b.AdminNotes)

	if p.Email.IsSet() && fields["email"] == "" {
		if err := l.validate.Var(b.Email, "email"); err != nil {
			fields["email"] = "must be a valid email address"
		}
	}
	if p.MeetingType.IsSet() && fields["meeting_type"] == "" {
		if _, ok := models.FindMeetingType(l.catalog, b.MeetingType); !ok {
			fields["meeting_type"] = "unknown meeting type"
		}
	}
	if p.Status.IsSet() && fields["status"] == "" && !models.IsValidStatus(b.Status) {
		fields["status"] = "unknown status"
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// reschedule normalizes the patched date and time into the organizer zone.
// With a foreign patch zone both values must be given.
func (l *Ledger) reschedule(ctx context.Context, current, next *models.Booking, p models.BookingPatch) error {
	settings, err := l.settings.Get(ctx)
	if err != nil {
		return err
	}
	model, err := availability.New(settings, l.conv, l.now())
	if err != nil {
		return err
	}

	sourceZone := p.Timezone
	if sourceZone == "" {
		sourceZone = model.Zone()
	}
	date, dateSet := p.ScheduledDate.Value()
	clock, clockSet := p.ScheduledTime.Value()
	if !dateSet || !clockSet {
		if !timezone.SameZone(sourceZone, current.Timezone) {
			return domain.InvalidInput("scheduled_date and scheduled_time must be changed together when timezone is given")
		}
		if !dateSet {
			date = current.ScheduledDate
		}
		if !clockSet {
			clock = current.ScheduledTime
		}
	}

	date, clock, err = l.conv.ToZone(date, clock, sourceZone, model.Zone())
	if err != nil {
		return err
	}
	if err := l.checkNotPast(model, date, clock); err != nil {
		return err
	}
	next.ScheduledDate = date
	next.ScheduledTime = clock
	next.Timezone = model.Zone()
	return nil
}

func (l *Ledger) checkNotPast(model *availability.Model, date, clock string) error {
	start, err := timezone.CivilInstant(date, clock, model.Location())
	if err != nil {
		return err
	}
	if start.Before(l.now()) {
		return fmt.Errorf("%s %s: %w", date, clock, domain.ErrPastSlot)
	}
	return nil
}

func (l *Ledger) checkBookable(model *availability.Model, date, clock string) error {
	if err := l.checkNotPast(model, date, clock); err != nil {
		return err
	}
	if date > model.LastDay() {
		return fmt.Errorf("%s after %s: %w", date, model.LastDay(), domain.ErrBeyondHorizon)
	}
	return nil
}

// Delete purges the booking permanently.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	current, err := l.store.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if err := l.store.DeleteBooking(ctx, id); err != nil {
		return err
	}
	l.logger.Info().Str("booking_id", id).Msg("Booking deleted")
	l.publish(events.EventBookingDeleted, current, current.Status)
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Booking, error) {
	return l.store.GetBooking(ctx, id)
}

// List resolves the status filter. "upcoming" means pending or confirmed
// and not yet started in the organizer zone.
func (l *Ledger) List(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	switch filter.Status {
	case "", models.FilterAll:
		filter.Statuses = nil
	case models.FilterUpcoming:
		return l.upcoming(ctx, filter)
	default:
		if !models.IsValidStatus(filter.Status) {
			return nil, domain.InvalidInput("unknown status filter %q", filter.Status)
		}
		filter.Statuses = []string{filter.Status}
	}
	return l.store.ListBookings(ctx, filter)
}

func (l *Ledger) upcoming(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	settings, err := l.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	model, err := availability.New(settings, l.conv, l.now())
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	filter.Limit = 0
	filter.Statuses = []string{models.StatusPending, models.StatusConfirmed}
	if filter.From < model.Today() {
		filter.From = model.Today()
	}
	bookings, err := l.store.ListBookings(ctx, filter)
	if err != nil {
		return nil, err
	}

	nowClock := l.now().In(model.Location()).Format(models.ClockLayout)
	out := bookings[:0]
	for _, b := range bookings {
		if b.ScheduledDate == model.Today() && b.ScheduledTime < nowClock {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *Ledger) Stats(ctx context.Context) (models.BookingStats, error) {
	return l.store.CountByStatus(ctx)
}

// announce publishes the domain event and hands the booking to the
// notification queue. Both happen after the write and never fail it.
func (l *Ledger) announce(ctx context.Context, eventType string, b *models.Booking, previousStatus string) {
	l.publish(eventType, b, previousStatus)
	if l.queue == nil {
		return
	}
	if err := l.queue.Enqueue(ctx, eventType, b); err != nil {
		l.logger.Error().Err(err).Str("booking_id", b.ID).Str("event", eventType).Msg("Failed to enqueue notification")
	}
}

func (l *Ledger) publish(eventType string, b *models.Booking, previousStatus string) {
	if l.eventBus == nil {
		return
	}
	payload := events.PayloadFromBooking(b, previousStatus, l.now())
	if err := l.eventBus.PublishJSON(eventType, payload); err != nil {
		l.logger.Error().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
