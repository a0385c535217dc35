// Package slots turns organizer availability into bookable slots rendered
// in the requester's zone.
package slots

import (
	"context"
	"fmt"
	"iter"
	"time"

	"meetbook/internal/availability"
	"meetbook/internal/domain"
	"meetbook/internal/models"
	"meetbook/internal/timezone"

	"github.com/rs/zerolog"
)

// BookingReader is the part of the ledger the generator reads.
type BookingReader interface {
	ConfirmedInRange(ctx context.Context, from, to string) ([]*models.Booking, error)
}

// Request describes one slot query. From and To are organizer-zone dates
// (inclusive); an empty From means today and an empty To means From.
type Request struct {
	From               string
	To                 string
	Timezone           string
	MeetingType        string
	DurationMinutes    int
	BufferMinutes      *int
	IncludeUnavailable bool
}

type Generator struct {
	settings domain.SettingsProvider
	bookings BookingReader
	conv     *timezone.Converter
	catalog  []models.MeetingTypeOption
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewGenerator(
	settings domain.SettingsProvider,
	bookings BookingReader,
	conv *timezone.Converter,
	catalog []models.MeetingTypeOption,
	logger *zerolog.Logger,
) *Generator {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "slots").Logger()
	}
	if len(catalog) == 0 {
		catalog = models.DefaultMeetingTypes()
	}
	return &Generator{
		settings: settings,
		bookings: bookings,
		conv:     conv,
		catalog:  catalog,
		now:      time.Now,
		logger:   &base,
	}
}

// Generate returns the open slots for req as a lazy sequence. Settings and
// confirmed bookings are read once per call; ranging over the sequence
// again replays the same snapshot.
func (g *Generator) Generate(ctx context.Context, req Request) (iter.Seq[models.TimeSlot], error) {
	settings, err := g.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := g.now()
	model, err := availability.New(settings, g.conv, now)
	if err != nil {
		return nil, err
	}

	duration, buffer, err := g.durations(req, settings)
	if err != nil {
		return nil, err
	}

	from, to, err := dateRange(req, model)
	if err != nil {
		return nil, err
	}

	// Overnight windows and bookings kept in a previous organizer zone can
	// sit a day outside the range.
	booked, err := g.bookings.ConfirmedInRange(ctx, from.AddDate(0, 0, -1).Format(models.DateLayout),
		to.AddDate(0, 0, 1).Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("load confirmed bookings: %w", err)
	}
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		date, clock := b.ScheduledDate, b.ScheduledTime
		if b.Timezone != "" && !timezone.SameZone(b.Timezone, settings.Timezone) {
			date, clock, err = g.conv.ToZone(date, clock, b.Timezone, settings.Timezone)
			if err != nil {
				g.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("Cannot place booking in organizer zone")
				continue
			}
		}
		taken[date+"|"+clock] = struct{}{}
	}

	zone := req.Timezone
	if zone == "" {
		zone = settings.Timezone
	}
	orgLoc := model.Location()
	reqLoc := g.conv.LocationOr(zone, orgLoc)
	step := duration + buffer

	g.logger.Debug().
		Str("from", from.Format(models.DateLayout)).
		Str("to", to.Format(models.DateLayout)).
		Str("zone", zone).
		Dur("duration", duration).
		Dur("buffer", buffer).
		Int("booked", len(taken)).
		Msg("Generating slots")

	seq := func(yield func(models.TimeSlot) bool) {
		var cursor time.Time
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			w, ok := model.Window(d.Format(models.DateLayout))
			if !ok {
				continue
			}
			for start := w.Start; !start.Add(duration).After(w.End); start = start.Add(step) {
				if start.Before(now) || start.Before(cursor) {
					continue
				}
				org := start.In(orgLoc)
				oDate, oTime := org.Format(models.DateLayout), org.Format(models.ClockLayout)
				_, isTaken := taken[oDate+"|"+oTime]
				if isTaken && !req.IncludeUnavailable {
					continue
				}
				rs, re := start.In(reqLoc), start.Add(duration).In(reqLoc)
				cursor = start.Add(duration)
				if !yield(models.TimeSlot{
					Start:         rs,
					End:           re,
					Available:     !isTaken,
					OrganizerDate: oDate,
					OrganizerTime: oTime,
					RequesterDate: rs.Format(models.DateLayout),
					RequesterTime: rs.Format(models.ClockLayout),
				}) {
					return
				}
			}
		}
	}
	return seq, nil
}

// Slots is Generate collected into a slice.
func (g *Generator) Slots(ctx context.Context, req Request) ([]models.TimeSlot, error) {
	seq, err := g.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := []models.TimeSlot{}
	for s := range seq {
		out = append(out, s)
	}
	return out, nil
}

// Dates lists the next open organizer dates with their windows rendered in zone.
func (g *Generator) Dates(ctx context.Context, zone string, limit int) ([]availability.ConvertedWindow, error) {
	settings, err := g.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	model, err := availability.New(settings, g.conv, g.now())
	if err != nil {
		return nil, err
	}
	if zone == "" {
		zone = settings.Timezone
	}
	out := []availability.ConvertedWindow{}
	for _, date := range model.UpcomingDates(limit) {
		if cw, ok := model.ConvertedWindow(date, zone); ok {
			out = append(out, cw)
		}
	}
	return out, nil
}

// MeetingTypes returns the catalog the generator resolves durations from.
func (g *Generator) MeetingTypes() []models.MeetingTypeOption {
	return append([]models.MeetingTypeOption(nil), g.catalog...)
}

func (g *Generator) durations(req Request, settings models.BookingSettings) (time.Duration, time.Duration, error) {
	minutes := settings.SlotDurationMinutes
	if req.MeetingType != "" {
		mt, ok := models.FindMeetingType(g.catalog, req.MeetingType)
		if !ok {
			return 0, 0, domain.InvalidInput("unknown meeting type %q", req.MeetingType)
		}
		minutes = mt.DurationMinutes
	}
	if req.DurationMinutes != 0 {
		minutes = req.DurationMinutes
	}
	if minutes <= 0 {
		return 0, 0, domain.InvalidInput("meeting duration must be positive")
	}

	buffer := settings.BufferMinutes
	if req.BufferMinutes != nil {
		buffer = *req.BufferMinutes
	}
	if buffer < 0 {
		return 0, 0, domain.InvalidInput("buffer must not be negative")
	}
	return time.Duration(minutes) * time.Minute, time.Duration(buffer) * time.Minute, nil
}

func dateRange(req Request, model *availability.Model) (time.Time, time.Time, error) {
	fromStr := req.From
	if fromStr == "" {
		fromStr = model.Today()
	}
	toStr := req.To
	if toStr == "" {
		toStr = fromStr
	}
	from, err := timezone.ParseDate(fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := timezone.ParseDate(toStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, domain.InvalidInput("range end %s is before start %s", toStr, fromStr)
	}
	if to.Sub(from) > models.MaxSlotRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, domain.InvalidInput("range exceeds %d days", models.MaxSlotRangeDays)
	}
	return from, to, nil
}
