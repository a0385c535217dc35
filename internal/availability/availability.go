// Package availability answers which organizer dates are open and what
// their booking windows look like in any zone.
package availability

import (
	"time"

	"meetbook/internal/models"
	"meetbook/internal/timezone"
)

// Model is an immutable view of the settings at one point in time.
// Build a new one per request; it never caches across dates or calls.
type Model struct {
	settings models.BookingSettings
	conv     *timezone.Converter
	loc      *time.Location
	today    time.Time
	lastDay  time.Time
}

// Window is an open booking window as absolute instants in the organizer
// location. End is after Start; a rule ending at or before its start runs
// into the following day.
type Window struct {
	Date  string
	Rule  models.Availability
	Start time.Time
	End   time.Time
}

// ConvertedWindow is a rule's window rendered in another zone for one
// organizer date. The converted start and end may fall on different
// calendar dates; CrossesMidnight flags that case.
type ConvertedWindow struct {
	Date            string `json:"date"`
	Zone            string `json:"zone"`
	StartDate       string `json:"start_date"`
	StartTime       string `json:"start_time"`
	EndDate         string `json:"end_date"`
	EndTime         string `json:"end_time"`
	CrossesMidnight bool   `json:"crosses_midnight"`
}

func New(settings models.BookingSettings, conv *timezone.Converter, now time.Time) (*Model, error) {
	loc, err := conv.Location(settings.Timezone)
	if err != nil {
		return nil, err
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return &Model{
		settings: settings,
		conv:     conv,
		loc:      loc,
		today:    today,
		lastDay:  today.AddDate(0, 0, settings.AdvanceBookingDays),
	}, nil
}

func (m *Model) Settings() models.BookingSettings { return m.settings }
func (m *Model) Location() *time.Location         { return m.loc }
func (m *Model) Zone() string                     { return m.settings.Timezone }

// Today is the current organizer-zone date.
func (m *Model) Today() string { return m.today.Format(models.DateLayout) }

// LastDay is the last bookable organizer-zone date.
func (m *Model) LastDay() string { return m.lastDay.Format(models.DateLayout) }

// InHorizon reports whether date lies in [today, today+advance days].
func (m *Model) InHorizon(date string) bool {
	d, err := timezone.ParseDate(date)
	if err != nil {
		return false
	}
	return !d.Before(m.today) && !d.After(m.lastDay)
}

// Rule returns the weekly rule for date. It reports false (closed) when the
// date is blocked, outside the horizon, not a working day or has no
// available rule.
func (m *Model) Rule(date string) (models.Availability, bool) {
	d, err := timezone.ParseDate(date)
	if err != nil {
		return models.Availability{}, false
	}
	if d.Before(m.today) || d.After(m.lastDay) {
		return models.Availability{}, false
	}
	if m.settings.IsBlocked(d.Format(models.DateLayout)) {
		return models.Availability{}, false
	}
	if !m.settings.IsWorkingDay(d.Weekday()) {
		return models.Availability{}, false
	}
	return m.settings.RuleFor(d.Weekday())
}

func (m *Model) Closed(date string) bool {
	_, ok := m.Rule(date)
	return !ok
}

func (m *Model) Window(date string) (Window, bool) {
	rule, ok := m.Rule(date)
	if !ok {
		return Window{}, false
	}
	start, err := timezone.CivilInstant(date, rule.StartTime, m.loc)
	if err != nil {
		return Window{}, false
	}
	end, err := timezone.CivilInstant(endDate(date, rule), rule.EndTime, m.loc)
	if err != nil || !end.After(start) {
		return Window{}, false
	}
	return Window{Date: date, Rule: rule, Start: start, End: end}, true
}

// ConvertedWindow translates the rule for date into targetZone using the
// offsets in force on that date. Conversion failures fall back to the
// organizer values.
func (m *Model) ConvertedWindow(date, targetZone string) (ConvertedWindow, bool) {
	rule, ok := m.Rule(date)
	if !ok {
		return ConvertedWindow{}, false
	}
	sd, st := m.conv.ConvertDateTime(date, rule.StartTime, m.settings.Timezone, targetZone)
	ed, et := m.conv.ConvertDateTime(endDate(date, rule), rule.EndTime, m.settings.Timezone, targetZone)
	return ConvertedWindow{
		Date:            date,
		Zone:            targetZone,
		StartDate:       sd,
		StartTime:       st,
		EndDate:         ed,
		EndTime:         et,
		CrossesMidnight: sd != ed,
	}, true
}

// UpcomingDates lists open dates starting tomorrow, at most limit of them.
func (m *Model) UpcomingDates(limit int) []string {
	if limit <= 0 {
		limit = models.DefaultUpcomingDates
	}
	var dates []string
	for d := m.today.AddDate(0, 0, 1); !d.After(m.lastDay) && len(dates) < limit; d = d.AddDate(0, 0, 1) {
		date := d.Format(models.DateLayout)
		if !m.Closed(date) {
			dates = append(dates, date)
		}
	}
	return dates
}

// endDate returns the organizer date on which the rule's end time falls.
func endDate(date string, rule models.Availability) string {
	sh, sm, err1 := timezone.ParseClock(rule.StartTime)
	eh, em, err2 := timezone.ParseClock(rule.EndTime)
	if err1 != nil || err2 != nil || eh*60+em > sh*60+sm {
		return date
	}
	d, err := timezone.ParseDate(date)
	if err != nil {
		return date
	}
	return d.AddDate(0, 0, 1).Format(models.DateLayout)
}
