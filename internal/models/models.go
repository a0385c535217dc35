package models

import (
	"slices"
	"time"
)

// Availability is one recurring weekly window in the organizer zone.
// An EndTime at or before StartTime runs into the next day.
type Availability struct {
	DayOfWeek   int    `json:"day_of_week" yaml:"day_of_week" validate:"min=0,max=6"`
	StartTime   string `json:"start_time" yaml:"start_time" validate:"required,datetime=15:04"`
	EndTime     string `json:"end_time" yaml:"end_time" validate:"required,datetime=15:04"`
	IsAvailable bool   `json:"is_available" yaml:"is_available"`
}

// BookingSettings is the organizer configuration singleton.
type BookingSettings struct {
	Timezone            string         `json:"timezone" validate:"required"`
	OffsetHoursHint     float64        `json:"offset_hours_hint"`
	SlotDurationMinutes int            `json:"slot_duration_minutes" validate:"min=1,max=1440"`
	BufferMinutes       int            `json:"buffer_minutes" validate:"min=0,max=1440"`
	AdvanceBookingDays  int            `json:"advance_booking_days" validate:"min=0,max=366"`
	WorkingDays         []int          `json:"working_days" validate:"dive,min=0,max=6"`
	Availability        []Availability `json:"availability" validate:"dive"`
	BlockedDates        []string       `json:"blocked_dates" validate:"dive,datetime=2006-01-02"`
	RequireApproval     bool           `json:"require_approval"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// DefaultBookingSettings returns the settings created on first read:
// Monday to Friday, 09:00-17:00 in zone.
func DefaultBookingSettings(zone string) BookingSettings {
	if zone == "" {
		zone = DefaultOrganizerTimezone
	}
	s := BookingSettings{
		Timezone:            zone,
		SlotDurationMinutes: DefaultSlotDurationMinutes,
		BufferMinutes:       DefaultBufferMinutes,
		AdvanceBookingDays:  DefaultAdvanceBookingDays,
		WorkingDays:         []int{1, 2, 3, 4, 5},
		BlockedDates:        []string{},
	}
	for day := 0; day < 7; day++ {
		s.Availability = append(s.Availability, Availability{
			DayOfWeek:   day,
			StartTime:   "09:00",
			EndTime:     "17:00",
			IsAvailable: day >= 1 && day <= 5,
		})
	}
	return s
}

// Clone deep-copies the slices so callers can mutate freely.
func (s BookingSettings) Clone() BookingSettings {
	s.WorkingDays = slices.Clone(s.WorkingDays)
	s.Availability = slices.Clone(s.Availability)
	s.BlockedDates = slices.Clone(s.BlockedDates)
	return s
}

func (s BookingSettings) IsWorkingDay(day time.Weekday) bool {
	return slices.Contains(s.WorkingDays, int(day))
}

func (s BookingSettings) IsBlocked(date string) bool {
	return slices.Contains(s.BlockedDates, date)
}

// RuleFor returns the first available rule for the weekday.
func (s BookingSettings) RuleFor(day time.Weekday) (Availability, bool) {
	for _, rule := range s.Availability {
		if rule.DayOfWeek == int(day) && rule.IsAvailable {
			return rule, true
		}
	}
	return Availability{}, false
}

// MeetingTypeOption is an immutable catalog entry.
type MeetingTypeOption struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	DurationMinutes int    `json:"duration_minutes" yaml:"duration_minutes"`
	Description     string `json:"description" yaml:"description"`
}

// DefaultMeetingTypes is the built-in catalog.
func DefaultMeetingTypes() []MeetingTypeOption {
	return []MeetingTypeOption{
		{
			ID:              "discovery",
			Name:            "Free Discovery Call",
			DurationMinutes: 15,
			Description:     "A quick 15-minute call to discuss your needs and see how we can help.",
		},
		{
			ID:              "strategy",
			Name:            "Growth Strategy Session",
			DurationMinutes: 30,
			Description:     "A comprehensive 30-minute session to dive deep into your growth strategy.",
		},
		{
			ID:              "consultation",
			Name:            "Service Consultation",
			DurationMinutes: 30,
			Description:     "A 30-minute consultation to explore our services and find the best fit for you.",
		},
	}
}

// FindMeetingType looks an option up by id.
func FindMeetingType(options []MeetingTypeOption, id string) (MeetingTypeOption, bool) {
	for _, o := range options {
		if o.ID == id {
			return o, true
		}
	}
	return MeetingTypeOption{}, false
}

// TimeSlot is a derived candidate slot. Start and End carry the requester location.
type TimeSlot struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Available     bool      `json:"available"`
	OrganizerDate string    `json:"organizer_date"`
	OrganizerTime string    `json:"organizer_time"`
	RequesterDate string    `json:"requester_date"`
	RequesterTime string    `json:"requester_time"`
}
