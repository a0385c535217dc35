package models

import "time"

// Booking is a scheduled meeting. ScheduledDate and ScheduledTime are always
// expressed in Timezone, which is the organizer zone once the record is stored.
type Booking struct {
	ID                string    `json:"id"`
	MeetingType       string    `json:"meeting_type"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Phone             string    `json:"phone,omitempty"`
	Company           string    `json:"company,omitempty"`
	ScheduledDate     string    `json:"scheduled_date"`
	ScheduledTime     string    `json:"scheduled_time"`
	Timezone          string    `json:"timezone"`
	RequesterTimezone string    `json:"requester_timezone,omitempty"`
	Status            string    `json:"status"` // pending, confirmed, completed, cancelled
	Message           string    `json:"message,omitempty"`
	ForwardedTo       string    `json:"forwarded_to,omitempty"`
	AdminNotes        string    `json:"admin_notes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           int64     `json:"version"`
}

// Clone returns a detached copy so stores never hand out shared pointers.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// SlotKey identifies the organizer-zone slot the booking occupies.
func (b *Booking) SlotKey() SlotKey {
	return SlotKey{Date: b.ScheduledDate, Time: b.ScheduledTime, Zone: b.Timezone}
}

// BookingDraft is a requester submission. Date and time are in Timezone
// (the requester zone); an empty Timezone means the organizer zone.
type BookingDraft struct {
	MeetingType   string `json:"meeting_type" validate:"required,max=64"`
	Name          string `json:"name" validate:"required,max=200"`
	Email         string `json:"email" validate:"required,email,max=254"`
	Phone         string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Company       string `json:"company,omitempty" validate:"omitempty,max=200"`
	ScheduledDate string `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
	ScheduledTime string `json:"scheduled_time" validate:"required,datetime=15:04"`
	Timezone      string `json:"timezone,omitempty" validate:"omitempty,max=64"`
	Message       string `json:"message,omitempty" validate:"omitempty,max=4000"`
	Status        string `json:"status,omitempty" validate:"omitempty,oneof=pending confirmed"`
}

// BookingPatch is a partial update. Each field is unchanged, set or cleared.
// Timezone names the zone of ScheduledDate/ScheduledTime in this patch.
type BookingPatch struct {
	MeetingType   Field[string] `json:"meeting_type"`
	Name          Field[string] `json:"name"`
	Email         Field[string] `json:"email"`
	Phone         Field[string] `json:"phone"`
	Company       Field[string] `json:"company"`
	ScheduledDate Field[string] `json:"scheduled_date"`
	ScheduledTime Field[string] `json:"scheduled_time"`
	Timezone      string        `json:"timezone,omitempty"`
	Status        Field[string] `json:"status"`
	Message       Field[string] `json:"message"`
	ForwardedTo   Field[string] `json:"forwarded_to"`
	AdminNotes    Field[string] `json:"admin_notes"`
}

// Reschedules reports whether the patch touches the scheduled slot.
func (p BookingPatch) Reschedules() bool {
	return !p.ScheduledDate.IsUnchanged() || !p.ScheduledTime.IsUnchanged()
}

// ForwardRequest reassigns a booking and optionally moves it.
type ForwardRequest struct {
	ForwardedTo   string        `json:"forwarded_to" validate:"required,max=254"`
	AdminNotes    Field[string] `json:"admin_notes"`
	ScheduledDate string        `json:"scheduled_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ScheduledTime string        `json:"scheduled_time,omitempty" validate:"omitempty,datetime=15:04"`
	Timezone      string        `json:"timezone,omitempty"`
}

// BookingFilter narrows admin listings. Status accepts a concrete status,
// FilterAll or FilterUpcoming and is resolved into Statuses by the ledger;
// stores only look at Statuses.
type BookingFilter struct {
	Status   string
	Statuses []string
	From     string
	To       string
	Limit    int
}

// BookingStats holds per-status counters.
type BookingStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// Add counts n bookings with the given status.
func (s *BookingStats) Add(status string, n int) {
	s.Total += n
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusConfirmed:
		s.Confirmed += n
	case StatusCompleted:
		s.Completed += n
	case StatusCancelled:
		s.Cancelled += n
	}
}

// SlotKey is the contended key of the booking invariant.
type SlotKey struct {
	Date string
	Time string
	Zone string
}

func (k SlotKey) String() string {
	return k.Zone + "|" + k.Date + "|" + k.Time
}
