package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	FilterAll      = "all"
	FilterUpcoming = "upcoming"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

const (
	// DefaultOrganizerTimezone зона организатора, если в настройках пусто
	DefaultOrganizerTimezone = "Asia/Kolkata"

	DefaultSlotDurationMinutes = 30
	DefaultBufferMinutes       = 15
	DefaultAdvanceBookingDays  = 30

	// DefaultUpcomingDates количество ближайших доступных дат для выбора
	DefaultUpcomingDates = 14

	// MaxSlotRangeDays максимальный диапазон дат для генерации слотов
	MaxSlotRangeDays = 62

	// DefaultPaginationSize количество бронирований на странице в боте
	DefaultPaginationSize = 5

	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 128
)

// transitions lists the legal lifecycle moves. Completed and cancelled are terminal.
var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// IsValidStatus reports whether status is one of the lifecycle states.
func IsValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
