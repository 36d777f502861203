package app

import "time"

// AvailabilityWindow is a recurring weekly period during which a coach accepts
// bookings. Start and end are wall-clock "HH:MM" strings.
type AvailabilityWindow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DayOfWeek int       `json:"day_of_week"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Timezone  string    `json:"timezone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// BlackoutDate blocks every day in [StartDate, EndDate] regardless of windows.
type BlackoutDate struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingNoShow    BookingStatus = "NO_SHOW"
)

// Blocking reports whether a booking in this status occupies its time range.
func (s BookingStatus) Blocking() bool {
	return s == BookingPending || s == BookingConfirmed
}

type Booking struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	CustomerEmail string        `json:"customer_email"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Duration      int           `json:"duration"`
	Status        BookingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`
}

// Slot is a bookable interval of the requested duration.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
