package event

import (
	"time"
)

type EventStatus string

var (
	StatusDraft     EventStatus = "draft"
	StatusPublished EventStatus = "published"
	StatusCanceled  EventStatus = "canceled"
	StatusCompleted EventStatus = "completed"
)

func (s EventStatus) String() string {
	switch s {
	case StatusDraft, StatusPublished, StatusCanceled, StatusCompleted:
		return string(s)
	default:
		return ""
	}
}

type AttendeeStatus string

var (
	Attending  AttendeeStatus = "attending"
	Waitlisted AttendeeStatus = "waitlisted"
)

// Event capacity of 0 means unlimited.
type Event struct {
	ID            string      `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt     time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"column:updated_at" json:"updated_at"`
	ClubID        string      `gorm:"column:club_id;index" json:"club_id"`
	Title         string      `gorm:"column:title" json:"title"`
	Description   string      `gorm:"column:description" json:"description,omitempty"`
	Location      string      `gorm:"column:location" json:"location,omitempty"`
	StartsAt      time.Time   `gorm:"column:starts_at" json:"starts_at"`
	EndsAt        time.Time   `gorm:"column:ends_at" json:"ends_at"`
	Capacity      int64       `gorm:"column:capacity" json:"capacity"`
	PriceAmount   int64       `gorm:"column:price_amount" json:"price_amount"`
	Currency      string      `gorm:"column:currency" json:"currency"`
	Status        EventStatus `gorm:"column:status" json:"status"`
	AttendeeCount int64       `gorm:"column:attendee_count" json:"attendee_count"`
	WaitlistCount int64       `gorm:"column:waitlist_count" json:"waitlist_count"`
}

func (e *Event) Free() bool {
	return e.PriceAmount == 0
}

// AtCapacity reports whether another attendee would exceed capacity.
func (e *Event) AtCapacity() bool {
	return e.Capacity > 0 && e.AttendeeCount >= e.Capacity
}

type Attendee struct {
	ID         string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at" json:"updated_at"`
	EventID    string         `gorm:"column:event_id;uniqueIndex:idx_attendee_event_user" json:"event_id"`
	UserID     string         `gorm:"column:user_id;uniqueIndex:idx_attendee_event_user" json:"user_id"`
	Status     AttendeeStatus `gorm:"column:status" json:"status"`
	TicketCode string         `gorm:"column:ticket_code" json:"ticket_code,omitempty"`
	OrderID    string         `gorm:"column:order_id" json:"order_id,omitempty"`
}
