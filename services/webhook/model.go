package webhook

import (
	"time"
)

// ProcessedEvent dedupes processor webhook deliveries. The primary key on the
// event ID turns a redelivery into a unique violation, which we answer 200.
type ProcessedEvent struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Type      string    `gorm:"column:type" json:"type"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}
