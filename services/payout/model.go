package payout

import (
	"time"
)

type PayoutStatus string

const (
	StatusPending PayoutStatus = "pending"
	StatusPaid    PayoutStatus = "paid"
	StatusFailed  PayoutStatus = "failed"
)

// Payout is the club's share of one settled order, transferred to the club's
// connected payout account. One payout per order.
type Payout struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`

	PayoutCode string `gorm:"column:payout_code;uniqueIndex" json:"payout_code"`
	OrderID    string `gorm:"column:order_id;uniqueIndex" json:"order_id"`
	ClubID     string `gorm:"column:club_id;index" json:"club_id"`

	Amount   int64  `gorm:"column:amount" json:"amount"`
	Currency string `gorm:"column:currency" json:"currency"`

	TransferID    string       `gorm:"column:transfer_id" json:"transfer_id,omitempty"`
	Status        PayoutStatus `gorm:"column:status" json:"status"`
	FailureReason string       `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	PaidAt        *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
}

func (Payout) TableName() string {
	return "payouts"
}
