package order

import (
	"time"
)

type OrderStatus string

const (
	StatusConfirmed OrderStatus = "confirmed"
	StatusRefunded  OrderStatus = "refunded"
)

// Order is the immutable record of a settled purchase. The fee breakdown is
// copied from the purchase so later config changes never rewrite history.
type Order struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`

	OrderCode       string `gorm:"column:order_code;uniqueIndex" json:"order_code"`
	PurchaseID      string `gorm:"column:purchase_id;uniqueIndex" json:"purchase_id"`
	PaymentIntentID string `gorm:"column:payment_intent_id;index" json:"payment_intent_id"`

	ClubID   string `gorm:"column:club_id;index" json:"club_id"`
	UserID   string `gorm:"column:user_id;index" json:"user_id"`
	Kind     string `gorm:"column:kind" json:"kind"`
	EventID  string `gorm:"column:event_id" json:"event_id,omitempty"`
	ItemID   string `gorm:"column:item_id" json:"item_id,omitempty"`
	Quantity int64  `gorm:"column:quantity" json:"quantity"`

	Currency       string `gorm:"column:currency" json:"currency"`
	ItemAmount     int64  `gorm:"column:item_amount" json:"item_amount"`
	ShippingAmount int64  `gorm:"column:shipping_amount" json:"shipping_amount"`
	Discount       int64  `gorm:"column:discount" json:"discount"`
	TaxableAmount  int64  `gorm:"column:taxable_amount" json:"taxable_amount"`
	Tax            int64  `gorm:"column:tax" json:"tax"`
	ProcessorFee   int64  `gorm:"column:processor_fee" json:"processor_fee"`
	Commission     int64  `gorm:"column:commission" json:"commission"`
	Total          int64  `gorm:"column:total" json:"total"`
	ClubNet        int64  `gorm:"column:club_net" json:"club_net"`

	Status     OrderStatus `gorm:"column:status" json:"status"`
	RefundedAt *time.Time  `gorm:"column:refunded_at" json:"refunded_at,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}
