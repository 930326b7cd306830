package checkout

import (
	"time"
)

type PurchaseKind string

const (
	KindEvent PurchaseKind = "event"
	KindStore PurchaseKind = "store"
)

type PurchaseStatus string

const (
	StatusPending   PurchaseStatus = "pending"
	StatusSucceeded PurchaseStatus = "succeeded"
	StatusFailed    PurchaseStatus = "failed"
)

// Purchase is the pending checkout, frozen with the full fee breakdown at
// intent-creation time. The webhook flips it to succeeded or failed.
type Purchase struct {
	ID              string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt       time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at" json:"updated_at"`
	ClubID          string         `gorm:"column:club_id;index" json:"club_id"`
	UserID          string         `gorm:"column:user_id;index" json:"user_id"`
	Kind            PurchaseKind   `gorm:"column:kind" json:"kind"`
	EventID         string         `gorm:"column:event_id" json:"event_id,omitempty"`
	ItemID          string         `gorm:"column:item_id" json:"item_id,omitempty"`
	Quantity        int64          `gorm:"column:quantity" json:"quantity"`
	Currency        string         `gorm:"column:currency" json:"currency"`
	CreditApplied   int64          `gorm:"column:credit_applied" json:"credit_applied"`
	ItemAmount      int64          `gorm:"column:item_amount" json:"item_amount"`
	ShippingAmount  int64          `gorm:"column:shipping_amount" json:"shipping_amount"`
	Discount        int64          `gorm:"column:discount" json:"discount"`
	TaxableAmount   int64          `gorm:"column:taxable_amount" json:"taxable_amount"`
	Tax             int64          `gorm:"column:tax" json:"tax"`
	ProcessorFee    int64          `gorm:"column:processor_fee" json:"processor_fee"`
	Commission      int64          `gorm:"column:commission" json:"commission"`
	Total           int64          `gorm:"column:total" json:"total"`
	ClubNet         int64          `gorm:"column:club_net" json:"club_net"`
	PaymentIntentID string         `gorm:"column:payment_intent_id;uniqueIndex" json:"payment_intent_id"`
	Status          PurchaseStatus `gorm:"column:status" json:"status"`
}

func (p *Purchase) ApplySettlement(s Settlement) {
	p.ItemAmount = s.ItemAmount
	p.ShippingAmount = s.ShippingAmount
	p.Discount = s.Discount
	p.TaxableAmount = s.TaxableAmount
	p.Tax = s.Tax
	p.ProcessorFee = s.ProcessorFee
	p.Commission = s.Commission
	p.Total = s.Total
	p.ClubNet = s.ClubNet
}
