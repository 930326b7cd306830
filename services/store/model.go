package store

import (
	"time"
)

type ItemStatus string

var (
	StatusActive   ItemStatus = "active"
	StatusHidden   ItemStatus = "hidden"
	StatusArchived ItemStatus = "archived"
)

func (s ItemStatus) String() string {
	switch s {
	case StatusActive, StatusHidden, StatusArchived:
		return string(s)
	default:
		return ""
	}
}

// Item stock of -1 means untracked inventory.
type Item struct {
	ID             string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at" json:"updated_at"`
	ClubID         string     `gorm:"column:club_id;index" json:"club_id"`
	Name           string     `gorm:"column:name" json:"name"`
	Description    string     `gorm:"column:description" json:"description,omitempty"`
	ImageURL       string     `gorm:"column:image_url" json:"image_url,omitempty"`
	PriceAmount    int64      `gorm:"column:price_amount" json:"price_amount"`
	ShippingAmount int64      `gorm:"column:shipping_amount" json:"shipping_amount"`
	Currency       string     `gorm:"column:currency" json:"currency"`
	Stock          int64      `gorm:"column:stock" json:"stock"`
	SoldCount      int64      `gorm:"column:sold_count" json:"sold_count"`
	Status         ItemStatus `gorm:"column:status" json:"status"`
}

func (i *Item) TracksStock() bool {
	return i.Stock >= 0
}

func (i *Item) InStock() bool {
	return !i.TracksStock() || i.Stock > 0
}
