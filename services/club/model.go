package club

import (
	"time"
)

type ClubStatus string

var (
	StatusActive    ClubStatus = "active"
	StatusSuspended ClubStatus = "suspended"
	StatusArchived  ClubStatus = "archived"
)

func (s ClubStatus) String() string {
	switch s {
	case StatusActive, StatusSuspended, StatusArchived:
		return string(s)
	default:
		return ""
	}
}

type MemberRole string

var (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

func (r MemberRole) String() string {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return string(r)
	default:
		return ""
	}
}

type Club struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
	Name            string     `gorm:"column:name" json:"name"`
	Slug            string     `gorm:"column:slug;uniqueIndex" json:"slug"`
	Description     string     `gorm:"column:description" json:"description,omitempty"`
	OwnerID         string     `gorm:"column:owner_id" json:"owner_id"`
	Status          ClubStatus `gorm:"column:status" json:"status"`
	Currency        string     `gorm:"column:currency" json:"currency"`
	CommissionBps   int64      `gorm:"column:commission_bps" json:"commission_bps"`
	TaxBps          int64      `gorm:"column:tax_bps" json:"tax_bps"`
	PayoutAccountID string     `gorm:"column:payout_account_id" json:"payout_account_id,omitempty"`
	PayoutsEnabled  bool       `gorm:"column:payouts_enabled" json:"payouts_enabled"`
	MemberCount     int64      `gorm:"column:member_count" json:"member_count"`
}

type Membership struct {
	ID        string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt time.Time  `gorm:"column:created_at" json:"created_at"`
	ClubID    string     `gorm:"column:club_id;uniqueIndex:idx_membership_club_user" json:"club_id"`
	UserID    string     `gorm:"column:user_id;uniqueIndex:idx_membership_club_user" json:"user_id"`
	Role      MemberRole `gorm:"column:role" json:"role"`
}

type RewardPolicyStatus string

var (
	PolicyEnabled  RewardPolicyStatus = "enabled"
	PolicyDisabled RewardPolicyStatus = "disabled"
)

// RewardPolicy awards purchase credits when its CEL expression evaluates
// true against the order attributes.
type RewardPolicy struct {
	ID            string             `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt     time.Time          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"column:updated_at" json:"updated_at"`
	ClubID        string             `gorm:"column:club_id;index" json:"club_id"`
	Name          string             `gorm:"column:name" json:"name"`
	Expression    string             `gorm:"column:expression" json:"expression"`
	EarnBps       int64              `gorm:"column:earn_bps" json:"earn_bps"`
	ExpiresInDays int                `gorm:"column:expires_in_days" json:"expires_in_days"`
	Status        RewardPolicyStatus `gorm:"column:status" json:"status"`
}
