package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
	EntryExpire EntryType = "EXPIRE"
	EntryRevert EntryType = "REVERT"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryCredit, EntryDebit, EntryExpire, EntryRevert:
		return true
	}
	return false
}

type Balance struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	ClubID    string    `gorm:"column:club_id;uniqueIndex:idx_balance_club_user" json:"club_id"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_balance_club_user" json:"user_id"`
	Balance   int64     `gorm:"column:balance" json:"balance"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// CreditPool tracks the unspent remainder of each CREDIT entry so debits can
// consume credits oldest-first and expiry can sweep what is left.
type CreditPool struct {
	ID            string     `gorm:"column:id;primaryKey" json:"id"`
	LedgerEntryID string     `gorm:"column:ledger_entry_id;index" json:"ledger_entry_id"`
	ClubID        string     `gorm:"column:club_id;index:idx_pool_club_user" json:"club_id"`
	UserID        string     `gorm:"column:user_id;index:idx_pool_club_user" json:"user_id"`
	Remaining     int64      `gorm:"column:remaining" json:"remaining"`
	ExpiresAt     *time.Time `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	ConsumedAt    *time.Time `gorm:"column:consumed_at" json:"consumed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
}

type LedgerEntry struct {
	ID            string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updated_at"`
	ClubID        string         `gorm:"column:club_id;uniqueIndex:idx_ledger_club_reference" json:"club_id"`
	UserID        string         `gorm:"column:user_id;index" json:"user_id"`
	Type          EntryType      `gorm:"column:type" json:"type"`
	Amount        int64          `gorm:"column:amount" json:"amount"`
	TransactionID string         `gorm:"column:transaction_id" json:"transaction_id"`
	ReferenceID   string         `gorm:"column:reference_id;uniqueIndex:idx_ledger_club_reference" json:"reference_id"`
	Description   string         `gorm:"column:description" json:"description,omitempty"`
	PreviousHash  string         `gorm:"column:previous_hash" json:"previous_hash"`
	Hash          string         `gorm:"column:hash" json:"hash"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

type LedgerParams struct {
	LedgerID      string
	ClubID        string
	UserID        string
	Type          EntryType
	Amount        int64
	ReferenceID   string
	TransactionID string
	Description   string
	PreviousHash  string
	Metadata      datatypes.JSON
}

func NewLedgerEntry(p LedgerParams) *LedgerEntry {
	now := time.Now()
	return &LedgerEntry{
		ID:            p.LedgerID,
		CreatedAt:     now,
		UpdatedAt:     now,
		ClubID:        p.ClubID,
		UserID:        p.UserID,
		Type:          p.Type,
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		PreviousHash:  p.PreviousHash,
		Metadata:      p.Metadata,
	}
}

// HashFields excludes timestamps: column precision differs across the
// supported dialects, so a stored entry would not rehash to the same value
// after a round trip.
func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":             m.ID,
		"club_id":        m.ClubID,
		"user_id":        m.UserID,
		"type":           string(m.Type),
		"amount":         fmt.Sprintf("%d", m.Amount),
		"transaction_id": m.TransactionID,
		"reference_id":   m.ReferenceID,
		"description":    m.Description,
		"previous_hash":  m.PreviousHash,
	}
}

func (l *LedgerEntry) GenerateHash() string {
	fields := l.HashFields()
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}

func GenerateTransactionID() (string, error) {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3) // 3 bytes = 6 hex chars
	_, err := rand.Read(r)
	if err != nil {
		return "", err
	}
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("%s-%s", datePart, randomPart), nil
}
