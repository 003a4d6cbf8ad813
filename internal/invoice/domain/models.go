package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOpen Status = "open"
	StatusPaid Status = "paid"
)

// UsageInvoice is a finalized overage window. EventID makes the window
// idempotent: a second finalization of the same id inserts nothing.
type UsageInvoice struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	EventID              string          `gorm:"type:text;not null;uniqueIndex" json:"event_id"`
	ClientID             string          `gorm:"type:text;not null;index:ix_usage_invoices_client_status,priority:1" json:"client_id"`
	WindowFrom           time.Time       `gorm:"not null" json:"window_from"`
	WindowTo             time.Time       `gorm:"not null" json:"window_to"`
	Minutes              decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"minutes"`
	PricePerMinute       decimal.Decimal `gorm:"type:numeric(10,4);not null" json:"price_per_minute"`
	Amount               int64           `gorm:"not null" json:"amount"`
	Currency             string          `gorm:"type:text;not null" json:"currency"`
	Status               Status          `gorm:"type:text;not null;default:open;index:ix_usage_invoices_client_status,priority:2" json:"status"`
	DueAt                time.Time       `gorm:"not null" json:"due_at"`
	ChargeAttemptedAt    *time.Time      `json:"charge_attempted_at,omitempty"`
	ChargedAt            *time.Time      `json:"charged_at,omitempty"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	CreatedAt            time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"not null" json:"updated_at"`
}

func (UsageInvoice) TableName() string { return "usage_invoices" }

// AmountDecimal returns the invoice amount in major currency units.
func (i UsageInvoice) AmountDecimal() decimal.Decimal {
	return decimal.New(i.Amount, -2)
}

type Outcome string

const (
	OutcomeFinalized Outcome = "finalized"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeZeroUsage Outcome = "zero_usage"
)

type FinalizeRequest struct {
	ClientID       string
	EventID        string
	From           time.Time
	To             time.Time
	PricePerMinute decimal.Decimal
	GraceDays      int
	Currency       string
}

type FinalizeResult struct {
	Outcome Outcome
	Minutes decimal.Decimal
	Amount  decimal.Decimal
	// DueAt is the client's effective due date after finalization. An
	// earlier outstanding due date is kept.
	DueAt   *time.Time
	Invoice *UsageInvoice
}
