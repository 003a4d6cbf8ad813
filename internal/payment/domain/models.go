package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/voicemeter/internal/plan/domain"
	"gorm.io/datatypes"
)

// PaymentRecord is written once per gateway event and never updated.
type PaymentRecord struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	ExternalEventID  string            `gorm:"type:text;not null;uniqueIndex" json:"external_event_id"`
	ClientID         string            `gorm:"type:text;not null;index:ix_payments_client_paid,priority:1" json:"client_id"`
	Amount           int64             `gorm:"not null" json:"amount"`
	Currency         string            `gorm:"type:text;not null" json:"currency"`
	Plan             string            `gorm:"type:text;not null" json:"plan"`
	Kind             string            `gorm:"type:text;not null" json:"kind"`
	PaidAt           time.Time         `gorm:"not null;index:ix_payments_client_paid,priority:2" json:"paid_at"`
	GatewayInvoiceID *string           `json:"gateway_invoice_id,omitempty"`
	GatewayOrderID   *string           `json:"gateway_order_id,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
}

func (PaymentRecord) TableName() string { return "payments" }

// ProcessRequest is a classified, verified gateway payment. Amount and
// PlanAmount are in major currency units.
type ProcessRequest struct {
	ClientID         string
	ExternalEventID  string
	Amount           decimal.Decimal
	Currency         string
	Plan             plandomain.PlanKey
	PlanAmount       decimal.Decimal
	MinuteAllowance  int64
	PricePerMinute   decimal.Decimal
	Rank             int
	Kind             plandomain.PaymentKind
	PaidAt           time.Time
	GatewayInvoiceID string
	GatewayOrderID   string
	Metadata         map[string]any
}

type Result struct {
	// Duplicate is set when the event id was already recorded. Nothing
	// else was changed and PaymentID points at the first recording.
	Duplicate       bool
	PaymentID       snowflake.ID
	Kind            plandomain.PaymentKind
	UsageCleared    bool
	InvoicesSettled int64
	Resumed         bool
}
