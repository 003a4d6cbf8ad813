package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentStatus is the killswitch state of a client's voice agent.
type AgentStatus string

const (
	AgentActive AgentStatus = "active"
	AgentPaused AgentStatus = "paused"
)

const PausedReasonUsageUnpaid = "usage_unpaid"

// BillingRecord is the mutable billing aggregate of one paying client.
type BillingRecord struct {
	ID                    string          `gorm:"primaryKey;type:text" json:"id"`
	Name                  string          `gorm:"not null;default:''" json:"name"`
	Email                 *string         `json:"email,omitempty"`
	VoiceAgentID          *string         `gorm:"uniqueIndex" json:"voice_agent_id,omitempty"`
	PlanType              string          `gorm:"column:plan_type;not null;default:none" json:"plan_type"`
	PlanRank              int             `gorm:"column:plan_rank;not null;default:0" json:"plan_rank"`
	MinuteAllowance       int64           `gorm:"not null;default:0" json:"minute_allowance"`
	PricePerMinute        decimal.Decimal `gorm:"type:numeric(10,4);not null;default:0" json:"price_per_minute"`
	AgentStatus           AgentStatus     `gorm:"type:text;not null;default:active" json:"agent_status"`
	PausedReason          *string         `json:"paused_reason,omitempty"`
	UsageInvoiceDueAt     *time.Time      `gorm:"index" json:"usage_invoice_due_at,omitempty"`
	UsageInvoiceSentAt    *time.Time      `json:"usage_invoice_sent_at,omitempty"`
	LastUsageBilledAt     *time.Time      `json:"last_usage_billed_at,omitempty"`
	RenewalStatus         *string         `json:"renewal_status,omitempty"`
	NextBillingDate       *time.Time      `json:"next_billing_date,omitempty"`
	GatewayCustomerID     *string         `json:"gateway_customer_id,omitempty"`
	GatewaySubscriptionID *string         `json:"gateway_subscription_id,omitempty"`
	GatewayAddressID      *string         `json:"gateway_address_id,omitempty"`
	CreatedAt             time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"not null" json:"updated_at"`
}

func (BillingRecord) TableName() string { return "clients" }

// IsPaused reports whether the killswitch is engaged.
func (r BillingRecord) IsPaused() bool {
	return r.AgentStatus == AgentPaused
}

// HasUsageDebt reports whether an unpaid usage invoice exists.
func (r BillingRecord) HasUsageDebt() bool {
	return r.UsageInvoiceDueAt != nil
}

// PlanUpdate carries the entitlements applied by a plan payment.
type PlanUpdate struct {
	PlanType        string
	Rank            int
	MinuteAllowance int64
	PricePerMinute  decimal.Decimal
}

// CustomerSync carries payer identity reported by the gateway.
type CustomerSync struct {
	Email             string
	GatewayCustomerID string
	GatewayAddressID  string
}

// SubscriptionSync carries the subscription state reported by the gateway.
type SubscriptionSync struct {
	RenewalStatus         string
	NextBillingDate       *time.Time
	GatewaySubscriptionID string
	GatewayCustomerID     string
}
