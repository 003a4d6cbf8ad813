package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const SourceCalls = "calls"

// Entry is one metered voice call. Rows are keyed by the platform call id.
type Entry struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClientID             string          `gorm:"type:text;not null;index:ix_usage_entries_client_created,priority:1" json:"client_id"`
	ExternalCallID       string          `gorm:"type:text;not null;uniqueIndex" json:"external_call_id"`
	AssistantID          *string         `json:"assistant_id,omitempty"`
	DurationSeconds      int64           `gorm:"not null;default:0" json:"duration_seconds"`
	DurationMinutesExact decimal.Decimal `gorm:"type:numeric(12,4);not null;default:0" json:"duration_minutes_exact"`
	Minutes              int64           `gorm:"not null;default:0" json:"minutes"`
	StartTime            *time.Time      `json:"start_time,omitempty"`
	EndTime              *time.Time      `json:"end_time,omitempty"`
	SuccessfulOutcome    bool            `gorm:"not null;default:false" json:"successful_outcome"`
	Source               string          `gorm:"type:text;not null;default:calls" json:"source"`
	CreatedAt            time.Time       `gorm:"not null;index:ix_usage_entries_client_created,priority:2" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"not null" json:"updated_at"`
}

func (Entry) TableName() string { return "usage_entries" }

// RecordRequest is a single call observation from the voice platform.
type RecordRequest struct {
	ClientID          string
	ExternalCallID    string
	AssistantID       string
	DurationSeconds   int64
	DurationMillis    int64
	StartTime         *time.Time
	EndTime           *time.Time
	SuccessfulOutcome bool
	Source            string
}
