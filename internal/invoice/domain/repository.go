package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert stores the invoice and reports false when the event id exists.
	Insert(ctx context.Context, db *gorm.DB, invoice *UsageInvoice) (bool, error)
	FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*UsageInvoice, error)
	// MarkOpenPaid settles every open invoice of the client.
	MarkOpenPaid(ctx context.Context, db *gorm.DB, clientID string, paidAt time.Time) (int64, error)
	LatestWindowEnd(ctx context.Context, db *gorm.DB, clientID string) (*time.Time, error)
	// ListChargeable pages open, uncharged invoices whose client still owes.
	ListChargeable(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]UsageInvoice, error)
	// ClaimCharge reserves the invoice for one gateway attempt. False means
	// another pass holds it or it is already charged.
	ClaimCharge(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// ReleaseCharge drops an uncharged claim after a rejected attempt.
	ReleaseCharge(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkCharged(ctx context.Context, db *gorm.DB, id snowflake.ID, chargedAt time.Time, transactionID string) (bool, error)
}
