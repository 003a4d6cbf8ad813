package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository mutates client billing records. Every state transition is a
// conditional update; the bool results report whether a row changed.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *BillingRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*BillingRecord, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id string) (*BillingRecord, error)
	FindByVoiceAgentID(ctx context.Context, db *gorm.DB, agentID string) (*BillingRecord, error)

	ApplyPlan(ctx context.Context, db *gorm.DB, id string, update PlanUpdate, now time.Time) error
	ClearUsageDue(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error)
	OpenUsageDue(ctx context.Context, db *gorm.DB, id string, dueAt time.Time, now time.Time) (bool, error)
	AdvanceLastUsageBilled(ctx context.Context, db *gorm.DB, id string, billedThrough time.Time, now time.Time) (bool, error)
	Pause(ctx context.Context, db *gorm.DB, id string, reason string, now time.Time) (bool, error)
	Resume(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error)
	MarkUsageInvoiceSent(ctx context.Context, db *gorm.DB, id string, sentAt time.Time) error
	SyncCustomer(ctx context.Context, db *gorm.DB, id string, sync CustomerSync, now time.Time) (bool, error)
	SyncSubscription(ctx context.Context, db *gorm.DB, id string, sync SubscriptionSync, now time.Time) error

	ListWithUsageDue(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]string, error)
	ListBillable(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]BillingRecord, error)
}
