package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/voicemeter/internal/client/domain"
	"gorm.io/gorm"
)

const selectColumns = `id, name, email, voice_agent_id, plan_type, plan_rank, minute_allowance,
	price_per_minute, agent_status, paused_reason, usage_invoice_due_at, usage_invoice_sent_at,
	last_usage_billed_at, renewal_status, next_billing_date, gateway_customer_id,
	gateway_subscription_id, gateway_address_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.BillingRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.BillingRecord, error) {
	var record domain.BillingRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM clients WHERE id = ? LIMIT 1`,
		id,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, nil
	}
	return &record, nil
}

// FindByIDForUpdate takes a row lock on dialects that support it.
func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id string) (*domain.BillingRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM clients WHERE id = ?`
	if db.Dialector.Name() == "postgres" {
		query += ` FOR UPDATE`
	}

	var record domain.BillingRecord
	err := db.WithContext(ctx).Raw(query, id).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) FindByVoiceAgentID(ctx context.Context, db *gorm.DB, agentID string) (*domain.BillingRecord, error) {
	var record domain.BillingRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM clients WHERE voice_agent_id = ? LIMIT 1`,
		agentID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) ApplyPlan(ctx context.Context, db *gorm.DB, id string, update domain.PlanUpdate, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE clients
		 SET plan_type = ?, plan_rank = ?, minute_allowance = ?, price_per_minute = ?, updated_at = ?
		 WHERE id = ?`,
		update.PlanType,
		update.Rank,
		update.MinuteAllowance,
		update.PricePerMinute,
		now,
		id,
	).Error
}

func (r *repo) ClearUsageDue(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE clients
		 SET usage_invoice_due_at = NULL, updated_at = ?
		 WHERE id = ? AND usage_invoice_due_at IS NOT NULL`,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// OpenUsageDue sets the due date only when no debt is outstanding, so an
// earlier deadline is never pushed back.
func (r *repo) OpenUsageDue(ctx context.Context, db *gorm.DB, id string, dueAt time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE clients
		 SET usage_invoice_due_at = ?, updated_at = ?
		 WHERE id = ? AND usage_invoice_due_at IS NULL`,
		dueAt,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AdvanceLastUsageBilled moves the billed-through mark forward only, and
// never past now.
func (r *repo) AdvanceLastUsageBilled(ctx context.Context, db *gorm.DB, id string, billedThrough time.Time, now time.Time) (bool, error) {
	if billedThrough.After(now) {
		billedThrough = now
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE clients
		 SET last_usage_billed_at = ?, updated_at = ?
		 WHERE id = ? AND (last_usage_billed_at IS NULL OR last_usage_billed_at < ?)`,
		billedThrough,
		now,
		id,
		billedThrough,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Pause engages the killswitch only for an active client whose due date has passed.
func (r *repo) Pause(ctx context.Context, db *gorm.DB, id string, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE clients
		 SET agent_status = ?, paused_reason = ?, updated_at = ?
		 WHERE id = ?
		   AND agent_status = ?
		   AND usage_invoice_due_at IS NOT NULL
		   AND usage_invoice_due_at <= ?`,
		domain.AgentPaused,
		reason,
		now,
		id,
		domain.AgentActive,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Resume(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE clients
		 SET agent_status = ?, paused_reason = NULL, updated_at = ?
		 WHERE id = ? AND agent_status = ?`,
		domain.AgentActive,
		now,
		id,
		domain.AgentPaused,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkUsageInvoiceSent(ctx context.Context, db *gorm.DB, id string, sentAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE clients SET usage_invoice_sent_at = ?, updated_at = ? WHERE id = ?`,
		sentAt,
		sentAt,
		id,
	).Error
}

// SyncCustomer writes only the identity fields that differ from the stored row.
func (r *repo) SyncCustomer(ctx context.Context, db *gorm.DB, id string, sync domain.CustomerSync, now time.Time) (bool, error) {
	current, err := r.FindByID(ctx, db, id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, domain.ErrClientNotFound
	}

	changes := map[string]any{}
	if email := strings.TrimSpace(sync.Email); email != "" && !equalPtr(current.Email, email) {
		changes["email"] = email
	}
	if customerID := strings.TrimSpace(sync.GatewayCustomerID); customerID != "" && !equalPtr(current.GatewayCustomerID, customerID) {
		changes["gateway_customer_id"] = customerID
	}
	if addressID := strings.TrimSpace(sync.GatewayAddressID); addressID != "" && !equalPtr(current.GatewayAddressID, addressID) {
		changes["gateway_address_id"] = addressID
	}
	if len(changes) == 0 {
		return false, nil
	}
	changes["updated_at"] = now

	err = db.WithContext(ctx).
		Model(&domain.BillingRecord{}).
		Where("id = ?", id).
		Updates(changes).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) SyncSubscription(ctx context.Context, db *gorm.DB, id string, sync domain.SubscriptionSync, now time.Time) error {
	changes := map[string]any{
		"updated_at": now,
	}
	if status := strings.TrimSpace(sync.RenewalStatus); status != "" {
		changes["renewal_status"] = status
	}
	if sync.NextBillingDate != nil {
		changes["next_billing_date"] = sync.NextBillingDate.UTC()
	}
	if subscriptionID := strings.TrimSpace(sync.GatewaySubscriptionID); subscriptionID != "" {
		changes["gateway_subscription_id"] = subscriptionID
	}
	if customerID := strings.TrimSpace(sync.GatewayCustomerID); customerID != "" {
		changes["gateway_customer_id"] = customerID
	}

	res := db.WithContext(ctx).
		Model(&domain.BillingRecord{}).
		Where("id = ?", id).
		Updates(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrClientNotFound
	}
	return nil
}

// ListWithUsageDue pages client ids that carry a usage due date, in id order.
func (r *repo) ListWithUsageDue(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM clients
		 WHERE usage_invoice_due_at IS NOT NULL AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListBillable pages clients with a positive overage price, in id order.
func (r *repo) ListBillable(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]domain.BillingRecord, error) {
	var records []domain.BillingRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM clients
		 WHERE price_per_minute > 0 AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		afterID,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func equalPtr(current *string, value string) bool {
	return current != nil && *current == value
}
