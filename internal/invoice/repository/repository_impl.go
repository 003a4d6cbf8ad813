package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voicemeter/internal/invoice/domain"
	"gorm.io/gorm"
)

const selectColumns = `id, event_id, client_id, window_from, window_to, minutes, price_per_minute,
	amount, currency, status, due_at, charge_attempted_at, charged_at, gateway_transaction_id,
	paid_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.UsageInvoice) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO usage_invoices (
			id, event_id, client_id, window_from, window_to, minutes, price_per_minute,
			amount, currency, status, due_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		invoice.ID,
		invoice.EventID,
		invoice.ClientID,
		invoice.WindowFrom,
		invoice.WindowTo,
		invoice.Minutes,
		invoice.PricePerMinute,
		invoice.Amount,
		invoice.Currency,
		invoice.Status,
		invoice.DueAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*domain.UsageInvoice, error) {
	var invoice domain.UsageInvoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM usage_invoices WHERE event_id = ? LIMIT 1`,
		eventID,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) MarkOpenPaid(ctx context.Context, db *gorm.DB, clientID string, paidAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE usage_invoices
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE client_id = ? AND status = ?`,
		domain.StatusPaid,
		paidAt,
		paidAt,
		clientID,
		domain.StatusOpen,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) LatestWindowEnd(ctx context.Context, db *gorm.DB, clientID string) (*time.Time, error) {
	var row struct {
		ID       snowflake.ID
		WindowTo time.Time
	}
	err := db.WithContext(ctx).Raw(
		`SELECT id, window_to FROM usage_invoices
		 WHERE client_id = ?
		 ORDER BY window_to DESC
		 LIMIT 1`,
		clientID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	end := row.WindowTo.UTC()
	return &end, nil
}

func (r *repo) ListChargeable(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]domain.UsageInvoice, error) {
	var invoices []domain.UsageInvoice
	err := db.WithContext(ctx).Raw(
		`SELECT i.id, i.event_id, i.client_id, i.window_from, i.window_to, i.minutes,
			i.price_per_minute, i.amount, i.currency, i.status, i.due_at,
			i.charge_attempted_at, i.charged_at, i.gateway_transaction_id, i.paid_at,
			i.created_at, i.updated_at
		 FROM usage_invoices i
		 JOIN clients c ON c.id = i.client_id
		 WHERE i.status = ?
		   AND i.charged_at IS NULL
		   AND i.charge_attempted_at IS NULL
		   AND c.usage_invoice_due_at IS NOT NULL
		   AND i.id > ?
		 ORDER BY i.id ASC
		 LIMIT ?`,
		domain.StatusOpen,
		afterID,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ClaimCharge(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE usage_invoices
		 SET charge_attempted_at = ?, updated_at = ?
		 WHERE id = ?
		   AND status = ?
		   AND charged_at IS NULL
		   AND charge_attempted_at IS NULL`,
		at,
		at,
		id,
		domain.StatusOpen,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ReleaseCharge(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_invoices
		 SET charge_attempted_at = NULL, updated_at = ?
		 WHERE id = ?
		   AND charged_at IS NULL
		   AND charge_attempted_at IS NOT NULL`,
		at,
		id,
	).Error
}

// MarkCharged records a successful gateway charge once.
func (r *repo) MarkCharged(ctx context.Context, db *gorm.DB, id snowflake.ID, chargedAt time.Time, transactionID string) (bool, error) {
	var txn *string
	if transactionID != "" {
		txn = &transactionID
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE usage_invoices
		 SET charged_at = ?, gateway_transaction_id = ?, updated_at = ?
		 WHERE id = ? AND charged_at IS NULL`,
		chargedAt,
		txn,
		chargedAt,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
