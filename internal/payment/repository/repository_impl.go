package repository

import (
	"context"

	"github.com/smallbiznis/voicemeter/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, external_event_id, client_id, amount, currency, plan, kind,
			paid_at, gateway_invoice_id, gateway_order_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_event_id) DO NOTHING`,
		record.ID,
		record.ExternalEventID,
		record.ClientID,
		record.Amount,
		record.Currency,
		record.Plan,
		record.Kind,
		record.PaidAt,
		record.GatewayInvoiceID,
		record.GatewayOrderID,
		record.Metadata,
		record.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByExternalEventID(ctx context.Context, db *gorm.DB, eventID string) (*domain.PaymentRecord, error) {
	var record domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, external_event_id, client_id, amount, currency, plan, kind,
			paid_at, gateway_invoice_id, gateway_order_id, metadata, created_at
		 FROM payments
		 WHERE external_event_id = ?
		 LIMIT 1`,
		eventID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
